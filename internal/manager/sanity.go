package manager

import (
	"os"
	"os/exec"

	"mlserve/pkg/types"
)

// RuntimeReport describes which model runtimes this process can use.
type RuntimeReport struct {
	Native      map[types.ModelType]bool `json:"native"`
	WorkerBin   string                   `json:"worker_bin,omitempty"`
	WorkerFound bool                     `json:"worker_found"`
	Error       string                   `json:"error,omitempty"`
}

// CheckRuntimes reports the compiled-in native runtimes and whether the
// worker binary resolves. It does not start anything and is safe to call at
// any time.
func CheckRuntimes(workerBin string) RuntimeReport {
	r := RuntimeReport{Native: NativeRuntimes(), WorkerBin: workerBin}
	if workerBin == "" {
		r.Error = "worker binary not configured"
		return r
	}
	path, err := exec.LookPath(workerBin)
	if err != nil {
		r.Error = err.Error()
		return r
	}
	if fi, err := os.Stat(path); err != nil {
		r.Error = err.Error()
	} else if fi.IsDir() {
		r.Error = "worker path is a directory"
	} else {
		r.WorkerFound = true
		r.WorkerBin = path
	}
	return r
}
