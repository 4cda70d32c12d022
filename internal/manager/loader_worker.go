package manager

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"mlserve/internal/hardware"
	"mlserve/internal/logging"
	"mlserve/pkg/types"
)

const (
	workerStopGrace    = 2 * time.Second
	workerPollInterval = 100 * time.Millisecond
	stderrTailBytes    = 4096
)

// WorkerConfig configures the worker subprocess loader.
type WorkerConfig struct {
	Bin       string
	Host      string
	PortStart int
	PortEnd   int
	ExtraArgs []string
	// RequestTimeout bounds a single /predict call when ctx has no deadline.
	RequestTimeout time.Duration
	Publisher      EventPublisher
	Logger         *zerolog.Logger
}

// WorkerLoader spawns one worker process per loaded model. The worker serves
// GET /healthz and POST /predict on the port it is given.
type WorkerLoader struct {
	cfg        WorkerConfig
	httpClient *http.Client
	publisher  EventPublisher
	log        zerolog.Logger
}

// NewWorkerLoader constructs a subprocess-backed loader.
func NewWorkerLoader(cfg WorkerConfig) *WorkerLoader {
	cfg.Host = strings.TrimSpace(cfg.Host)
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 120 * time.Second
	}
	// Intentionally set Timeout=0: all calls must use context-based timeouts.
	return &WorkerLoader{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 0},
		publisher:  publisherOrNop(cfg.Publisher),
		log:        logging.OrNop(cfg.Logger).With().Str("component", "worker").Logger(),
	}
}

// workerArgs builds the worker command line, including the per-type
// optimisation flags.
func (l *WorkerLoader) workerArgs(d types.ModelDescriptor, dev hardware.Device, port int) []string {
	args := []string{
		"--model", d.Path,
		"--task", string(d.Type),
		"--device", dev.String(),
		"--host", l.cfg.Host,
		"--port", strconv.Itoa(port),
	}
	if dev.IsGPU() {
		args = append(args, "--fp16")
	}
	switch d.Type {
	case types.ModelTypeMotionDiffusion:
		args = append(args, "--attention=sdpa")
	case types.ModelTypeMotionVAE:
		args = append(args, "--eval")
	}
	return append(args, l.cfg.ExtraArgs...)
}

func (l *WorkerLoader) Load(ctx context.Context, req LoadRequest) (Handle, error) {
	d := req.Descriptor
	if strings.TrimSpace(l.cfg.Bin) == "" {
		return nil, errors.New("worker binary not configured")
	}
	if strings.TrimSpace(d.Path) == "" {
		return nil, errors.New("model path is empty")
	}
	var port int
	var err error
	if l.cfg.PortStart > 0 && l.cfg.PortEnd >= l.cfg.PortStart {
		port, err = pickPortInRange(l.cfg.Host, l.cfg.PortStart, l.cfg.PortEnd)
	} else {
		port, err = pickFreePort(l.cfg.Host)
	}
	if err != nil {
		return nil, err
	}
	baseURL := fmt.Sprintf("http://%s:%d", l.cfg.Host, port)

	cmd := exec.Command(l.cfg.Bin, l.workerArgs(d, req.Device, port)...)
	// Captured for diagnostics; the tail is included on failure.
	stderr := &tailBuffer{max: stderrTailBytes}
	cmd.Stderr = stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start worker: %w", err)
	}
	h := &workerHandle{
		l:       l,
		model:   d.Name,
		cmd:     cmd,
		baseURL: baseURL,
		done:    make(chan struct{}),
	}
	go func() {
		h.waitErr = cmd.Wait()
		close(h.done)
	}()
	pid := cmd.Process.Pid
	l.log.Info().Str("event", EventWorkerStart).Str("model", d.Name).Int("pid", pid).Int("port", port).Str("device", req.Device.String()).Msg("worker started")
	l.publisher.Publish(Event{Name: EventWorkerStart, Model: d.Name, Fields: map[string]any{"pid": pid, "host": l.cfg.Host, "port": port}})

	ticker := time.NewTicker(workerPollInterval)
	defer ticker.Stop()
	for {
		mem, ok := l.health(ctx, baseURL)
		if ok {
			h.memBytes = mem
			l.log.Info().Str("event", EventWorkerReady).Str("model", d.Name).Int("pid", pid).Str("url", baseURL).Msg("worker ready")
			l.publisher.Publish(Event{Name: EventWorkerReady, Model: d.Name, Fields: map[string]any{"pid": pid, "url": baseURL}})
			return h, nil
		}
		select {
		case <-h.done:
			l.publisher.Publish(Event{Name: EventWorkerExit, Model: d.Name, Fields: map[string]any{"pid": pid, "before_ready": true}})
			if h.waitErr != nil {
				return nil, fmt.Errorf("worker exited early: %v; stderr tail: %s", h.waitErr, stderr.String())
			}
			return nil, fmt.Errorf("worker exited before ready: %s; stderr tail: %s", baseURL, stderr.String())
		case <-ctx.Done():
			_ = h.stop()
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

type healthResponse struct {
	Status      string `json:"status"`
	MemoryBytes uint64 `json:"memory_bytes"`
}

// health probes GET /healthz once and returns the reported memory usage.
func (l *WorkerLoader) health(ctx context.Context, baseURL string) (uint64, bool) {
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/healthz", nil)
	if err != nil {
		return 0, false
	}
	resp, err := l.httpClient.Do(req)
	if err != nil {
		return 0, false
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, false
	}
	var hr healthResponse
	_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&hr)
	return hr.MemoryBytes, true
}

// workerHandle is a running worker process.
type workerHandle struct {
	l        *WorkerLoader
	model    string
	cmd      *exec.Cmd
	baseURL  string
	memBytes uint64

	done     chan struct{}
	waitErr  error
	stopOnce sync.Once
	stopErr  error
}

type predictRequest struct {
	Input  []byte       `json:"input"`
	Params types.Params `json:"params,omitempty"`
}

func (h *workerHandle) Predict(ctx context.Context, input []byte, params types.Params) (types.Result, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.l.cfg.RequestTimeout)
		defer cancel()
	}
	body, err := json.Marshal(predictRequest{Input: input, Params: params})
	if err != nil {
		return types.Result{}, fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/predict", bytes.NewReader(body))
	if err != nil {
		return types.Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := h.l.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return types.Result{}, ctx.Err()
		}
		return types.Result{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return types.Result{}, fmt.Errorf("worker http error: %s: %s", resp.Status, strings.TrimSpace(string(b)))
	}
	var res types.Result
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return types.Result{}, fmt.Errorf("decode worker response: %w", err)
	}
	return res, nil
}

func (h *workerHandle) MemoryUsage() uint64 { return h.memBytes }

// Cleanup terminates the worker: SIGTERM, then kill after a grace period.
func (h *workerHandle) Cleanup() error { return h.stop() }

func (h *workerHandle) stop() error {
	h.stopOnce.Do(func() {
		select {
		case <-h.done:
			return
		default:
		}
		pid := h.cmd.Process.Pid
		_ = h.cmd.Process.Signal(syscall.SIGTERM)
		select {
		case <-h.done:
		case <-time.After(workerStopGrace):
			if err := h.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
				h.stopErr = fmt.Errorf("kill worker %d: %w", pid, err)
			}
			<-h.done
		}
		h.l.log.Info().Str("event", EventWorkerStop).Str("model", h.model).Int("pid", pid).Msg("worker stopped")
		h.l.publisher.Publish(Event{Name: EventWorkerStop, Model: h.model, Fields: map[string]any{"pid": pid}})
	})
	return h.stopErr
}

func pickPortInRange(host string, start, end int) (int, error) {
	for p := start; p <= end; p++ {
		l, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(p)))
		if err != nil {
			continue
		}
		_ = l.Close()
		return p, nil
	}
	return 0, fmt.Errorf("no free port in range %d-%d", start, end)
}

func pickFreePort(host string) (int, error) {
	l, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if len(t.buf) > t.max {
		t.buf = t.buf[len(t.buf)-t.max:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
