// Package manager owns the lifecycle of every configured model: lazy and
// preloaded loading, memory admission, inference with result caching, and
// unloading. It is structured into small files by concern:
//
//   - manager.go: core Manager type, constructor, Initialize, simple getters.
//   - config.go: ManagerConfig and package defaults.
//   - types.go: per-model runtime state.
//   - errors.go: error taxonomy (UnknownModelError, ModelLoadError, ...) and KindOf.
//   - ensure.go: GetModel/LoadModel and the single-flight load path.
//   - admission.go: memory admission before a loader runs.
//   - evict.go: LRU eviction of idle models when EvictIdle is set.
//   - predict.go: Predict with the prediction cache.
//   - unload.go: UnloadModel and Cleanup.
//   - status_report.go: Status/ListModels reporting helpers.
//   - loader*.go: the Loader/Handle contract and its implementations.
//
// Build tags and runtimes:
//
//   - In-process whisper.cpp (speech-to-text): enabled with `-tags=whisper`.
//     Files: loader_whisper.go. A no-CGO stub exists when the tag is not set.
//
//   - In-process llama.cpp (text-generation): enabled with `-tags=llama`.
//     Files: loader_llama.go, llama_cgo.go (linker rpath hints). Stub otherwise.
//
//   - Worker subprocess: any model type, served by a child process speaking
//     a small HTTP protocol (/healthz, /predict). Files: loader_worker.go.
//
//   - Remote: delegates to the remote inference client. Files: loader_remote.go.
//
// Every state transition happens under one manager mutex. Loading, unloading
// and inference run with the mutex released.
package manager
