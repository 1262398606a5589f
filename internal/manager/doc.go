// Package manager is the admission-control core in front of the face
// comparator. It is structured into small files by concern:
//
//   - admission.go: Gate, the bounded slot pool requests wait on.
//   - warmup.go: Warmup, one-time comparator initialization with retry.
//   - dispatch.go: Dispatcher, the worker pool with per-job deadlines,
//     abandoned-job replacement and periodic worker refresh.
//   - resource.go: ResourceMonitor, memory sampling and reclamation.
//   - pipeline.go: Pipeline, the per-request state machine tying the above
//     together, and Classify.
//   - manager.go, config.go: Manager and the verification operations.
//   - status_report.go: /status snapshot.
//   - errors.go: error types and predicates (IsTooBusy, IsTimeout, ...).
//   - events.go, eventpub_memory.go: lifecycle event publishing.
//   - metrics.go: Prometheus collectors.
//
// A request runs: entry resource check, gate acquire (Busy), warm-up
// (Unavailable), dispatch (Completed, Failed or TimedOut), slot release,
// exit resource check. Release and the exit check run on every path.
package manager
