// Package engine owns every UCI engine subprocess the worker runs. It is
// structured into small files by concern:
//
//   - uci.go: line codec for the UCI protocol (info, bestmove, option, go).
//   - process.go: Process interface, exec-backed spawner, graceful stop.
//   - handle.go: Handle, one engine process with handshake and Search.
//   - pool.go: Pool of slots bounded by the core budget; Acquire/Release.
//   - restart.go: asynchronous respawn of dead slots.
//   - status_report.go: Snapshot projection for /status.
//   - events.go, eventpub_memory.go: lifecycle events.
//   - errors.go: error types and Is* helpers.
//
// No other package spawns or terminates engine processes.
package engine
