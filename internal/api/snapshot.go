package api

// SnapshotProvider is the narrow read interface the dashboard has into
// the engine. The engine publishes an immutable snapshot each tick; the
// returned value is a copy and safe to serialize concurrently.
type SnapshotProvider interface {
	Snapshot() EngineSnapshot
}
