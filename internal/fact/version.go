package fact

// Version constants for the persisted record schema and the core engine.
const (
	// SchemaVersion is the persisted record schema version.
	SchemaVersion = "1"

	// CoreVersion is the intelligence core version.
	CoreVersion = "0.1.0"
)
