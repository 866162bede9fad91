package tasks

const (
	// DatabaseURLKey is the environment variable which must hold the registry
	// database URL to which we want to connect.
	DatabaseURLKey = "KIWIGLIDER_DATABASE_URL"
)
