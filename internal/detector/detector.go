package detector

// Detector is a strategy that determines if a service is running.
// Implementations may probe a TCP port or consult the OS socket table.
// It must be safe for concurrent use.
type Detector interface {
	// Alive returns true if the service is detected as running.
	Alive() (bool, error)
	// Describe returns a human-readable description of the detection method.
	Describe() string
}
