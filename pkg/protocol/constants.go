package protocol

// Directory and default constants used throughout tcon.
const (
	// TconDir is the user-level state directory (e.g., ~/.tcon).
	TconDir = ".tcon"

	// DefaultEndpointName is the logical transport name shared by host and worker.
	DefaultEndpointName = "tcon"

	// DefaultAPIHost and DefaultAPIPort address the worker's submission API.
	DefaultAPIHost = "127.0.0.1"
	DefaultAPIPort = 6969

	// WorkerBinary is the executable name the host looks for on PATH.
	WorkerBinary = "tcon"
)
