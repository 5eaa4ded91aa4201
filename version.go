package svcctl

// Version is the current version of the go-svcctl library
const Version = "1.0.0"

// VersionInfo contains detailed version information
type VersionInfo struct {
	// Version is the semantic version
	Version string
	// RecordFormat is the version of the persisted state record layout
	RecordFormat int
	// Backend is the default backend on this platform
	Backend BackendKind
}

// GetVersion returns the current version information
func GetVersion() VersionInfo {
	return VersionInfo{
		Version:      Version,
		RecordFormat: 1,
		Backend:      DefaultBackendKind(),
	}
}
