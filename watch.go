package svcctl

// WatchEvent represents a change of a service's state record
type WatchEvent struct {
	State ServiceState
	Err   error
}

// WatchCleanupFunc stops a watch and waits for its goroutines to exit
type WatchCleanupFunc func() error
