// Package osproc provides the platform-specific process and file locking
// primitives used by the service lifecycle manager.
package osproc
