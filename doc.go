// Package svcctl turns a Go entry point into a background OS service that
// can be installed, started, stopped, queried and registered for boot, the
// same way on POSIX systems and on Windows.
//
// A service is described once and driven by a Manager:
//
//	d, err := svcctl.Register("demo", "Demo service", svcctl.EntryFunc(work), true)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	m, err := svcctl.NewManager()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	if _, err := m.Install(ctx, d); err != nil {
//	    log.Fatal(err)
//	}
//	st, err := m.Start(ctx, "demo")
//	fmt.Println(st) // demo: running (pid 4242)
//
// By default the service process is the current binary re-executed with
// the "run" argument, which hands control to Run:
//
//	if os.Args[1] == "run" {
//	    err = svcctl.Run(ctx, d)
//	}
//
// # Backends
//
// The Manager delegates OS work to a Backend:
//
//   - initscript: spawns the command detached with a pidfile and writes an
//     LSB init script plus rc links for boot
//   - systemd: writes a unit file and drives it with systemctl
//   - windows: registers the service with the Service Control Manager
//
// DefaultBackendKind picks one for the running system.
//
// # State
//
// Each installed service has one JSON record in the state directory. Every
// operation holds an exclusive file lock for the service name, reconciles
// the record with what the backend observes, and persists the result. A
// process that dies without being stopped is reported as StatusFailed on
// the next operation; it is never restarted automatically.
//
// Errors wrap the sentinel values in *OpError, so callers use errors.Is:
//
//	if errors.Is(err, svcctl.ErrStillRunning) {
//	    // stop first
//	}
package svcctl
