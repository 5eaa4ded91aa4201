package svcctl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"vawter.tech/stopper"
)

// signalNotify and signalStop are variables so tests can inject signals
var (
	signalNotify = signal.Notify
	signalStop   = signal.Stop
)

// DefaultSCMStopWait bounds how long the SCM handler waits for the entry
// point after a stop request
const DefaultSCMStopWait = 30 * time.Second

// Bridge runs an entry point inside the service process and turns the
// platform's stop request into a one-shot stop flag. The entry point sees
// the flag as cancellation of its context.
type Bridge struct {
	name string
	log  zerolog.Logger

	once   sync.Once
	stopCh chan struct{}

	mu     sync.Mutex
	cancel context.CancelFunc
}

// BridgeOption configures a Bridge
type BridgeOption func(*Bridge)

// WithBridgeLogger sets the logger for stop requests
func WithBridgeLogger(l zerolog.Logger) BridgeOption {
	return func(b *Bridge) {
		b.log = l
	}
}

// NewBridge creates a Bridge for the service called name
func NewBridge(name string, opts ...BridgeOption) *Bridge {
	b := &Bridge{
		name:   name,
		log:    zerolog.Nop(),
		stopCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.log = b.log.With().Str("component", "bridge").Str("service", name).Logger()
	return b
}

// RequestStop sets the stop flag. It returns true only for the call that
// set it; later calls are no-ops.
func (b *Bridge) RequestStop() bool {
	set := false
	b.once.Do(func() {
		set = true
		close(b.stopCh)

		b.mu.Lock()
		cancel := b.cancel
		b.mu.Unlock()
		if cancel != nil {
			cancel()
		}
	})
	return set
}

// Stopping returns a channel closed once a stop was requested
func (b *Bridge) Stopping() <-chan struct{} {
	return b.stopCh
}

// IsStopping reports whether a stop was requested
func (b *Bridge) IsStopping() bool {
	select {
	case <-b.stopCh:
		return true
	default:
		return false
	}
}

// Run executes entry until it returns. A stop request cancels the context
// passed to entry; an entry that then returns context.Canceled is treated
// as a clean exit.
func (b *Bridge) Run(ctx context.Context, entry EntryPoint) error {
	if entry == nil {
		return fmt.Errorf("svcctl: service %q has no entry point", b.name)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	b.mu.Lock()
	b.cancel = cancel
	b.mu.Unlock()

	if b.IsStopping() {
		cancel()
	}

	err := b.run(runCtx, entry)
	if err != nil && b.IsStopping() && errors.Is(err, context.Canceled) {
		err = nil
	}
	return err
}

// runWithSignals runs entry in the foreground, setting the stop flag on
// the first termination signal
func (b *Bridge) runWithSignals(ctx context.Context, entry EntryPoint) error {
	sigCh := make(chan os.Signal, 1)
	signalNotify(sigCh, stopSignals...)
	defer signalStop(sigCh)

	sctx := stopper.WithContext(ctx)
	sctx.Go(func(sctx *stopper.Context) error {
		select {
		case sig := <-sigCh:
			b.log.Info().Str("signal", sig.String()).Msg("received stop signal")
			b.RequestStop()
		case <-sctx.Stopping():
		case <-ctx.Done():
		}
		return nil
	})

	b.log.Info().Int("pid", os.Getpid()).Msg("service running")
	err := entry.Run(ctx)

	sctx.Stop(time.Second)
	_ = sctx.Wait()

	b.log.Info().Bool("requested", b.IsStopping()).Msg("service exited")
	return err
}

// Run executes the descriptor's entry point inside the service process,
// through a Bridge named after the service
func Run(ctx context.Context, d *ServiceDescriptor, opts ...BridgeOption) error {
	if d == nil {
		return errors.New("svcctl: nil descriptor")
	}
	return NewBridge(d.Name(), opts...).Run(ctx, d.EntryPoint)
}
