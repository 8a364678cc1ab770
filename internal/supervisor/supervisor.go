// Package supervisor restarts the long-running parts of `serve` (the HTTP
// server and the cron scheduler) when they fail.
package supervisor

import (
	"context"
	"errors"
	"time"

	"github.com/thejerf/suture/v4"

	appLog "recurcal/internal/log"
)

type Options struct {
	// FailureThreshold is the number of failures before backing off.
	FailureThreshold float64
	// FailureDecay is the rate failures decay at, in seconds.
	FailureDecay   float64
	FailureBackoff time.Duration
	// ShutdownTimeout bounds how long each service gets to stop.
	ShutdownTimeout time.Duration
}

func DefaultOptions() Options {
	return Options{
		FailureThreshold: 5,
		FailureDecay:     30,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  10 * time.Second,
	}
}

type Tree struct {
	root *suture.Supervisor
}

func New(name string, opts Options) *Tree {
	def := DefaultOptions()
	if opts.FailureThreshold == 0 {
		opts.FailureThreshold = def.FailureThreshold
	}
	if opts.FailureDecay == 0 {
		opts.FailureDecay = def.FailureDecay
	}
	if opts.FailureBackoff == 0 {
		opts.FailureBackoff = def.FailureBackoff
	}
	if opts.ShutdownTimeout == 0 {
		opts.ShutdownTimeout = def.ShutdownTimeout
	}
	return &Tree{root: suture.New(name, suture.Spec{
		EventHook:        logEvent,
		FailureThreshold: opts.FailureThreshold,
		FailureDecay:     opts.FailureDecay,
		FailureBackoff:   opts.FailureBackoff,
		Timeout:          opts.ShutdownTimeout,
	})}
}

func (t *Tree) Add(svc suture.Service) suture.ServiceToken {
	return t.root.Add(svc)
}

// Serve blocks until ctx is done. Cancellation is a clean stop and
// returns nil.
func (t *Tree) Serve(ctx context.Context) error {
	err := t.root.Serve(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func logEvent(ev suture.Event) {
	fields := ev.Map()
	kv := make([]any, 0, 2*len(fields))
	for k, v := range fields {
		kv = append(kv, k, v)
	}
	switch ev.Type() {
	case suture.EventTypeResume:
		appLog.Info("supervisor: "+ev.String(), kv...)
	default:
		appLog.Warn("supervisor: "+ev.String(), kv...)
	}
}
