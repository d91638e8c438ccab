// Package signals routes process-wide OS signals to the single foreground
// session.
//
// The process intercepts signals exactly once, here. Every dispatch
// consults the active-session indicator at dispatch time, so a foreground
// switch racing a signal resolves to exactly one of the old or new
// foreground sessions, never both and never neither. Background sessions
// never see signals directly; they receive them only through their own
// queues when routed while foreground.
package signals

import (
	"os"
	"os/signal"

	"go.uber.org/zap"

	"github.com/shmux/shmux/internal/logging"
	"github.com/shmux/shmux/internal/monitoring"
)

// Target is a session-side signal sink.
type Target interface {
	Deliver(sig os.Signal)
}

// ForegroundFunc reads the active-session indicator: the current
// foreground target, its id, and whether one exists.
type ForegroundFunc func() (Target, string, bool)

// Router owns the process signal subscription.
type Router struct {
	fg      ForegroundFunc
	log     *logging.Logger
	metrics *monitoring.Metrics

	sigs []os.Signal
	ch   chan os.Signal
	stop chan struct{}
}

// New creates a router dispatching the given signals. A nil signal list
// subscribes to the interactive set (SIGINT, SIGQUIT, SIGWINCH).
func New(fg ForegroundFunc, log *logging.Logger, metrics *monitoring.Metrics, sigs ...os.Signal) *Router {
	if log == nil {
		log = logging.NewDefault()
	}
	if len(sigs) == 0 {
		sigs = []os.Signal{os.Interrupt, sigQuit, sigWinch}
	}
	return &Router{
		fg:      fg,
		log:     log,
		metrics: metrics,
		sigs:    sigs,
		ch:      make(chan os.Signal, 8),
		stop:    make(chan struct{}),
	}
}

// Start subscribes to the configured signals and begins dispatching.
func (r *Router) Start() {
	signal.Notify(r.ch, r.sigs...)
	go r.loop()
}

// Stop unsubscribes and halts dispatch.
func (r *Router) Stop() {
	signal.Stop(r.ch)
	close(r.stop)
}

func (r *Router) loop() {
	for {
		select {
		case sig := <-r.ch:
			r.Dispatch(sig)
		case <-r.stop:
			return
		}
	}
}

// Dispatch delivers one signal to the session the indicator names at
// dispatch time. A switch observed mid-dispatch is retried once against
// the fresh indicator value; a second inconsistency drops the signal.
// Exactly one Deliver call happens per dispatched signal, or none.
func (r *Router) Dispatch(sig os.Signal) {
	tgt, sid, ok := r.fg()
	if !ok {
		r.drop(sig, "no foreground session")
		return
	}

	// Confirm the indicator is stable; a mismatch means a switch landed
	// between the two reads.
	tgt2, sid2, ok2 := r.fg()
	if !ok2 {
		r.drop(sig, "foreground went away mid-dispatch")
		return
	}
	if sid2 != sid {
		tgt3, sid3, ok3 := r.fg()
		if !ok3 || sid3 != sid2 {
			r.drop(sig, "foreground indicator unstable")
			return
		}
		tgt, sid = tgt3, sid3
	} else {
		tgt = tgt2
	}

	tgt.Deliver(sig)
	if r.metrics != nil {
		r.metrics.IncSignalRouted(sig.String())
	}
	r.log.Debug("signal routed",
		zap.String("signal", sig.String()), zap.String("session", sid))
}

func (r *Router) drop(sig os.Signal, reason string) {
	if r.metrics != nil {
		r.metrics.IncSignalDropped()
	}
	r.log.Warn("signal dropped",
		zap.String("signal", sig.String()), zap.String("reason", reason))
}
