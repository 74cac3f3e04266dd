// Package health tracks multi-stage startup readiness.
package health

import (
	"sync"
	"sync/atomic"
	"time"
)

// Check names one readiness condition.
type Check string

// Readiness checks in startup order.
const (
	CheckEngineAvailable    Check = "engineAvailable"
	CheckEngineWarmedUp     Check = "engineWarmedUp"
	CheckDispatchConnected  Check = "dispatchConnected"
	CheckTransportConnected Check = "transportConnected"
)

// Checks lists every readiness check in startup order.
var Checks = []Check{
	CheckEngineAvailable,
	CheckEngineWarmedUp,
	CheckDispatchConnected,
	CheckTransportConnected,
}

// Status is the derived server status.
type Status string

// Server statuses.
const (
	StatusInitializing Status = "initializing"
	StatusOK           Status = "ok"
	StatusError        Status = "error"
)

// TransitionRecorder observes checks turning true.
type TransitionRecorder interface {
	RecordHealthTransition(check string)
}

type values struct {
	checks    map[Check]bool
	initErr   *string
	startedAt *time.Time
}

func (v *values) clone() *values {
	out := &values{checks: make(map[Check]bool, len(Checks)), initErr: v.initErr, startedAt: v.startedAt}
	for check, ok := range v.checks {
		out.checks[check] = ok
	}
	return out
}

// State is the process-wide health state. Writes are serialized; reads load
// an immutable snapshot without locking.
type State struct {
	mu       sync.Mutex
	current  atomic.Pointer[values]
	recorder TransitionRecorder
	now      func() time.Time
}

// New returns a state with every check false. recorder may be nil.
func New(recorder TransitionRecorder) *State {
	s := &State{recorder: recorder, now: time.Now}
	s.current.Store(&values{checks: map[Check]bool{}})
	return s
}

// MarkStarted records the process start time once.
func (s *State) MarkStarted() {
	s.update(func(v *values) bool {
		if v.startedAt != nil {
			return false
		}
		started := s.now().UTC()
		v.startedAt = &started
		return true
	})
}

// MarkEngineAvailable records a passing engine availability check.
func (s *State) MarkEngineAvailable() { s.mark(CheckEngineAvailable) }

// MarkEngineWarmedUp records a successful warmup computation.
func (s *State) MarkEngineWarmedUp() { s.mark(CheckEngineWarmedUp) }

// MarkDispatchConnected records a built protocol server.
func (s *State) MarkDispatchConnected() { s.mark(CheckDispatchConnected) }

// MarkTransportConnected records a bound transport.
func (s *State) MarkTransportConnected() { s.mark(CheckTransportConnected) }

func (s *State) mark(check Check) {
	changed := s.update(func(v *values) bool {
		if v.checks[check] {
			return false
		}
		v.checks[check] = true
		return true
	})
	if changed && s.recorder != nil {
		s.recorder.RecordHealthTransition(string(check))
	}
}

// Fail records the first initialization error. Later calls are ignored.
func (s *State) Fail(err error) {
	if err == nil {
		return
	}
	message := err.Error()
	s.update(func(v *values) bool {
		if v.initErr != nil {
			return false
		}
		v.initErr = &message
		return true
	})
}

// Shutdown marks the transport as disconnected.
func (s *State) Shutdown() {
	s.update(func(v *values) bool {
		if !v.checks[CheckTransportConnected] {
			return false
		}
		v.checks[CheckTransportConnected] = false
		return true
	})
}

// Reset re-initializes the whole state, including the recorded error.
func (s *State) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current.Store(&values{checks: map[Check]bool{}})
}

func (s *State) update(fn func(*values) bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.current.Load().clone()
	if !fn(next) {
		return false
	}
	s.current.Store(next)
	return true
}

// Report is the JSON health document.
type Report struct {
	Status       Status         `json:"status"`
	Uptime       *float64       `json:"uptime"`
	StartedAt    *time.Time     `json:"startedAt"`
	Checks       map[Check]bool `json:"checks"`
	Error        *string        `json:"error,omitempty"`
	FailedChecks []Check        `json:"failedChecks,omitempty"`
}

// Status returns the derived status without building a full report.
func (s *State) Status() Status {
	return deriveStatus(s.current.Load())
}

// Snapshot returns a consistent report of the current state.
func (s *State) Snapshot() Report {
	v := s.current.Load()
	report := Report{
		Status:    deriveStatus(v),
		StartedAt: v.startedAt,
		Checks:    make(map[Check]bool, len(Checks)),
		Error:     v.initErr,
	}
	for _, check := range Checks {
		report.Checks[check] = v.checks[check]
	}
	if v.startedAt != nil {
		uptime := s.now().Sub(*v.startedAt).Seconds()
		if uptime < 0 {
			uptime = 0
		}
		report.Uptime = &uptime
	}
	if report.Status == StatusError {
		for _, check := range Checks {
			if !v.checks[check] {
				report.FailedChecks = append(report.FailedChecks, check)
			}
		}
	}
	return report
}

func deriveStatus(v *values) Status {
	if v.initErr != nil {
		return StatusError
	}
	passed := 0
	for _, check := range Checks {
		if v.checks[check] {
			passed++
		}
	}
	switch passed {
	case len(Checks):
		return StatusOK
	case 0:
		return StatusInitializing
	default:
		return StatusError
	}
}
