package domain

import "time"

// ControllerPhase is the scan-execute loop's state machine phase.
type ControllerPhase string

const (
	PhaseIdle      ControllerPhase = "idle"
	PhaseScanning  ControllerPhase = "scanning"
	PhaseExecuting ControllerPhase = "executing"
	PhaseBackoff   ControllerPhase = "backoff"
	PhaseStopped   ControllerPhase = "stopped"
)

// ControllerState is the loop's error-recovery state. It is an explicit
// value passed into and out of each cycle rather than package-level state,
// so the state machine is testable in isolation. Single-writer: only the
// controller mutates it.
type ControllerState struct {
	Phase             ControllerPhase
	ConsecutiveErrors int
	LastCycleAt       time.Time
}

// NewControllerState returns the initial pre-first-cycle state.
func NewControllerState() ControllerState {
	return ControllerState{Phase: PhaseIdle}
}

// RecordSuccess resets the error streak after a clean cycle.
func (s ControllerState) RecordSuccess(now time.Time) ControllerState {
	s.Phase = PhaseScanning
	s.ConsecutiveErrors = 0
	s.LastCycleAt = now
	return s
}

// RecordFailure increments the error streak; once the streak reaches max the
// circuit opens and the state becomes terminal.
func (s ControllerState) RecordFailure(now time.Time, max int) ControllerState {
	s.ConsecutiveErrors++
	s.LastCycleAt = now
	if s.ConsecutiveErrors >= max {
		s.Phase = PhaseStopped
	} else {
		s.Phase = PhaseBackoff
	}
	return s
}

// Stopped reports whether the circuit is open. A stopped controller issues
// no further cycles; recovery requires an external restart.
func (s ControllerState) Stopped() bool {
	return s.Phase == PhaseStopped
}

// BackoffDelay is the sleep before the next cycle:
// poll * 2^consecutive_errors, capped. With no error streak it is just the
// poll interval.
func (s ControllerState) BackoffDelay(poll, cap time.Duration) time.Duration {
	if s.ConsecutiveErrors <= 0 {
		return poll
	}
	shift := uint(s.ConsecutiveErrors)
	// 2^30 * any sane poll interval overflows far past every cap.
	if shift > 30 {
		shift = 30
	}
	d := poll << shift
	if d <= 0 || d > cap {
		return cap
	}
	return d
}

// CycleResult summarizes one scan-execute cycle.
type CycleResult struct {
	OpportunitiesFound int
	Executed           int
	Errors             int
}
