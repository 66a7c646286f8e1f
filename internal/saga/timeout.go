package saga

import (
	"sync"
	"time"
)

// TimeoutScheduler holds one advisory timer per payment-pending instance so
// an order whose payment participant never answers cannot hang forever.
// Armed on entering PaymentPending, disarmed on any terminal transition; on
// expiry the orchestrator synthesizes a PaymentFailed with a timeout reason.
//
// The timers are in-memory only. Durability comes from the store: after a
// restart the orchestrator re-arms a timer for every instance still in
// PaymentPending (see Orchestrator.ResumeTimeouts).
type TimeoutScheduler struct {
	delay time.Duration
	fire  func(correlationID string)

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// NewTimeoutScheduler builds a scheduler that calls fire(correlationID) once
// per armed instance after delay, unless disarmed first.
func NewTimeoutScheduler(delay time.Duration, fire func(correlationID string)) *TimeoutScheduler {
	return &TimeoutScheduler{
		delay:  delay,
		fire:   fire,
		timers: make(map[string]*time.Timer),
	}
}

// Arm starts (or restarts) the timer for correlationID.
func (s *TimeoutScheduler) Arm(correlationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.timers[correlationID]; ok {
		t.Stop()
	}
	s.timers[correlationID] = time.AfterFunc(s.delay, func() {
		s.mu.Lock()
		delete(s.timers, correlationID)
		s.mu.Unlock()
		s.fire(correlationID)
	})
}

// Disarm cancels the timer for correlationID if one is pending.
func (s *TimeoutScheduler) Disarm(correlationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.timers[correlationID]; ok {
		t.Stop()
		delete(s.timers, correlationID)
	}
}

// Stop cancels every pending timer. Called on shutdown.
func (s *TimeoutScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}
