package stream

import (
	"crypto/sha256"
	"time"
)

const (
	defaultMaxRepeats  = 10
	defaultIdleTimeout = 5 * time.Minute
)

// SafetyChecker stops a relay that is looping on the same event or has
// gone quiet for too long. The zero value uses the defaults.
type SafetyChecker struct {
	// MaxRepeats is how many identical consecutive events end the stream.
	MaxRepeats int
	// IdleTimeout is the longest allowed gap between events.
	IdleTimeout time.Duration

	now     func() time.Time
	last    [sha256.Size]byte
	repeats int
	seen    time.Time
}

func NewSafetyChecker() *SafetyChecker {
	return &SafetyChecker{MaxRepeats: defaultMaxRepeats, IdleTimeout: defaultIdleTimeout, now: time.Now}
}

// CheckChunk records one event payload and reports whether the stream
// should be cut, with the reason.
func (s *SafetyChecker) CheckChunk(data []byte) (bool, string) {
	now := time.Now()
	if s.now != nil {
		now = s.now()
	}
	if !s.seen.IsZero() && now.Sub(s.seen) > s.idleTimeout() {
		return true, "stream timeout exceeded"
	}
	s.seen = now

	if len(data) == 0 {
		return false, ""
	}
	sum := sha256.Sum256(data)
	if sum != s.last {
		s.last, s.repeats = sum, 0
		return false, ""
	}
	s.repeats++
	limit := s.MaxRepeats
	if limit <= 0 {
		limit = defaultMaxRepeats
	}
	if s.repeats >= limit {
		return true, "repeated chunk detected"
	}
	return false, ""
}

func (s *SafetyChecker) idleTimeout() time.Duration {
	if s.IdleTimeout <= 0 {
		return defaultIdleTimeout
	}
	return s.IdleTimeout
}

// Reset forgets the previous event and its time.
func (s *SafetyChecker) Reset() {
	s.last, s.repeats, s.seen = [sha256.Size]byte{}, 0, time.Time{}
}
