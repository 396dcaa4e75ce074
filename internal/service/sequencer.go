package service

import (
	"fmt"
	"sync/atomic"
	"time"
)

// TrackingPrefix is the public prefix of every tracking number.
const TrackingPrefix = "RAD"

// Sequencer issues priority ranks and tracking numbers for change requests.
// Both counters are process-wide atomics: two concurrent callers never
// observe the same value. The tracking serial is a single lifetime counter
// that embeds the submission date; it does not restart at midnight.
type Sequencer struct {
	now      func() time.Time
	priority atomic.Int64
	tracking atomic.Int64
}

// SequencerOption configures the sequencer.
type SequencerOption func(*Sequencer)

// WithClock overrides the time source, letting tests pin the date stamp.
func WithClock(now func() time.Time) SequencerOption {
	return func(s *Sequencer) {
		if now != nil {
			s.now = now
		}
	}
}

// NewSequencer constructs a sequencer starting both counters at zero.
func NewSequencer(opts ...SequencerOption) *Sequencer {
	s := &Sequencer{now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Seed advances the counters to at least the given values. Called once at
// startup with the persisted maxima so ranks stay strictly increasing
// across restarts. Seeding backwards is ignored.
func (s *Sequencer) Seed(priorityRank, trackingSerial int64) {
	for {
		current := s.priority.Load()
		if current >= priorityRank || s.priority.CompareAndSwap(current, priorityRank) {
			break
		}
	}
	for {
		current := s.tracking.Load()
		if current >= trackingSerial || s.tracking.CompareAndSwap(current, trackingSerial) {
			break
		}
	}
}

// NextPriorityRank returns the next arrival-order rank, starting at 1.
func (s *Sequencer) NextPriorityRank() int64 {
	return s.priority.Add(1)
}

// NextTrackingNumber returns a unique tracking number of the form
// RAD-YYYYMMDD-NNNN, with the serial zero-padded to four digits.
func (s *Sequencer) NextTrackingNumber() string {
	serial := s.tracking.Add(1)
	return fmt.Sprintf("%s-%s-%04d", TrackingPrefix, s.now().UTC().Format("20060102"), serial)
}
