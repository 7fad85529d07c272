package emulator

import (
	"fmt"
	"sync"
)

// Stats tracks in-memory counters for one emulated network. All counters
// are safe to increment from concurrent tasks.
type Stats struct {
	mu sync.Mutex

	PaymentsSent   uint64
	PaymentsFailed uint64
	HopsForwarded  uint64

	EventsFired  uint64
	EventsFailed uint64

	ChannelsOpened uint64
	ChannelsClosed uint64
}

func (s *Stats) recordPayment(hops int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.PaymentsFailed++
		return
	}
	s.PaymentsSent++
	s.HopsForwarded += uint64(hops)
}

func (s *Stats) recordEvent(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.EventsFailed++
		return
	}
	s.EventsFired++
}

func (s *Stats) incChannelsOpened() {
	s.mu.Lock()
	s.ChannelsOpened++
	s.mu.Unlock()
}

func (s *Stats) incChannelsClosed() {
	s.mu.Lock()
	s.ChannelsClosed++
	s.mu.Unlock()
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	PaymentsSent   uint64
	PaymentsFailed uint64
	HopsForwarded  uint64
	EventsFired    uint64
	EventsFailed   uint64
	ChannelsOpened uint64
	ChannelsClosed uint64
}

// Snapshot returns the current counter values.
func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return StatsSnapshot{
		PaymentsSent:   s.PaymentsSent,
		PaymentsFailed: s.PaymentsFailed,
		HopsForwarded:  s.HopsForwarded,
		EventsFired:    s.EventsFired,
		EventsFailed:   s.EventsFailed,
		ChannelsOpened: s.ChannelsOpened,
		ChannelsClosed: s.ChannelsClosed,
	}
}

func (s *Stats) String() string {
	snap := s.Snapshot()
	return fmt.Sprintf("emulator stats: payments_ok=%d payments_err=%d hops=%d events_ok=%d events_err=%d channels_opened=%d channels_closed=%d",
		snap.PaymentsSent,
		snap.PaymentsFailed,
		snap.HopsForwarded,
		snap.EventsFired,
		snap.EventsFailed,
		snap.ChannelsOpened,
		snap.ChannelsClosed,
	)
}
