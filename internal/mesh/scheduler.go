package mesh

import "time"

// Clock abstracts time so the retry ladder can be driven by tests.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type Timer interface {
	Stop() bool
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

type timerKind int

const (
	timerReoffer timerKind = iota
	timerGrace
)

func (k timerKind) String() string {
	if k == timerGrace {
		return "grace"
	}
	return "reoffer"
}

type timerKey struct {
	peer string
	kind timerKind
}

type scheduled struct {
	timer Timer
	seq   uint64
	due   time.Time
}

// scheduler holds at most one timer per (peer, kind). Expiry is delivered as
// a timerEvent on the orchestrator loop; a fire whose sequence no longer
// matches was cancelled or replaced and is ignored. Only the loop goroutine
// touches it.
type scheduler struct {
	clock  Clock
	post   func(event)
	timers map[timerKey]*scheduled
	seq    uint64
}

func newScheduler(clock Clock, post func(event)) *scheduler {
	return &scheduler{clock: clock, post: post, timers: make(map[timerKey]*scheduled)}
}

func (s *scheduler) schedule(peer string, kind timerKind, d time.Duration) {
	s.cancel(peer, kind)
	s.seq++
	key, seq := timerKey{peer, kind}, s.seq
	t := s.clock.AfterFunc(d, func() {
		s.post(timerEvent{key: key, seq: seq})
	})
	s.timers[key] = &scheduled{timer: t, seq: seq, due: s.clock.Now().Add(d)}
}

func (s *scheduler) cancel(peer string, kind timerKind) {
	key := timerKey{peer, kind}
	if cur, ok := s.timers[key]; ok {
		cur.timer.Stop()
		delete(s.timers, key)
	}
}

func (s *scheduler) cancelPeer(peer string) {
	s.cancel(peer, timerReoffer)
	s.cancel(peer, timerGrace)
}

// fired consumes a timer expiry. It returns false for stale fires.
func (s *scheduler) fired(key timerKey, seq uint64) bool {
	cur, ok := s.timers[key]
	if !ok || cur.seq != seq {
		return false
	}
	delete(s.timers, key)
	return true
}

func (s *scheduler) pending(peer string) []timerKind {
	var kinds []timerKind
	for _, kind := range []timerKind{timerReoffer, timerGrace} {
		if _, ok := s.timers[timerKey{peer, kind}]; ok {
			kinds = append(kinds, kind)
		}
	}
	return kinds
}

func (s *scheduler) nextFire(peer string, kind timerKind) (time.Time, bool) {
	cur, ok := s.timers[timerKey{peer, kind}]
	if !ok {
		return time.Time{}, false
	}
	return cur.due, true
}

func (s *scheduler) stopAll() {
	for key, cur := range s.timers {
		cur.timer.Stop()
		delete(s.timers, key)
	}
}
