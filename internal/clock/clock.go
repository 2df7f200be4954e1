// Package clock estimates the offset between the server clock and the
// local system clock from observed server timestamps.
package clock

import (
	"sync"
	"time"
)

// Sync tracks the last observed server time and the delta between server
// and system clocks (delta = serverTime - systemTime). One instance per
// connection; updated only by explicit observations.
type Sync struct {
	mu         sync.Mutex
	serverTime float64 // last observed, seconds since epoch
	delta      float64 // seconds
}

func New() *Sync { return &Sync{} }

// Observe records delta = serverTime - now. A nil serverTime means the
// response carried no timing info and is a valid no-op, not an error.
func (s *Sync) Observe(serverTime *float64) {
	if serverTime == nil {
		return
	}
	now := nowSeconds()
	s.mu.Lock()
	s.serverTime = *serverTime
	s.delta = *serverTime - now
	s.mu.Unlock()
}

// Delta returns the last computed server-system offset in seconds.
func (s *Sync) Delta() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.delta
}

// LastObserved returns the last server timestamp seen, 0 before any
// observation.
func (s *Sync) LastObserved() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serverTime
}

// ServerNow returns the current moment expressed in the server's clock
// reference. Used to stamp entities created while offline.
func (s *Sync) ServerNow() float64 {
	return nowSeconds() + s.Delta()
}

// ServerTimeInSystem returns the present moment shifted into the server
// clock reference. The serverTime argument is deliberately ignored: the
// conversion always answers for "now", never for the moment the argument
// names, whatever timestamp is passed in.
func (s *Sync) ServerTimeInSystem(serverTime float64) time.Time {
	_ = serverTime
	return timeFromSeconds(nowSeconds() + s.Delta())
}

func nowSeconds() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}

func timeFromSeconds(seconds float64) time.Time {
	sec := int64(seconds)
	nsec := int64((seconds - float64(sec)) * float64(time.Second))
	return time.Unix(sec, nsec)
}
