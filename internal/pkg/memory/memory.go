/*
memory.go Last known tap per regulator, kept between inspections of the same
feeder. A Store is passed explicitly to whoever needs it and is only emptied by
Clear.
*/

package memory

import (
	"sync"
)

// Store persists regulator taps.
type Store interface {
	Load() (map[string]int, error)
	Save(taps map[string]int) error
	Clear() error
}

// Session is an in-process Store.
type Session struct {
	mux  *sync.Mutex
	taps map[string]int
}

// NewSession returns an empty Session.
func NewSession() *Session {
	return &Session{mux: &sync.Mutex{}, taps: make(map[string]int)}
}

// Load returns a copy of the stored taps.
func (s *Session) Load() (map[string]int, error) {
	s.mux.Lock()
	defer s.mux.Unlock()
	out := make(map[string]int, len(s.taps))
	for k, v := range s.taps {
		out[k] = v
	}
	return out, nil
}

// Save merges taps into the store.
func (s *Session) Save(taps map[string]int) error {
	s.mux.Lock()
	defer s.mux.Unlock()
	for k, v := range taps {
		s.taps[k] = v
	}
	return nil
}

func (s *Session) Clear() error {
	s.mux.Lock()
	defer s.mux.Unlock()
	s.taps = make(map[string]int)
	return nil
}

// Applier is what Restore writes to.
type Applier interface {
	SetTapNumber(reg string, tap int) error
}

// Restore writes every remembered tap to a, skipping regulators a rejects.
// It returns the taps that were applied.
func Restore(s Store, a Applier) (map[string]int, error) {
	taps, err := s.Load()
	if err != nil {
		return nil, err
	}
	applied := make(map[string]int, len(taps))
	for reg, tap := range taps {
		if err := a.SetTapNumber(reg, tap); err != nil {
			continue
		}
		applied[reg] = tap
	}
	return applied, nil
}
