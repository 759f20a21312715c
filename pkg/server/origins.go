package server

import (
	"strings"
	"sync/atomic"
)

// originSet is the CORS allow list. It is swapped atomically when the
// configuration reloads.
type originSet struct {
	list atomic.Pointer[map[string]struct{}]
}

func newOriginSet(origins []string) *originSet {
	s := &originSet{}
	s.set(origins)
	return s
}

func (s *originSet) set(origins []string) {
	m := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o != "" {
			m[strings.ToLower(o)] = struct{}{}
		}
	}
	s.list.Store(&m)
}

func (s *originSet) allowed(origin string) bool {
	m := *s.list.Load()
	if len(m) == 0 {
		return true
	}
	_, ok := m[strings.ToLower(strings.TrimRight(origin, "/"))]
	return ok
}
