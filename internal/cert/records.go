package cert

import (
	"sync"

	"github.com/miekg/dns"
)

// recordKey identifies a record by owner name, type and content.
type recordKey struct {
	name  string
	typ   string
	value string
}

// recordStore remembers the ids of records this process created, so they
// can be deleted without listing the zone.
type recordStore struct {
	mu  sync.Mutex
	ids map[recordKey]string
}

func newRecordStore() *recordStore {
	return &recordStore{ids: make(map[recordKey]string)}
}

func (s *recordStore) add(name, typ, value, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids[recordKey{NormalizeName(name), typ, value}] = id
}

// take returns and forgets the id of a created record.
func (s *recordStore) take(name, typ, value string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := recordKey{NormalizeName(name), typ, value}
	id, ok := s.ids[k]
	if ok {
		delete(s.ids, k)
	}
	return id, ok
}

func (s *recordStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids)
}

// NormalizeName lowercases name and makes it fully qualified.
func NormalizeName(name string) string {
	return dns.CanonicalName(name)
}
