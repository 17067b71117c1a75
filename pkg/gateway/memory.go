package gateway

import "sync"

// MapTranscriptStore is an in-memory TranscriptStore. Suitable for tests
// and single-process runs without durable memory.
type MapTranscriptStore struct {
	mu sync.Mutex
	m  map[string][]Turn
}

func NewMapTranscriptStore() *MapTranscriptStore {
	return &MapTranscriptStore{m: make(map[string][]Turn)}
}

func (s *MapTranscriptStore) Load(token string) ([]Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Turn(nil), s.m[token]...), nil
}

func (s *MapTranscriptStore) Save(token string, turns []Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[token] = append([]Turn(nil), turns...)
	return nil
}
