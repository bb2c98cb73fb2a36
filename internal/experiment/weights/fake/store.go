package fake

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// Store is an in-memory weight store. Failures can be injected per key.
type Store struct {
	mutex        sync.Mutex
	values       map[string]string
	puts         int
	FailOnPut    map[string]error
	FailOnDelete map[string]error
}

func NewStore() *Store {
	return &Store{
		values:       map[string]string{},
		FailOnPut:    map[string]error{},
		FailOnDelete: map[string]error{},
	}
}

func (s *Store) Put(_ context.Context, key string, value string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if err, ok := s.FailOnPut[key]; ok {
		return err
	}
	s.puts++
	s.values[key] = value
	return nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if err, ok := s.FailOnDelete[key]; ok {
		return err
	}
	delete(s.values, key)
	return nil
}

func (s *Store) Get(_ context.Context, key string) (string, bool, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	value, ok := s.values[key]
	return value, ok, nil
}

func (s *Store) Keys(_ context.Context, prefix string) ([]string, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	var keys []string
	for key := range s.values {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *Store) Close() error {
	return nil
}

// Snapshot returns a copy of the stored values.
func (s *Store) Snapshot() map[string]string {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	result := make(map[string]string, len(s.values))
	for k, v := range s.values {
		result[k] = v
	}
	return result
}

func (s *Store) Puts() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.puts
}
