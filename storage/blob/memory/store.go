// Package memory is an in-process blob store, served by the API under its public base URL.
package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

var ErrNotFound = errors.New("blob not found")

type object struct {
	data        []byte
	contentType string
}

type Store struct {
	mu      sync.RWMutex
	objs    map[string]object
	baseURL string
}

// New returns an empty store whose URLs start with baseURL.
func New(baseURL string) *Store {
	return &Store{objs: make(map[string]object), baseURL: strings.TrimRight(baseURL, "/")}
}

func (s *Store) Put(_ context.Context, key string, data []byte, contentType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objs[key]; ok {
		return errors.Errorf("blob %s already exists", key)
	}
	s.objs[key] = object{data: append([]byte(nil), data...), contentType: contentType}
	return nil
}

// Get returns the content of the blob stored under key and its content type.
func (s *Store) Get(_ context.Context, key string) ([]byte, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objs[key]
	if !ok {
		return nil, "", ErrNotFound
	}
	return append([]byte(nil), obj.data...), obj.contentType, nil
}

func (s *Store) URL(key string) string {
	return s.baseURL + "/" + key
}

// Key returns the key of the blob at url, false when url is not one of this store.
func (s *Store) Key(url string) (string, bool) {
	prefix := s.baseURL + "/"
	if !strings.HasPrefix(url, prefix) {
		return "", false
	}
	return strings.TrimPrefix(url, prefix), true
}
