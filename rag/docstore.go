package rag

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

// DocumentStore holds ingested chunks in memory, in insertion order.
type DocumentStore struct {
	mu     sync.RWMutex
	chunks map[string]Chunk
	order  []string
}

func NewDocumentStore() *DocumentStore {
	return &DocumentStore{
		chunks: make(map[string]Chunk),
	}
}

// Add stores chunks. A chunk with a known id replaces the previous one.
func (s *DocumentStore) Add(chunks ...Chunk) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range chunks {
		if _, ok := s.chunks[ch.ID]; !ok {
			s.order = append(s.order, ch.ID)
		}
		s.chunks[ch.ID] = ch
	}
}

func (s *DocumentStore) Put(_ context.Context, chunks []Chunk) error {
	for _, ch := range chunks {
		if ch.ID == "" {
			return invalidArgument("chunk from %q has no id", ch.Source)
		}
	}
	s.Add(chunks...)
	return nil
}

func (s *DocumentStore) Get(_ context.Context, id string) (Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ch, ok := s.chunks[id]
	if !ok {
		return Chunk{}, fmt.Errorf("chunk %q: %w", id, ErrNotFound)
	}
	return ch, nil
}

// ChunkIDs returns the ids of documentID's chunks in insertion order.
func (s *DocumentStore) ChunkIDs(_ context.Context, documentID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for _, id := range s.order {
		if s.chunks[id].DocumentID == documentID {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// Delete removes chunks by id. Unknown ids are ignored.
func (s *DocumentStore) Delete(_ context.Context, chunkIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	drop := make(map[string]bool, len(chunkIDs))
	for _, id := range chunkIDs {
		if _, ok := s.chunks[id]; ok {
			drop[id] = true
			delete(s.chunks, id)
		}
	}
	if len(drop) == 0 {
		return nil
	}
	s.order = slices.DeleteFunc(s.order, func(id string) bool { return drop[id] })
	return nil
}

func (s *DocumentStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// All returns every chunk in insertion order.
func (s *DocumentStore) All() []Chunk {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Chunk, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.chunks[id])
	}
	return out
}

// Sources returns the distinct chunk sources in first-seen order.
func (s *DocumentStore) Sources() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]bool)
	var out []string
	for _, id := range s.order {
		src := s.chunks[id].Source
		if !seen[src] {
			seen[src] = true
			out = append(out, src)
		}
	}
	return out
}
