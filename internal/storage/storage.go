// Package storage defines the artifact-store collaborator that holds
// generated images. The provider reports artifact URLs; the store copies
// them somewhere durable and hands back presignable keys.
package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Artifact is one stored generation result.
type Artifact struct {
	Key    string    `json:"key"`
	URL    string    `json:"url"`
	Expiry time.Time `json:"expiry"`
}

type ArtifactStore interface {
	// StoreFromURL copies the provider-hosted artifact into team-scoped storage.
	StoreFromURL(ctx context.Context, sourceURL string, teamID int64, jobID uuid.UUID) (Artifact, error)
	// Presign returns a time-limited read URL for a stored key.
	Presign(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// MemoryStore is an in-process ArtifactStore for tests and local
// development. Keys follow the team/job layout a bucket store would use.
type MemoryStore struct {
	mu      sync.Mutex
	objects map[string]string // key -> source URL
	seq     int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]string)}
}

func (s *MemoryStore) StoreFromURL(_ context.Context, sourceURL string, teamID int64, jobID uuid.UUID) (Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	key := fmt.Sprintf("teams/%d/jobs/%s/%d", teamID, jobID, s.seq)
	s.objects[key] = sourceURL
	return Artifact{
		Key:    key,
		URL:    sourceURL,
		Expiry: time.Now().Add(24 * time.Hour),
	}, nil
}

func (s *MemoryStore) Presign(_ context.Context, key string, ttl time.Duration) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	url, ok := s.objects[key]
	if !ok {
		return "", fmt.Errorf("object %q not found", key)
	}
	return fmt.Sprintf("%s?expires=%d", url, time.Now().Add(ttl).Unix()), nil
}
