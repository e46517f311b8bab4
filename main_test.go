// test fixtures shared across the backend tests
package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

// fakeResolver resolves any ref except ones containing "bad", without
// touching the network.
type fakeResolver struct{}

func (fakeResolver) Resolve(_ context.Context, mediaRef string) (*VideoMeta, error) {
	if mediaRef == "" || len(mediaRef) >= 3 && mediaRef[:3] == "bad" {
		return nil, errors.New("unresolvable media reference")
	}
	return &VideoMeta{
		VideoID:      mediaRef,
		Title:        "Video " + mediaRef,
		Artist:       "Channel " + mediaRef,
		ThumbnailURL: fmt.Sprintf("https://i.ytimg.com/vi/%s/hqdefault.jpg", mediaRef),
		Duration:     180,
	}, nil
}

// recordingPublisher keeps every published event in arrival order, which is
// commit order because the store and ledger publish under their keyed locks.
type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *recordingPublisher) Publish(_ string, event Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPublisher) recorded() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Event(nil), p.events...)
}

type testEnv struct {
	repo      *MemoryRepository
	ledger    *VoteLedger
	store     *QueueStore
	published *recordingPublisher
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	repo := NewMemoryRepository()
	published := &recordingPublisher{}
	ledger := NewVoteLedger(repo, published)
	store := NewQueueStore(repo, ledger, fakeResolver{}, published)
	return &testEnv{repo: repo, ledger: ledger, store: store, published: published}
}

func (env *testEnv) addPlaylist(t *testing.T, ownerID string) Playlist {
	t.Helper()
	now := time.Now().UTC()
	playlist := Playlist{
		ID:        uuid.NewString(),
		Name:      "test playlist",
		OwnerID:   ownerID,
		IsPublic:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := env.repo.InsertPlaylist(context.Background(), playlist); err != nil {
		t.Fatalf("insert playlist: %v", err)
	}
	return playlist
}

func (env *testEnv) addSong(t *testing.T, playlistID, mediaRef, addedBy string) SongWithVotes {
	t.Helper()
	song, err := env.store.Enqueue(context.Background(), playlistID, mediaRef, "", "", addedBy)
	if err != nil {
		t.Fatalf("enqueue %s: %v", mediaRef, err)
	}
	return song
}
