package client

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAPI serves a scripted queue and can be told to fail writes.
type fakeAPI struct {
	mu       sync.Mutex
	songs    []Song
	failNext error
	voteRes  VoteResult
}

func newFakeAPI(songs ...Song) *fakeAPI {
	return &fakeAPI{songs: songs}
}

func (f *fakeAPI) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failNext = err
}

func (f *fakeAPI) takeFailure() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	err := f.failNext
	f.failNext = nil
	return err
}

func (f *fakeAPI) ListSongs(_ context.Context, _ string) ([]Song, error) {
	if err := f.takeFailure(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Song(nil), f.songs...), nil
}

func (f *fakeAPI) AddSong(_ context.Context, playlistID string, req AddSongRequest) (Song, error) {
	if err := f.takeFailure(); err != nil {
		return Song{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	song := Song{
		ID:         "server-" + req.MediaRef,
		YoutubeID:  req.MediaRef,
		Title:      req.Title,
		PlaylistID: playlistID,
		Position:   int64(len(f.songs) + 1),
		CreatedAt:  time.Now(),
	}
	f.songs = append(f.songs, song)
	return song, nil
}

func (f *fakeAPI) VoteSong(_ context.Context, _ string, value int) (VoteResult, error) {
	if err := f.takeFailure(); err != nil {
		return VoteResult{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	result := f.voteRes
	if result == (VoteResult{}) {
		result = VoteResult{VoteCount: value, UserVote: value}
	}
	return result, nil
}

func (f *fakeAPI) RemoveSong(_ context.Context, _ string) error {
	return f.takeFailure()
}

func (f *fakeAPI) SetPlaying(_ context.Context, _ string) error {
	return f.takeFailure()
}

type fakeFeed struct {
	mu     sync.Mutex
	joined []string
	left   []string
	events chan Event
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{events: make(chan Event, 16)}
}

func (f *fakeFeed) Join(playlistID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joined = append(f.joined, playlistID)
	return nil
}

func (f *fakeFeed) Leave(playlistID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.left = append(f.left, playlistID)
	return nil
}

func (f *fakeFeed) Events() <-chan Event { return f.events }
func (f *fakeFeed) Close() error         { return nil }

func song(id string, position int64, votes int) Song {
	return Song{ID: id, Title: "song " + id, PlaylistID: "pl-1", Position: position, VoteCount: votes}
}

func ids(queue []Song) []string {
	out := make([]string, len(queue))
	for i, s := range queue {
		out[i] = s.ID
	}
	return out
}

func enter(t *testing.T, api API, feed Feed) *Reconciler {
	t.Helper()
	rec := NewReconciler(api, feed, "me", WithActionTimeout(time.Second))
	require.NoError(t, rec.Enter(context.Background(), "pl-1"))
	return rec
}

func TestEnterSyncsJoinsAndGoesLive(t *testing.T) {
	api := newFakeAPI(song("s1", 1, 0), song("s2", 2, 3))
	feed := newFakeFeed()
	rec := enter(t, api, feed)
	defer rec.Close()

	assert.Equal(t, Live, rec.State())
	assert.Equal(t, []string{"pl-1"}, feed.joined)
	assert.Equal(t, []string{"s2", "s1"}, ids(rec.Queue()), "synced view is rank ordered")
	assert.Equal(t, 0, rec.PendingActions())
}

func TestEnterRetriesTransientSyncFailure(t *testing.T) {
	api := newFakeAPI(song("s1", 1, 0))
	api.fail(errors.New("connection refused"))
	feed := newFakeFeed()

	rec := NewReconciler(api, feed, "me", WithActionTimeout(time.Second))
	require.NoError(t, rec.Enter(context.Background(), "pl-1"))
	defer rec.Close()
	assert.Equal(t, []string{"s1"}, ids(rec.Queue()))
}

func TestOptimisticVoteThenAuthoritativeReplace(t *testing.T) {
	api := newFakeAPI(song("s1", 1, 0), song("s2", 2, 0))
	feed := newFakeFeed()
	rec := enter(t, api, feed)
	defer rec.Close()

	api.mu.Lock()
	api.voteRes = VoteResult{VoteCount: 1, UserVote: 1}
	api.mu.Unlock()

	require.NoError(t, rec.VoteSong(context.Background(), "s2", 1))

	queue := rec.Queue()
	assert.Equal(t, []string{"s2", "s1"}, ids(queue))
	assert.Equal(t, 1, queue[0].VoteCount)
	assert.Equal(t, 1, queue[0].UserVote)
	assert.Equal(t, 0, rec.PendingActions())
}

func TestFailedVoteRollsBack(t *testing.T) {
	api := newFakeAPI(song("s1", 1, 0), song("s2", 2, 0))
	feed := newFakeFeed()
	rec := enter(t, api, feed)
	defer rec.Close()

	api.fail(errors.New("boom"))
	err := rec.VoteSong(context.Background(), "s2", 1)
	require.Error(t, err)

	queue := rec.Queue()
	assert.Equal(t, []string{"s1", "s2"}, ids(queue), "order restored")
	assert.Equal(t, 0, queue[1].VoteCount, "tally restored")
	assert.Equal(t, 0, queue[1].UserVote, "own vote restored")
	assert.Equal(t, 0, rec.PendingActions())
}

func TestAddSongPlaceholderIsReplacedByServerRecord(t *testing.T) {
	api := newFakeAPI()
	feed := newFakeFeed()
	rec := enter(t, api, feed)
	defer rec.Close()

	added, err := rec.AddSong(context.Background(), AddSongRequest{MediaRef: "vid-9", Title: "mine"})
	require.NoError(t, err)
	assert.Equal(t, "server-vid-9", added.ID)

	queue := rec.Queue()
	require.Len(t, queue, 1)
	assert.Equal(t, "server-vid-9", queue[0].ID, "placeholder swapped for the authoritative record")
}

func TestFailedAddRemovesPlaceholder(t *testing.T) {
	api := newFakeAPI(song("s1", 1, 0))
	feed := newFakeFeed()
	rec := enter(t, api, feed)
	defer rec.Close()

	api.fail(errors.New("boom"))
	_, err := rec.AddSong(context.Background(), AddSongRequest{MediaRef: "vid-9"})
	require.Error(t, err)
	assert.Equal(t, []string{"s1"}, ids(rec.Queue()))
}

func TestFailedRemoveRestoresSong(t *testing.T) {
	api := newFakeAPI(song("s1", 1, 0), song("s2", 2, 5))
	feed := newFakeFeed()
	rec := enter(t, api, feed)
	defer rec.Close()

	api.fail(errors.New("boom"))
	require.Error(t, rec.RemoveSong(context.Background(), "s2"))

	queue := rec.Queue()
	assert.Equal(t, []string{"s2", "s1"}, ids(queue), "removed song came back in rank order")
	assert.Equal(t, 5, queue[0].VoteCount)
}

func TestFailedSetPlayingRestoresFlags(t *testing.T) {
	s1 := song("s1", 1, 0)
	s1.IsPlaying = true
	api := newFakeAPI(s1, song("s2", 2, 0))
	feed := newFakeFeed()
	rec := enter(t, api, feed)
	defer rec.Close()

	api.fail(errors.New("boom"))
	require.Error(t, rec.SetPlaying(context.Background(), "s2"))

	current, ok := rec.CurrentSong()
	require.True(t, ok)
	assert.Equal(t, "s1", current.ID)
}

// the confluence property: a client that applied the mutation optimistically
// and one that only sees the broadcast end up with identical views
func TestLocalFirstAndRemoteFirstConverge(t *testing.T) {
	base := []Song{song("s1", 1, 0), song("s2", 2, 0)}

	apiA := newFakeAPI(base...)
	apiA.voteRes = VoteResult{VoteCount: 1, UserVote: 1}
	feedA := newFakeFeed()
	recA := enter(t, apiA, feedA)
	defer recA.Close()

	apiB := newFakeAPI(base...)
	feedB := newFakeFeed()
	recB := enter(t, apiB, feedB)
	defer recB.Close()

	// A acts locally first, then receives its own broadcast
	require.NoError(t, recA.VoteSong(context.Background(), "s2", 1))
	recA.Apply(Event{Kind: EventSongVoted, PlaylistID: "pl-1", SongID: "s2", VoteCount: 1})

	// B only ever hears the broadcast
	recB.Apply(Event{Kind: EventSongVoted, PlaylistID: "pl-1", SongID: "s2", VoteCount: 1})

	queueA, queueB := recA.Queue(), recB.Queue()
	assert.Equal(t, ids(queueA), ids(queueB))
	require.Len(t, queueB, 2)
	assert.Equal(t, queueA[0].VoteCount, queueB[0].VoteCount)
	assert.Equal(t, "s2", queueB[0].ID)
}

func TestRemoteEventsFoldThroughTheFeed(t *testing.T) {
	api := newFakeAPI(song("s1", 1, 0))
	feed := newFakeFeed()

	var mu sync.Mutex
	var latest []Song
	rec := NewReconciler(api, feed, "me",
		WithActionTimeout(time.Second),
		WithOnChange(func(q []Song) {
			mu.Lock()
			latest = q
			mu.Unlock()
		}))
	require.NoError(t, rec.Enter(context.Background(), "pl-1"))
	defer rec.Close()

	added := song("s2", 2, 0)
	feed.events <- Event{Kind: EventSongAdded, PlaylistID: "pl-1", Song: &added}
	feed.events <- Event{Kind: EventSongVoted, PlaylistID: "pl-1", SongID: "s2", VoteCount: 2}
	feed.events <- Event{Kind: EventSongPlaying, PlaylistID: "pl-1", SongID: "s2"}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(latest) == 2 && latest[0].ID == "s2" &&
			latest[0].VoteCount == 2 && latest[0].IsPlaying
	}, 2*time.Second, 10*time.Millisecond)

	current, ok := rec.CurrentSong()
	require.True(t, ok)
	assert.Equal(t, "s2", current.ID)
}

func TestSongRemovedEventDropsSong(t *testing.T) {
	api := newFakeAPI(song("s1", 1, 0), song("s2", 2, 0))
	feed := newFakeFeed()
	rec := enter(t, api, feed)
	defer rec.Close()

	rec.Apply(Event{Kind: EventSongRemoved, PlaylistID: "pl-1", SongID: "s1"})
	assert.Equal(t, []string{"s2"}, ids(rec.Queue()))

	// removing it again is harmless (idempotent fold)
	rec.Apply(Event{Kind: EventSongRemoved, PlaylistID: "pl-1", SongID: "s1"})
	assert.Equal(t, []string{"s2"}, ids(rec.Queue()))
}

func TestQueueUpdateReplacesView(t *testing.T) {
	api := newFakeAPI(song("s1", 1, 0))
	feed := newFakeFeed()
	rec := enter(t, api, feed)
	defer rec.Close()

	rec.Apply(Event{Kind: EventQueueUpdate, PlaylistID: "pl-1", Queue: []Song{
		song("s9", 1, 4), song("s8", 2, 1),
	}})
	assert.Equal(t, []string{"s9", "s8"}, ids(rec.Queue()))
}

func TestResyncReplacesViewAfterReconnect(t *testing.T) {
	api := newFakeAPI(song("s1", 1, 0))
	feed := newFakeFeed()
	rec := enter(t, api, feed)
	defer rec.Close()

	// server state moved on while we were away
	api.mu.Lock()
	api.songs = []Song{song("s3", 1, 7), song("s4", 2, 2)}
	api.mu.Unlock()

	require.NoError(t, rec.Resync(context.Background()))
	assert.Equal(t, []string{"s3", "s4"}, ids(rec.Queue()))
	assert.Equal(t, Live, rec.State())
}
