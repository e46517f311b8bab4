// this file implements the reconciler: one queue view fed by both local
// optimism and the server's room events
package client

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// API is the server's REST surface, as much of it as the reconciler needs.
type API interface {
	ListSongs(ctx context.Context, playlistID string) ([]Song, error)
	AddSong(ctx context.Context, playlistID string, req AddSongRequest) (Song, error)
	VoteSong(ctx context.Context, songID string, value int) (VoteResult, error)
	RemoveSong(ctx context.Context, songID string) error
	SetPlaying(ctx context.Context, songID string) error
}

// Feed is the room subscription. Events arrive in server publish order; a
// closed channel means the connection is gone and the queue must be resynced,
// not replayed.
type Feed interface {
	Join(playlistID string) error
	Leave(playlistID string) error
	Events() <-chan Event
	Close() error
}

type State int

const (
	Disconnected State = iota
	Syncing
	Live
)

func (s State) String() string {
	switch s {
	case Syncing:
		return "syncing"
	case Live:
		return "live"
	default:
		return "disconnected"
	}
}

const (
	defaultActionTimeout = 10 * time.Second
	syncRetries          = 3
	syncBackoff          = 500 * time.Millisecond
)

// Reconciler folds local optimistic mutations and inbound room events into a
// single ordered queue. Every mutation is applied locally first, keyed by a
// generated action id; a failed or timed-out request finds its entry and
// reverts exactly that change.
type Reconciler struct {
	api    API
	feed   Feed
	userID string

	mu         sync.Mutex
	state      State
	playlistID string
	queue      []Song
	pending    map[string]func() // action id -> undo
	onChange   func([]Song)

	timeout time.Duration
	done    chan struct{}
}

type Option func(*Reconciler)

// WithOnChange registers a callback invoked with a copy of the queue after
// every fold, local or remote.
func WithOnChange(fn func([]Song)) Option {
	return func(r *Reconciler) { r.onChange = fn }
}

func WithActionTimeout(d time.Duration) Option {
	return func(r *Reconciler) { r.timeout = d }
}

func NewReconciler(api API, feed Feed, userID string, opts ...Option) *Reconciler {
	r := &Reconciler{
		api:     api,
		feed:    feed,
		userID:  userID,
		state:   Disconnected,
		pending: make(map[string]func()),
		timeout: defaultActionTimeout,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Enter syncs the full queue for a playlist, joins its room and goes live.
func (r *Reconciler) Enter(ctx context.Context, playlistID string) error {
	r.mu.Lock()
	r.state = Syncing
	r.playlistID = playlistID
	r.mu.Unlock()

	songs, err := r.syncWithRetry(ctx, playlistID)
	if err != nil {
		r.mu.Lock()
		r.state = Disconnected
		r.mu.Unlock()
		return err
	}

	if err := r.feed.Join(playlistID); err != nil {
		r.mu.Lock()
		r.state = Disconnected
		r.mu.Unlock()
		return err
	}

	r.mu.Lock()
	r.queue = songs
	r.sortLocked()
	r.state = Live
	r.mu.Unlock()
	r.notify()

	go r.eventLoop()
	return nil
}

// Resync refetches the authoritative queue and replaces the local view,
// discarding anything buffered. Used after reconnects.
func (r *Reconciler) Resync(ctx context.Context) error {
	r.mu.Lock()
	playlistID := r.playlistID
	r.state = Syncing
	r.mu.Unlock()

	songs, err := r.syncWithRetry(ctx, playlistID)
	if err != nil {
		r.mu.Lock()
		r.state = Disconnected
		r.mu.Unlock()
		return err
	}

	r.mu.Lock()
	r.queue = songs
	r.sortLocked()
	r.state = Live
	r.mu.Unlock()
	r.notify()
	return nil
}

// syncWithRetry is the one place transient failures are retried: reads are
// safe to repeat, writes are not.
func (r *Reconciler) syncWithRetry(ctx context.Context, playlistID string) ([]Song, error) {
	backoff := syncBackoff
	var lastErr error
	for attempt := 0; attempt < syncRetries; attempt++ {
		songs, err := r.api.ListSongs(ctx, playlistID)
		if err == nil {
			return songs, nil
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return nil, fmt.Errorf("sync failed: %w", lastErr)
}

func (r *Reconciler) eventLoop() {
	for {
		select {
		case <-r.done:
			return
		case event, ok := <-r.feed.Events():
			if !ok {
				r.mu.Lock()
				r.state = Disconnected
				r.mu.Unlock()
				return
			}
			r.Apply(event)
		}
	}
}

// Close leaves the room and stops the event loop.
func (r *Reconciler) Close() error {
	r.mu.Lock()
	playlistID := r.playlistID
	r.state = Disconnected
	r.mu.Unlock()
	close(r.done)
	if playlistID != "" {
		_ = r.feed.Leave(playlistID)
	}
	return r.feed.Close()
}

// State reports the connection state; PendingActions the optimism overlay.
func (r *Reconciler) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Reconciler) PendingActions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Queue returns a copy of the current view in authoritative order.
func (r *Reconciler) Queue() []Song {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Song(nil), r.queue...)
}

// CurrentSong returns the playing song, if any.
func (r *Reconciler) CurrentSong() (Song, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.queue {
		if s.IsPlaying {
			return s, true
		}
	}
	return Song{}, false
}

// Apply folds one room event into the view. The transforms are the same ones
// the optimistic path uses, so a mutation learned remotely first and one
// learned locally first land on identical state. Authoritative payloads
// replace local records wholesale.
func (r *Reconciler) Apply(event Event) {
	r.mu.Lock()
	switch event.Kind {
	case EventQueueUpdate:
		r.queue = append([]Song(nil), event.Queue...)
	case EventSongAdded:
		if event.Song != nil {
			r.upsertLocked(*event.Song)
		}
	case EventSongVoted:
		r.setTallyLocked(event.SongID, event.VoteCount)
	case EventSongRemoved:
		r.deleteLocked(event.SongID)
	case EventSongPlaying:
		r.setPlayingLocked(event.SongID)
	case EventJoinPlaylist, EventLeavePlaylist:
		// control messages, nothing to fold
	}
	r.sortLocked()
	r.mu.Unlock()
	r.notify()
}

// AddSong applies an optimistic placeholder, posts the song, and replaces the
// placeholder with the server's record. On failure the placeholder is
// removed.
func (r *Reconciler) AddSong(ctx context.Context, req AddSongRequest) (Song, error) {
	actionID := uuid.NewString()
	tempID := "pending-" + actionID

	r.mu.Lock()
	maxPos := int64(0)
	for _, s := range r.queue {
		if s.Position > maxPos {
			maxPos = s.Position
		}
	}
	placeholder := Song{
		ID:           tempID,
		Title:        req.Title,
		ThumbnailURL: req.ThumbnailURL,
		AddedByID:    r.userID,
		PlaylistID:   r.playlistID,
		Position:     maxPos + 1,
		CreatedAt:    time.Now(),
	}
	r.upsertLocked(placeholder)
	r.pending[actionID] = func() { r.deleteLocked(tempID) }
	r.sortLocked()
	playlistID := r.playlistID
	r.mu.Unlock()
	r.notify()

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	song, err := r.api.AddSong(ctx, playlistID, req)
	if err != nil {
		r.rollback(actionID)
		return Song{}, err
	}

	r.mu.Lock()
	delete(r.pending, actionID)
	r.deleteLocked(tempID)
	r.upsertLocked(song)
	r.sortLocked()
	r.mu.Unlock()
	r.notify()
	return song, nil
}

// VoteSong applies the vote locally (count minus the old own-vote plus the
// new one), then casts it. The server's tally replaces the local guess either
// via the response or the following song_voted event.
func (r *Reconciler) VoteSong(ctx context.Context, songID string, value int) error {
	if value != -1 && value != 1 {
		return errors.New("vote value must be -1 or 1")
	}

	actionID := uuid.NewString()
	r.mu.Lock()
	idx := r.indexLocked(songID)
	if idx < 0 {
		r.mu.Unlock()
		return errors.New("song not in queue")
	}
	prevCount := r.queue[idx].VoteCount
	prevVote := r.queue[idx].UserVote
	r.queue[idx].VoteCount = prevCount - prevVote + value
	r.queue[idx].UserVote = value
	r.pending[actionID] = func() {
		if i := r.indexLocked(songID); i >= 0 {
			r.queue[i].VoteCount = prevCount
			r.queue[i].UserVote = prevVote
		}
	}
	r.sortLocked()
	r.mu.Unlock()
	r.notify()

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	result, err := r.api.VoteSong(ctx, songID, value)
	if err != nil {
		r.rollback(actionID)
		return err
	}

	r.mu.Lock()
	delete(r.pending, actionID)
	if i := r.indexLocked(songID); i >= 0 {
		r.queue[i].VoteCount = result.VoteCount
		r.queue[i].UserVote = result.UserVote
	}
	r.sortLocked()
	r.mu.Unlock()
	r.notify()
	return nil
}

// RemoveSong drops the song locally and issues the delete; a failure puts the
// stashed record back.
func (r *Reconciler) RemoveSong(ctx context.Context, songID string) error {
	actionID := uuid.NewString()
	r.mu.Lock()
	idx := r.indexLocked(songID)
	if idx < 0 {
		r.mu.Unlock()
		return errors.New("song not in queue")
	}
	stashed := r.queue[idx]
	r.deleteLocked(songID)
	r.pending[actionID] = func() { r.upsertLocked(stashed) }
	r.sortLocked()
	r.mu.Unlock()
	r.notify()

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if err := r.api.RemoveSong(ctx, songID); err != nil {
		r.rollback(actionID)
		return err
	}

	r.mu.Lock()
	delete(r.pending, actionID)
	r.mu.Unlock()
	return nil
}

// SetPlaying moves the playing flag locally and issues the request; a failure
// restores the previous flags.
func (r *Reconciler) SetPlaying(ctx context.Context, songID string) error {
	actionID := uuid.NewString()
	r.mu.Lock()
	if r.indexLocked(songID) < 0 {
		r.mu.Unlock()
		return errors.New("song not in queue")
	}
	prev := make(map[string]bool, len(r.queue))
	for _, s := range r.queue {
		prev[s.ID] = s.IsPlaying
	}
	r.setPlayingLocked(songID)
	r.pending[actionID] = func() {
		for i := range r.queue {
			r.queue[i].IsPlaying = prev[r.queue[i].ID]
		}
	}
	r.mu.Unlock()
	r.notify()

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if err := r.api.SetPlaying(ctx, songID); err != nil {
		r.rollback(actionID)
		return err
	}

	r.mu.Lock()
	delete(r.pending, actionID)
	r.mu.Unlock()
	return nil
}

func (r *Reconciler) rollback(actionID string) {
	r.mu.Lock()
	undo, ok := r.pending[actionID]
	if ok {
		delete(r.pending, actionID)
		undo()
		r.sortLocked()
	}
	r.mu.Unlock()
	if ok {
		r.notify()
	}
}

func (r *Reconciler) indexLocked(songID string) int {
	for i, s := range r.queue {
		if s.ID == songID {
			return i
		}
	}
	return -1
}

func (r *Reconciler) upsertLocked(song Song) {
	if i := r.indexLocked(song.ID); i >= 0 {
		r.queue[i] = song
		return
	}
	r.queue = append(r.queue, song)
}

func (r *Reconciler) deleteLocked(songID string) {
	if i := r.indexLocked(songID); i >= 0 {
		r.queue = append(r.queue[:i], r.queue[i+1:]...)
	}
}

func (r *Reconciler) setTallyLocked(songID string, tally int) {
	if i := r.indexLocked(songID); i >= 0 {
		r.queue[i].VoteCount = tally
	}
}

func (r *Reconciler) setPlayingLocked(songID string) {
	for i := range r.queue {
		r.queue[i].IsPlaying = r.queue[i].ID == songID
	}
}

func (r *Reconciler) sortLocked() {
	sort.SliceStable(r.queue, func(i, j int) bool { return rankLess(r.queue[i], r.queue[j]) })
}

func (r *Reconciler) notify() {
	if r.onChange == nil {
		return
	}
	r.onChange(r.Queue())
}
