// this file runs the autoplay engine: for playlists that opted in, the
// playing song is retired when its duration elapses and the top-ranked song
// is promoted, with the change broadcast like any other mutation
package main

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/log"
)

type playbackState struct {
	songID    string
	startedAt time.Time
}

type Radio struct {
	store  *QueueStore
	repo   Repository
	hub    *Hub
	logger *log.Logger

	ticker  *time.Ticker
	done    chan struct{}
	playing map[string]playbackState // playlistID -> current observation
}

func NewRadio(store *QueueStore, repo Repository, hub *Hub, logger *log.Logger) *Radio {
	return &Radio{
		store:   store,
		repo:    repo,
		hub:     hub,
		logger:  logger.With("component", "radio"),
		done:    make(chan struct{}),
		playing: make(map[string]playbackState),
	}
}

func (r *Radio) Start() {
	r.ticker = time.NewTicker(time.Second)
	go r.engine()
}

func (r *Radio) Shutdown() {
	r.ticker.Stop()
	close(r.done)
}

func (r *Radio) engine() {
	for {
		select {
		case <-r.done:
			return
		case now := <-r.ticker.C:
			r.tick(now)
		}
	}
}

func (r *Radio) tick(now time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	playlists, err := r.repo.PlaylistsWithAutoplay(ctx)
	if err != nil {
		r.logger.Warn("autoplay scan failed", "err", err)
		return
	}

	active := make(map[string]bool, len(playlists))
	for _, p := range playlists {
		active[p.ID] = true
		r.advance(ctx, p, now)
	}
	for playlistID := range r.playing {
		if !active[playlistID] {
			delete(r.playing, playlistID)
		}
	}
}

func (r *Radio) advance(ctx context.Context, playlist Playlist, now time.Time) {
	queue, err := r.store.List(ctx, playlist.ID, "")
	if err != nil {
		r.logger.Warn("autoplay list failed", "playlist", playlist.ID, "err", err)
		return
	}
	if len(queue) == 0 {
		delete(r.playing, playlist.ID)
		return
	}

	var current *SongWithVotes
	for i := range queue {
		if queue[i].IsPlaying {
			current = &queue[i]
			break
		}
	}

	// nothing playing yet: promote the top-ranked song
	if current == nil {
		r.promote(ctx, playlist, queue[0].ID)
		return
	}

	state, seen := r.playing[playlist.ID]
	if !seen || state.songID != current.ID {
		r.playing[playlist.ID] = playbackState{songID: current.ID, startedAt: now}
		return
	}
	if current.Duration <= 0 {
		// unknown length, leave it to the listeners
		return
	}
	if now.Sub(state.startedAt) < time.Duration(current.Duration)*time.Second {
		return
	}

	// song played out: retire it and move on; the store broadcasts the removal
	if err := r.store.Remove(ctx, current.ID, playlist.OwnerID); err != nil {
		if !errors.Is(err, ErrNotFound) {
			r.logger.Warn("autoplay remove failed", "song", current.ID, "err", err)
		}
		return
	}
	delete(r.playing, playlist.ID)
	r.logger.Info("song played out", "playlist", playlist.ID, "song", current.ID)

	next := ""
	for _, s := range queue {
		if s.ID != current.ID {
			next = s.ID
			break
		}
	}
	if next != "" {
		r.promote(ctx, playlist, next)
	}
}

func (r *Radio) promote(ctx context.Context, playlist Playlist, songID string) {
	if err := r.store.SetPlaying(ctx, songID, playlist.OwnerID); err != nil {
		r.logger.Warn("autoplay promote failed", "song", songID, "err", err)
		return
	}
	r.playing[playlist.ID] = playbackState{songID: songID, startedAt: time.Now()}

	if queue, err := r.store.List(ctx, playlist.ID, ""); err == nil {
		r.hub.Publish(playlist.ID, QueueUpdateEvent(playlist.ID, queue))
	}
	r.logger.Info("now playing", "playlist", playlist.ID, "song", songID)
}
