// this file implements the queue store: the authoritative per-playlist song
// collection and the playback pointer invariant
package main

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// MetadataResolver turns an external media reference (a YouTube URL or bare
// video id) into displayable metadata. Failure means the reference is bad.
type MetadataResolver interface {
	Resolve(ctx context.Context, mediaRef string) (*VideoMeta, error)
}

type VideoMeta struct {
	VideoID      string
	Title        string
	Artist       string
	ThumbnailURL string
	Duration     int64
}

type QueueStore struct {
	repo      Repository
	ledger    *VoteLedger
	resolver  MetadataResolver
	publisher Publisher
	locks     *keyedMutex
}

func NewQueueStore(repo Repository, ledger *VoteLedger, resolver MetadataResolver, publisher Publisher) *QueueStore {
	return &QueueStore{
		repo:      repo,
		ledger:    ledger,
		resolver:  resolver,
		publisher: publisher,
		locks:     newKeyedMutex(),
	}
}

// Enqueue resolves the media reference, assigns an id and the next position
// after the current tail and persists the song. Explicit title/thumbnail from
// the caller win over resolved metadata, matching what the web client sends.
func (q *QueueStore) Enqueue(ctx context.Context, playlistID, mediaRef, title, thumbnailURL, requestor string) (SongWithVotes, error) {
	if requestor == "" {
		return SongWithVotes{}, ErrUnauthenticated
	}
	if _, err := q.repo.GetPlaylistByID(ctx, playlistID); err != nil {
		return SongWithVotes{}, err
	}

	meta, err := q.resolver.Resolve(ctx, mediaRef)
	if err != nil {
		return SongWithVotes{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if title == "" {
		title = meta.Title
	}
	if thumbnailURL == "" {
		thumbnailURL = meta.ThumbnailURL
	}

	q.locks.Lock(playlistID)
	defer q.locks.Unlock(playlistID)

	position, err := q.repo.NextPosition(ctx, playlistID)
	if err != nil {
		return SongWithVotes{}, err
	}

	now := time.Now().UTC()
	song := Song{
		ID:           uuid.NewString(),
		YoutubeID:    meta.VideoID,
		Title:        title,
		Artist:       meta.Artist,
		ThumbnailURL: thumbnailURL,
		Duration:     meta.Duration,
		AddedByID:    requestor,
		PlaylistID:   playlistID,
		Position:     position,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := q.repo.InsertSong(ctx, song); err != nil {
		return SongWithVotes{}, err
	}
	added := SongWithVotes{Song: song}
	if q.publisher != nil {
		q.publisher.Publish(playlistID, SongAddedEvent(playlistID, added))
	}
	return added, nil
}

// Remove deletes a song and its votes. Only the adder or the playlist owner
// may remove. Removing the playing song leaves the playlist with nothing
// playing until somebody calls SetPlaying.
func (q *QueueStore) Remove(ctx context.Context, songID, requestor string) error {
	if requestor == "" {
		return ErrUnauthenticated
	}
	song, err := q.repo.GetSongByID(ctx, songID)
	if err != nil {
		return err
	}

	q.locks.Lock(song.PlaylistID)
	defer q.locks.Unlock(song.PlaylistID)

	playlist, err := q.repo.GetPlaylistByID(ctx, song.PlaylistID)
	if err != nil {
		return err
	}
	if requestor != song.AddedByID && requestor != playlist.OwnerID {
		return fmt.Errorf("%w: only the adder or playlist owner can remove a song", ErrForbidden)
	}

	if err := q.repo.DeleteSong(ctx, songID); err != nil {
		return err
	}
	if err := q.repo.DeleteVotesBySong(ctx, songID); err != nil {
		return err
	}
	if q.publisher != nil {
		q.publisher.Publish(song.PlaylistID, SongRemovedEvent(song.PlaylistID, songID))
	}
	return nil
}

// SetPlaying moves the playback pointer: every other song of the playlist is
// cleared and songID is set, under the playlist lock, so two racing calls can
// never leave two songs marked playing. The event is published before the
// lock is released; the last delivered song_playing is the committed one.
func (q *QueueStore) SetPlaying(ctx context.Context, songID, requestor string) error {
	if requestor == "" {
		return ErrUnauthenticated
	}
	song, err := q.repo.GetSongByID(ctx, songID)
	if err != nil {
		return err
	}

	q.locks.Lock(song.PlaylistID)
	defer q.locks.Unlock(song.PlaylistID)

	if err := q.repo.MarkPlaying(ctx, song.PlaylistID, songID); err != nil {
		return err
	}
	if q.publisher != nil {
		q.publisher.Publish(song.PlaylistID, SongPlayingEvent(song.PlaylistID, songID))
	}
	return nil
}

// List returns the queue in authoritative order: tally descending, insertion
// order on ties. The result is reproducible from the same song and vote sets
// on any node.
func (q *QueueStore) List(ctx context.Context, playlistID, viewerID string) ([]SongWithVotes, error) {
	if _, err := q.repo.GetPlaylistByID(ctx, playlistID); err != nil {
		return nil, err
	}
	songs, err := q.repo.GetSongsByPlaylist(ctx, playlistID)
	if err != nil {
		return nil, err
	}

	songIDs := make([]string, len(songs))
	for i, s := range songs {
		songIDs[i] = s.ID
	}
	tallies, err := q.repo.TallyForSongs(ctx, songIDs)
	if err != nil {
		return nil, err
	}
	userVotes := make(map[string]int)
	if viewerID != "" {
		userVotes, err = q.repo.VotesForUser(ctx, songIDs, viewerID)
		if err != nil {
			return nil, err
		}
	}

	queue := make([]SongWithVotes, len(songs))
	for i, s := range songs {
		queue[i] = SongWithVotes{
			Song:      s,
			VoteCount: tallies[s.ID],
			UserVote:  userVotes[s.ID],
		}
	}
	sort.SliceStable(queue, func(i, j int) bool { return rankLess(queue[i], queue[j]) })
	return queue, nil
}
