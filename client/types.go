// Package client implements the consumer side of the queue protocol: a
// reconciler that merges local optimistic edits with the server's broadcast
// events into one consistent queue view.
package client

import (
	"encoding/json"
	"errors"
	"time"
)

type Song struct {
	ID           string    `json:"id"`
	YoutubeID    string    `json:"youtubeId"`
	Title        string    `json:"title"`
	Artist       string    `json:"artist,omitempty"`
	ThumbnailURL string    `json:"thumbnailUrl,omitempty"`
	Duration     int64     `json:"duration,omitempty"`
	AddedByID    string    `json:"addedById"`
	PlaylistID   string    `json:"playlistId"`
	Position     int64     `json:"position"`
	IsPlaying    bool      `json:"isPlaying"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
	VoteCount    int       `json:"voteCount"`
	UserVote     int       `json:"userVote,omitempty"`
}

type VoteResult struct {
	VoteCount int `json:"voteCount"`
	UserVote  int `json:"userVote"`
}

type AddSongRequest struct {
	MediaRef     string `json:"mediaRef"`
	Title        string `json:"title,omitempty"`
	ThumbnailURL string `json:"thumbnailUrl,omitempty"`
}

type EventKind string

const (
	EventQueueUpdate   EventKind = "queue_update"
	EventSongAdded     EventKind = "song_added"
	EventSongVoted     EventKind = "song_voted"
	EventSongRemoved   EventKind = "song_removed"
	EventSongPlaying   EventKind = "song_playing"
	EventJoinPlaylist  EventKind = "join_playlist"
	EventLeavePlaylist EventKind = "leave_playlist"
)

// Event mirrors the server's tagged room event. Exactly one payload field is
// meaningful per kind.
type Event struct {
	Kind       EventKind `json:"event"`
	PlaylistID string    `json:"playlistId"`
	Queue      []Song    `json:"queue,omitempty"`
	Song       *Song     `json:"song,omitempty"`
	SongID     string    `json:"songId,omitempty"`
	VoteCount  int       `json:"voteCount,omitempty"`
}

var errUnknownEvent = errors.New("unknown event kind")

func decodeEvent(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, err
	}
	switch e.Kind {
	case EventQueueUpdate, EventSongAdded, EventSongVoted,
		EventSongRemoved, EventSongPlaying:
		return e, nil
	}
	return Event{}, errUnknownEvent
}

// rankLess matches the server's ordering function exactly: tally descending,
// insertion order ascending, id ascending. Both sides sorting with the same
// pure function is what makes local and remote folds converge.
func rankLess(a, b Song) bool {
	if a.VoteCount != b.VoteCount {
		return a.VoteCount > b.VoteCount
	}
	if a.Position != b.Position {
		return a.Position < b.Position
	}
	return a.ID < b.ID
}
