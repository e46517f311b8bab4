// this file defines the closed set of events carried by playlist rooms
package main

import "encoding/json"

type EventKind string

const (
	EventQueueUpdate EventKind = "queue_update"
	EventSongAdded   EventKind = "song_added"
	EventSongVoted   EventKind = "song_voted"
	EventSongRemoved EventKind = "song_removed"
	EventSongPlaying EventKind = "song_playing"

	// client-to-server control messages on the socket
	EventJoinPlaylist  EventKind = "join_playlist"
	EventLeavePlaylist EventKind = "leave_playlist"
)

// Event is the tagged variant delivered to room subscribers. Exactly one of
// the payload fields is set, according to Kind.
type Event struct {
	Kind       EventKind       `json:"event"`
	PlaylistID string          `json:"playlistId"`
	Queue      []SongWithVotes `json:"queue,omitempty"`
	Song       *SongWithVotes  `json:"song,omitempty"`
	SongID     string          `json:"songId,omitempty"`
	VoteCount  int             `json:"voteCount,omitempty"`
}

func QueueUpdateEvent(playlistID string, queue []SongWithVotes) Event {
	return Event{Kind: EventQueueUpdate, PlaylistID: playlistID, Queue: queue}
}

func SongAddedEvent(playlistID string, song SongWithVotes) Event {
	return Event{Kind: EventSongAdded, PlaylistID: playlistID, Song: &song}
}

func SongVotedEvent(playlistID, songID string, tally int) Event {
	return Event{Kind: EventSongVoted, PlaylistID: playlistID, SongID: songID, VoteCount: tally}
}

func SongRemovedEvent(playlistID, songID string) Event {
	return Event{Kind: EventSongRemoved, PlaylistID: playlistID, SongID: songID}
}

func SongPlayingEvent(playlistID, songID string) Event {
	return Event{Kind: EventSongPlaying, PlaylistID: playlistID, SongID: songID}
}

func (e Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

func UnmarshalEvent(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, err
	}
	switch e.Kind {
	case EventQueueUpdate, EventSongAdded, EventSongVoted,
		EventSongRemoved, EventSongPlaying,
		EventJoinPlaylist, EventLeavePlaylist:
		return e, nil
	}
	return Event{}, ErrValidation
}
