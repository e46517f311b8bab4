// this file defines the data structures used throughout the backend
package main

import "time"

type Song struct {
	ID           string    `json:"id" db:"song_id"`
	YoutubeID    string    `json:"youtubeId" db:"youtube_id"`
	Title        string    `json:"title" db:"title"`
	Artist       string    `json:"artist,omitempty" db:"artist"`
	ThumbnailURL string    `json:"thumbnailUrl,omitempty" db:"thumbnail_url"`
	Duration     int64     `json:"duration,omitempty" db:"duration"`
	AddedByID    string    `json:"addedById" db:"added_by"`
	PlaylistID   string    `json:"playlistId" db:"playlist_id"`
	Position     int64     `json:"position" db:"position"`
	IsPlaying    bool      `json:"isPlaying" db:"is_playing"`
	CreatedAt    time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt    time.Time `json:"updatedAt" db:"updated_at"`
}

type Vote struct {
	ID        string    `json:"id" db:"vote_id"`
	Value     int       `json:"value" db:"value"`
	UserID    string    `json:"userId" db:"user_id"`
	SongID    string    `json:"songId" db:"song_id"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// SongWithVotes is the derived view of a song: the stored record plus the
// tally from the vote ledger and the viewer's own vote. It is never stored.
type SongWithVotes struct {
	Song
	VoteCount int `json:"voteCount"`
	UserVote  int `json:"userVote,omitempty"`
}

type Playlist struct {
	ID          string    `json:"id" db:"playlist_id"`
	Name        string    `json:"name" db:"name"`
	Description string    `json:"description,omitempty" db:"description"`
	OwnerID     string    `json:"ownerId" db:"owner_id"`
	IsPublic    bool      `json:"isPublic" db:"is_public"`
	Autoplay    bool      `json:"autoplay" db:"autoplay"`
	CreatedAt   time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt   time.Time `json:"updatedAt" db:"updated_at"`
}

type User struct {
	ID           string    `json:"id" db:"user_id"`
	Name         string    `json:"name,omitempty" db:"name"`
	Email        string    `json:"email" db:"email"`
	PasswordHash string    `json:"-" db:"password_hash"`
	CreatedAt    time.Time `json:"createdAt" db:"created_at"`
}

// VoteResult is what a vote cast returns: the fresh tally and the caller's
// now-current vote value.
type VoteResult struct {
	VoteCount int `json:"voteCount"`
	UserVote  int `json:"userVote"`
}

// rankLess is the one ordering function for queues. Higher tally first, then
// insertion order (position is dense per playlist), then id so the order is
// total. Every consumer, server or client, must sort with this and nothing
// else, otherwise two views of the same state diverge.
func rankLess(a, b SongWithVotes) bool {
	if a.VoteCount != b.VoteCount {
		return a.VoteCount > b.VoteCount
	}
	if a.Position != b.Position {
		return a.Position < b.Position
	}
	return a.ID < b.ID
}
