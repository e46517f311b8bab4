// this file declares the repository interfaces backing the queue core
package main

import "context"

type UserRepository interface {
	InsertUser(ctx context.Context, user User) error
	GetUserByID(ctx context.Context, userID string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
}

type PlaylistRepository interface {
	InsertPlaylist(ctx context.Context, playlist Playlist) error
	GetPlaylistByID(ctx context.Context, playlistID string) (*Playlist, error)
	GetVisiblePlaylists(ctx context.Context, userID string) ([]Playlist, error)
	UpdatePlaylist(ctx context.Context, playlist Playlist) error
	DeletePlaylist(ctx context.Context, playlistID string) error
	PlaylistsWithAutoplay(ctx context.Context) ([]Playlist, error)
}

type SongRepository interface {
	InsertSong(ctx context.Context, song Song) error
	GetSongByID(ctx context.Context, songID string) (*Song, error)
	GetSongsByPlaylist(ctx context.Context, playlistID string) ([]Song, error)
	NextPosition(ctx context.Context, playlistID string) (int64, error)
	// MarkPlaying clears is_playing on every other song of the playlist and
	// sets it on songID, in one statement/transaction.
	MarkPlaying(ctx context.Context, playlistID, songID string) error
	DeleteSong(ctx context.Context, songID string) error
	DeleteSongsByPlaylist(ctx context.Context, playlistID string) error
}

type VoteRepository interface {
	// UpsertVote replaces any prior (song, user) record.
	UpsertVote(ctx context.Context, vote Vote) error
	GetVote(ctx context.Context, songID, userID string) (*Vote, error)
	// TallyForSongs returns sum(value) per song id; absent key means zero.
	TallyForSongs(ctx context.Context, songIDs []string) (map[string]int, error)
	// VotesForUser returns the user's own value per song id.
	VotesForUser(ctx context.Context, songIDs []string, userID string) (map[string]int, error)
	DeleteVotesBySong(ctx context.Context, songID string) error
	DeleteVotesByPlaylist(ctx context.Context, playlistID string) error
}

// Repository is everything a storage engine must provide. Each engine
// (postgres, sqlite, memory) implements the whole thing, picked by the
// DB_URL scheme in main.
type Repository interface {
	UserRepository
	PlaylistRepository
	SongRepository
	VoteRepository
	Close() error
}
