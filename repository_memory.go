// this file implements the in-memory storage engine, used by tests and by
// DB_URL=memory:// deployments that accept losing state on restart
package main

import (
	"context"
	"sort"
	"sync"
)

type MemoryRepository struct {
	mu        sync.RWMutex
	users     map[string]User
	playlists map[string]Playlist
	songs     map[string]Song
	// votes keyed by songID then userID, so upsert is a plain map write
	votes map[string]map[string]Vote
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		users:     make(map[string]User),
		playlists: make(map[string]Playlist),
		songs:     make(map[string]Song),
		votes:     make(map[string]map[string]Vote),
	}
}

func (r *MemoryRepository) InsertUser(_ context.Context, user User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[user.ID] = user
	return nil
}

func (r *MemoryRepository) GetUserByID(_ context.Context, userID string) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

func (r *MemoryRepository) GetUserByEmail(_ context.Context, email string) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, u := range r.users {
		if u.Email == email {
			u := u
			return &u, nil
		}
	}
	return nil, ErrNotFound
}

func (r *MemoryRepository) InsertPlaylist(_ context.Context, playlist Playlist) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.playlists[playlist.ID] = playlist
	return nil
}

func (r *MemoryRepository) GetPlaylistByID(_ context.Context, playlistID string) (*Playlist, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.playlists[playlistID]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (r *MemoryRepository) GetVisiblePlaylists(_ context.Context, userID string) ([]Playlist, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Playlist, 0)
	for _, p := range r.playlists {
		if p.IsPublic || p.OwnerID == userID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *MemoryRepository) UpdatePlaylist(_ context.Context, playlist Playlist) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.playlists[playlist.ID]; !ok {
		return ErrNotFound
	}
	r.playlists[playlist.ID] = playlist
	return nil
}

func (r *MemoryRepository) DeletePlaylist(_ context.Context, playlistID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.playlists[playlistID]; !ok {
		return ErrNotFound
	}
	delete(r.playlists, playlistID)
	return nil
}

func (r *MemoryRepository) PlaylistsWithAutoplay(_ context.Context) ([]Playlist, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Playlist, 0)
	for _, p := range r.playlists {
		if p.Autoplay {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *MemoryRepository) InsertSong(_ context.Context, song Song) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.songs[song.ID] = song
	return nil
}

func (r *MemoryRepository) GetSongByID(_ context.Context, songID string) (*Song, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.songs[songID]
	if !ok {
		return nil, ErrNotFound
	}
	return &s, nil
}

func (r *MemoryRepository) GetSongsByPlaylist(_ context.Context, playlistID string) ([]Song, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Song, 0)
	for _, s := range r.songs {
		if s.PlaylistID == playlistID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (r *MemoryRepository) NextPosition(_ context.Context, playlistID string) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var max int64
	for _, s := range r.songs {
		if s.PlaylistID == playlistID && s.Position > max {
			max = s.Position
		}
	}
	return max + 1, nil
}

func (r *MemoryRepository) MarkPlaying(_ context.Context, playlistID, songID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	target, ok := r.songs[songID]
	if !ok || target.PlaylistID != playlistID {
		return ErrNotFound
	}
	for id, s := range r.songs {
		if s.PlaylistID != playlistID {
			continue
		}
		s.IsPlaying = id == songID
		r.songs[id] = s
	}
	return nil
}

func (r *MemoryRepository) DeleteSong(_ context.Context, songID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.songs[songID]; !ok {
		return ErrNotFound
	}
	delete(r.songs, songID)
	return nil
}

func (r *MemoryRepository) DeleteSongsByPlaylist(_ context.Context, playlistID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, s := range r.songs {
		if s.PlaylistID == playlistID {
			delete(r.songs, id)
		}
	}
	return nil
}

func (r *MemoryRepository) UpsertVote(_ context.Context, vote Vote) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	bySong, ok := r.votes[vote.SongID]
	if !ok {
		bySong = make(map[string]Vote)
		r.votes[vote.SongID] = bySong
	}
	if prev, ok := bySong[vote.UserID]; ok {
		vote.ID = prev.ID
		vote.CreatedAt = prev.CreatedAt
	}
	bySong[vote.UserID] = vote
	return nil
}

func (r *MemoryRepository) GetVote(_ context.Context, songID, userID string) (*Vote, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.votes[songID][userID]
	if !ok {
		return nil, ErrNotFound
	}
	return &v, nil
}

func (r *MemoryRepository) TallyForSongs(_ context.Context, songIDs []string) (map[string]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]int, len(songIDs))
	for _, songID := range songIDs {
		sum := 0
		for _, v := range r.votes[songID] {
			sum += v.Value
		}
		if sum != 0 {
			out[songID] = sum
		}
	}
	return out, nil
}

func (r *MemoryRepository) VotesForUser(_ context.Context, songIDs []string, userID string) (map[string]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]int)
	for _, songID := range songIDs {
		if v, ok := r.votes[songID][userID]; ok {
			out[songID] = v.Value
		}
	}
	return out, nil
}

func (r *MemoryRepository) DeleteVotesBySong(_ context.Context, songID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.votes, songID)
	return nil
}

func (r *MemoryRepository) DeleteVotesByPlaylist(_ context.Context, playlistID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for songID, s := range r.songs {
		if s.PlaylistID == playlistID {
			delete(r.votes, songID)
		}
	}
	return nil
}

func (r *MemoryRepository) Close() error { return nil }
