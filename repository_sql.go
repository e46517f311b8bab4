// this file implements the repository queries shared by the postgres and
// sqlite engines; the engine files own connection setup and schema bootstrap
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

type SQLRepository struct {
	db *sqlx.DB
}

const songColumns = `song_id, youtube_id, title, artist, thumbnail_url, duration,
	added_by, playlist_id, position, is_playing, created_at, updated_at`

func scanSong(row interface{ Scan(...interface{}) error }) (*Song, error) {
	var s Song
	var created, updated int64
	err := row.Scan(&s.ID, &s.YoutubeID, &s.Title, &s.Artist, &s.ThumbnailURL,
		&s.Duration, &s.AddedByID, &s.PlaylistID, &s.Position, &s.IsPlaying,
		&created, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan song: %w", err)
	}
	s.CreatedAt = time.UnixMilli(created).UTC()
	s.UpdatedAt = time.UnixMilli(updated).UTC()
	return &s, nil
}

func (r *SQLRepository) InsertUser(ctx context.Context, user User) error {
	query := r.db.Rebind(`
	  insert into users (user_id, name, email, password_hash, created_at)
	  values (?, ?, ?, ?, ?);`)
	_, err := r.db.ExecContext(ctx, query,
		user.ID, user.Name, user.Email, user.PasswordHash, user.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (r *SQLRepository) getUser(ctx context.Context, where, arg string) (*User, error) {
	query := r.db.Rebind(`
	  select user_id, name, email, password_hash, created_at
	  from users where ` + where + `=?;`)
	var u User
	var created int64
	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&u.ID, &u.Name, &u.Email, &u.PasswordHash, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	u.CreatedAt = time.UnixMilli(created).UTC()
	return &u, nil
}

func (r *SQLRepository) GetUserByID(ctx context.Context, userID string) (*User, error) {
	return r.getUser(ctx, "user_id", userID)
}

func (r *SQLRepository) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return r.getUser(ctx, "email", email)
}

func (r *SQLRepository) InsertPlaylist(ctx context.Context, p Playlist) error {
	query := r.db.Rebind(`
	  insert into playlists (playlist_id, name, description, owner_id,
							 is_public, autoplay, created_at, updated_at)
	  values (?, ?, ?, ?, ?, ?, ?, ?);`)
	_, err := r.db.ExecContext(ctx, query, p.ID, p.Name, p.Description, p.OwnerID,
		p.IsPublic, p.Autoplay, p.CreatedAt.UnixMilli(), p.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert playlist: %w", err)
	}
	return nil
}

func scanPlaylist(row interface{ Scan(...interface{}) error }) (*Playlist, error) {
	var p Playlist
	var created, updated int64
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.OwnerID,
		&p.IsPublic, &p.Autoplay, &created, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan playlist: %w", err)
	}
	p.CreatedAt = time.UnixMilli(created).UTC()
	p.UpdatedAt = time.UnixMilli(updated).UTC()
	return &p, nil
}

const playlistColumns = `playlist_id, name, description, owner_id, is_public,
	autoplay, created_at, updated_at`

func (r *SQLRepository) GetPlaylistByID(ctx context.Context, playlistID string) (*Playlist, error) {
	query := r.db.Rebind(`select ` + playlistColumns + ` from playlists where playlist_id=?;`)
	return scanPlaylist(r.db.QueryRowContext(ctx, query, playlistID))
}

func (r *SQLRepository) GetVisiblePlaylists(ctx context.Context, userID string) ([]Playlist, error) {
	query := r.db.Rebind(`
	  select ` + playlistColumns + ` from playlists
	  where is_public=true or owner_id=?
	  order by created_at, playlist_id;`)
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("visible playlists: %w", err)
	}
	defer rows.Close()

	playlists := make([]Playlist, 0)
	for rows.Next() {
		p, err := scanPlaylist(rows)
		if err != nil {
			return nil, err
		}
		playlists = append(playlists, *p)
	}
	return playlists, rows.Err()
}

func (r *SQLRepository) UpdatePlaylist(ctx context.Context, p Playlist) error {
	query := r.db.Rebind(`
	  update playlists
	  set name=?, description=?, is_public=?, autoplay=?, updated_at=?
	  where playlist_id=?;`)
	res, err := r.db.ExecContext(ctx, query, p.Name, p.Description,
		p.IsPublic, p.Autoplay, p.UpdatedAt.UnixMilli(), p.ID)
	if err != nil {
		return fmt.Errorf("update playlist: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SQLRepository) DeletePlaylist(ctx context.Context, playlistID string) error {
	query := r.db.Rebind(`delete from playlists where playlist_id=?;`)
	res, err := r.db.ExecContext(ctx, query, playlistID)
	if err != nil {
		return fmt.Errorf("delete playlist: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SQLRepository) PlaylistsWithAutoplay(ctx context.Context) ([]Playlist, error) {
	query := `select ` + playlistColumns + ` from playlists where autoplay=true;`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("autoplay playlists: %w", err)
	}
	defer rows.Close()

	playlists := make([]Playlist, 0)
	for rows.Next() {
		p, err := scanPlaylist(rows)
		if err != nil {
			return nil, err
		}
		playlists = append(playlists, *p)
	}
	return playlists, rows.Err()
}

func (r *SQLRepository) InsertSong(ctx context.Context, s Song) error {
	query := r.db.Rebind(`
	  insert into songs (` + songColumns + `)
	  values (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`)
	_, err := r.db.ExecContext(ctx, query, s.ID, s.YoutubeID, s.Title, s.Artist,
		s.ThumbnailURL, s.Duration, s.AddedByID, s.PlaylistID, s.Position,
		s.IsPlaying, s.CreatedAt.UnixMilli(), s.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert song: %w", err)
	}
	return nil
}

func (r *SQLRepository) GetSongByID(ctx context.Context, songID string) (*Song, error) {
	query := r.db.Rebind(`select ` + songColumns + ` from songs where song_id=?;`)
	return scanSong(r.db.QueryRowContext(ctx, query, songID))
}

func (r *SQLRepository) GetSongsByPlaylist(ctx context.Context, playlistID string) ([]Song, error) {
	query := r.db.Rebind(`
	  select ` + songColumns + ` from songs
	  where playlist_id=? order by position;`)
	rows, err := r.db.QueryContext(ctx, query, playlistID)
	if err != nil {
		return nil, fmt.Errorf("songs by playlist: %w", err)
	}
	defer rows.Close()

	songs := make([]Song, 0)
	for rows.Next() {
		s, err := scanSong(rows)
		if err != nil {
			return nil, err
		}
		songs = append(songs, *s)
	}
	return songs, rows.Err()
}

func (r *SQLRepository) NextPosition(ctx context.Context, playlistID string) (int64, error) {
	query := r.db.Rebind(`
	  select coalesce(max(position), 0) + 1 from songs where playlist_id=?;`)
	var next int64
	if err := r.db.QueryRowContext(ctx, query, playlistID).Scan(&next); err != nil {
		return 0, fmt.Errorf("next position: %w", err)
	}
	return next, nil
}

func (r *SQLRepository) MarkPlaying(ctx context.Context, playlistID, songID string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("mark playing: %w", err)
	}
	defer tx.Rollback()

	clear := tx.Rebind(`update songs set is_playing=false, updated_at=? where playlist_id=?;`)
	if _, err := tx.ExecContext(ctx, clear, time.Now().UnixMilli(), playlistID); err != nil {
		return fmt.Errorf("mark playing: %w", err)
	}
	set := tx.Rebind(`update songs set is_playing=true, updated_at=?
	  where song_id=? and playlist_id=?;`)
	res, err := tx.ExecContext(ctx, set, time.Now().UnixMilli(), songID, playlistID)
	if err != nil {
		return fmt.Errorf("mark playing: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

func (r *SQLRepository) DeleteSong(ctx context.Context, songID string) error {
	query := r.db.Rebind(`delete from songs where song_id=?;`)
	res, err := r.db.ExecContext(ctx, query, songID)
	if err != nil {
		return fmt.Errorf("delete song: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SQLRepository) DeleteSongsByPlaylist(ctx context.Context, playlistID string) error {
	query := r.db.Rebind(`delete from songs where playlist_id=?;`)
	if _, err := r.db.ExecContext(ctx, query, playlistID); err != nil {
		return fmt.Errorf("delete songs: %w", err)
	}
	return nil
}

func (r *SQLRepository) UpsertVote(ctx context.Context, v Vote) error {
	query := r.db.Rebind(`
	  insert into votes (vote_id, song_id, user_id, value, created_at, updated_at)
	  values (?, ?, ?, ?, ?, ?)
	  on conflict(song_id, user_id) do update
		 set value=excluded.value,
			 updated_at=excluded.updated_at;`)
	_, err := r.db.ExecContext(ctx, query, v.ID, v.SongID, v.UserID, v.Value,
		v.CreatedAt.UnixMilli(), v.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("upsert vote: %w", err)
	}
	return nil
}

func (r *SQLRepository) GetVote(ctx context.Context, songID, userID string) (*Vote, error) {
	query := r.db.Rebind(`
	  select vote_id, song_id, user_id, value, created_at, updated_at
	  from votes where song_id=? and user_id=?;`)
	var v Vote
	var created, updated int64
	err := r.db.QueryRowContext(ctx, query, songID, userID).Scan(
		&v.ID, &v.SongID, &v.UserID, &v.Value, &created, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get vote: %w", err)
	}
	v.CreatedAt = time.UnixMilli(created).UTC()
	v.UpdatedAt = time.UnixMilli(updated).UTC()
	return &v, nil
}

func (r *SQLRepository) TallyForSongs(ctx context.Context, songIDs []string) (map[string]int, error) {
	result := make(map[string]int)
	if len(songIDs) == 0 {
		return result, nil
	}
	query, args, err := sqlx.In(
		`select song_id, sum(value) from votes where song_id in (?) group by song_id;`, songIDs)
	if err != nil {
		return nil, fmt.Errorf("tally query: %w", err)
	}
	rows, err := r.db.QueryContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("tally: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var songID string
		var sum int
		if err := rows.Scan(&songID, &sum); err != nil {
			return nil, fmt.Errorf("tally scan: %w", err)
		}
		result[songID] = sum
	}
	return result, rows.Err()
}

func (r *SQLRepository) VotesForUser(ctx context.Context, songIDs []string, userID string) (map[string]int, error) {
	result := make(map[string]int)
	if len(songIDs) == 0 {
		return result, nil
	}
	query, args, err := sqlx.In(
		`select song_id, value from votes where user_id=? and song_id in (?);`, userID, songIDs)
	if err != nil {
		return nil, fmt.Errorf("user votes query: %w", err)
	}
	rows, err := r.db.QueryContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("user votes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var songID string
		var value int
		if err := rows.Scan(&songID, &value); err != nil {
			return nil, fmt.Errorf("user votes scan: %w", err)
		}
		result[songID] = value
	}
	return result, rows.Err()
}

func (r *SQLRepository) DeleteVotesBySong(ctx context.Context, songID string) error {
	query := r.db.Rebind(`delete from votes where song_id=?;`)
	if _, err := r.db.ExecContext(ctx, query, songID); err != nil {
		return fmt.Errorf("delete votes: %w", err)
	}
	return nil
}

func (r *SQLRepository) DeleteVotesByPlaylist(ctx context.Context, playlistID string) error {
	query := r.db.Rebind(`
	  delete from votes where song_id in
		(select song_id from songs where playlist_id=?);`)
	if _, err := r.db.ExecContext(ctx, query, playlistID); err != nil {
		return fmt.Errorf("delete playlist votes: %w", err)
	}
	return nil
}

func (r *SQLRepository) Close() error {
	return r.db.Close()
}
