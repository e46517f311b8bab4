// this file wires the postgres storage engine
package main

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

func NewPostgresRepository(dbURL string) (*SQLRepository, error) {
	db, err := sqlx.Connect("postgres", dbURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	// make sure the required tables exist
	tables := []string{
		`create table if not exists users (
			user_id text primary key,
			name text not null default '',
			email text not null unique,
			password_hash text not null,
			created_at bigint not null
		);`,
		`create table if not exists playlists (
			playlist_id text primary key,
			name text not null,
			description text not null default '',
			owner_id text not null,
			is_public boolean not null default true,
			autoplay boolean not null default false,
			created_at bigint not null,
			updated_at bigint not null
		);`,
		`create table if not exists songs (
			song_id text primary key,
			youtube_id text not null,
			title text not null,
			artist text not null default '',
			thumbnail_url text not null default '',
			duration bigint not null default 0,
			added_by text not null,
			playlist_id text not null,
			position bigint not null,
			is_playing boolean not null default false,
			created_at bigint not null,
			updated_at bigint not null
		);`,
		`create table if not exists votes (
			vote_id text not null,
			song_id text not null,
			user_id text not null,
			value integer not null,
			created_at bigint not null,
			updated_at bigint not null,
			constraint votes_unq unique(song_id, user_id)
		);`,
		`create index if not exists songs_playlist_idx on songs(playlist_id);`,
		`create index if not exists votes_song_idx on votes(song_id);`,
	}
	for _, t := range tables {
		if _, err := db.Exec(t); err != nil {
			return nil, fmt.Errorf("bootstrap schema: %w", err)
		}
	}

	return &SQLRepository{db: db}, nil
}
