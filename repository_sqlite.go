// this file wires the sqlite storage engine
package main

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

func NewSQLiteRepository(filePath string) (*SQLRepository, error) {
	if filePath == "" {
		filePath = "db.sqlite3"
	}
	db, err := sqlx.Connect("sqlite3", filePath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// serialize writers; sqlite locks the whole file anyway
	db.SetMaxOpenConns(1)

	tables := []string{
		`create table if not exists users (
			user_id text primary key,
			name text not null default '',
			email text not null unique,
			password_hash text not null,
			created_at integer not null
		);`,
		`create table if not exists playlists (
			playlist_id text primary key,
			name text not null,
			description text not null default '',
			owner_id text not null,
			is_public boolean not null default true,
			autoplay boolean not null default false,
			created_at integer not null,
			updated_at integer not null
		);`,
		`create table if not exists songs (
			song_id text primary key,
			youtube_id text not null,
			title text not null,
			artist text not null default '',
			thumbnail_url text not null default '',
			duration integer not null default 0,
			added_by text not null,
			playlist_id text not null,
			position integer not null,
			is_playing boolean not null default false,
			created_at integer not null,
			updated_at integer not null
		);`,
		`create table if not exists votes (
			vote_id text not null,
			song_id text not null,
			user_id text not null,
			value integer not null,
			created_at integer not null,
			updated_at integer not null,
			unique(song_id, user_id)
		);`,
	}
	for _, t := range tables {
		if _, err := db.Exec(t); err != nil {
			return nil, fmt.Errorf("bootstrap schema: %w", err)
		}
	}

	return &SQLRepository{db: db}, nil
}
