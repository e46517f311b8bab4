// this file implements the vote ledger: one record per (song, voter),
// tallies always recomputed from the records
package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type VoteLedger struct {
	repo      Repository
	publisher Publisher
	locks     *keyedMutex
}

func NewVoteLedger(repo Repository, publisher Publisher) *VoteLedger {
	return &VoteLedger{repo: repo, publisher: publisher, locks: newKeyedMutex()}
}

// CastVote upserts the caller's vote and returns the fresh tally. Casting the
// same value twice is a no-op on the tally because the record is replaced,
// never added. Concurrent casts for one song are serialized per song id, and
// the tally is published before the lock is released, so subscribers see
// tallies in commit order.
func (l *VoteLedger) CastVote(ctx context.Context, songID, userID string, value int) (VoteResult, error) {
	if userID == "" {
		return VoteResult{}, ErrUnauthenticated
	}
	if value != -1 && value != 1 {
		return VoteResult{}, fmt.Errorf("%w: vote value must be -1 or 1", ErrValidation)
	}

	l.locks.Lock(songID)
	defer l.locks.Unlock(songID)

	song, err := l.repo.GetSongByID(ctx, songID)
	if err != nil {
		return VoteResult{}, err
	}

	now := time.Now().UTC()
	vote := Vote{
		ID:        uuid.NewString(),
		Value:     value,
		UserID:    userID,
		SongID:    songID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := l.repo.UpsertVote(ctx, vote); err != nil {
		return VoteResult{}, err
	}

	tally, err := l.TallyOf(ctx, songID)
	if err != nil {
		return VoteResult{}, err
	}
	if l.publisher != nil {
		l.publisher.Publish(song.PlaylistID, SongVotedEvent(song.PlaylistID, songID, tally))
	}
	return VoteResult{VoteCount: tally, UserVote: value}, nil
}

// TallyOf sums all vote values for a song, zero when none.
func (l *VoteLedger) TallyOf(ctx context.Context, songID string) (int, error) {
	tallies, err := l.repo.TallyForSongs(ctx, []string{songID})
	if err != nil {
		return 0, err
	}
	return tallies[songID], nil
}

// VoteOf returns the user's vote on a song, reporting absence via ok=false.
func (l *VoteLedger) VoteOf(ctx context.Context, songID, userID string) (int, bool, error) {
	vote, err := l.repo.GetVote(ctx, songID, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return vote.Value, true, nil
}
