// Package queue walks one user through their pending decisions one at a time.
//
// The queue holds a snapshot of pending decisions and a session-local set of
// dismissed proposals. Every refresh replaces the snapshot wholesale, so
// concurrent refreshes resolve last-write-wins without partial merges.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"huddle/api/internal/feed"
	"huddle/api/internal/store"
)

// ErrEmpty is returned by Vote when nothing is left to decide.
var ErrEmpty = errors.New("no pending decision")

// Source reads and votes on behalf of the queue's user. It is satisfied by
// app.SessionSource in process and by client.Client over HTTP.
type Source interface {
	PendingDecisions(ctx context.Context) ([]store.PendingDecision, error)
	CastVote(ctx context.Context, proposalID string, value store.VoteValue) (store.CastVoteResult, error)
}

type Queue struct {
	source Source

	mu        sync.Mutex
	pending   []store.PendingDecision
	dismissed map[string]struct{}
}

func New(source Source) *Queue {
	return &Queue{source: source, dismissed: map[string]struct{}{}}
}

// Refresh replaces the pending snapshot. On error the previous snapshot is kept.
func (q *Queue) Refresh(ctx context.Context) error {
	items, err := q.source.PendingDecisions(ctx)
	if err != nil {
		return fmt.Errorf("refresh pending decisions: %w", err)
	}

	snapshot := append([]store.PendingDecision(nil), items...)
	sort.SliceStable(snapshot, func(i, j int) bool {
		a, b := snapshot[i].Proposal, snapshot[j].Proposal
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})

	q.mu.Lock()
	q.pending = snapshot
	q.mu.Unlock()
	return nil
}

// Current returns the first pending decision that has not been dismissed.
func (q *Queue) Current() (store.PendingDecision, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.currentLocked()
}

func (q *Queue) currentLocked() (store.PendingDecision, bool) {
	for _, item := range q.pending {
		if _, skip := q.dismissed[item.Proposal.ID]; !skip {
			return item, true
		}
	}
	return store.PendingDecision{}, false
}

// Dismiss hides the current decision for the rest of the session. It does
// not vote and does not touch the snapshot.
func (q *Queue) Dismiss() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	item, ok := q.currentLocked()
	if !ok {
		return false
	}
	q.dismissed[item.Proposal.ID] = struct{}{}
	return true
}

// Remaining counts decisions that are neither voted on nor dismissed.
func (q *Queue) Remaining() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, item := range q.pending {
		if _, skip := q.dismissed[item.Proposal.ID]; !skip {
			n++
		}
	}
	return n
}

// Vote casts value on the current decision and refreshes. A failed vote
// leaves the queue untouched. The vote stands even when the follow-up
// refresh fails; that error is returned alongside the result.
func (q *Queue) Vote(ctx context.Context, value store.VoteValue) (store.CastVoteResult, error) {
	item, ok := q.Current()
	if !ok {
		return store.CastVoteResult{}, ErrEmpty
	}

	result, err := q.source.CastVote(ctx, item.Proposal.ID, value)
	if err != nil {
		return store.CastVoteResult{}, err
	}
	if err := q.Refresh(ctx); err != nil {
		return result, err
	}
	return result, nil
}

// Bind refreshes whenever a proposal or vote changes in one of groupIDs,
// then performs an initial refresh. The returned func stops listening.
func (q *Queue) Bind(ctx context.Context, sub feed.Subscriber, groupIDs []string) (func(), error) {
	if len(groupIDs) == 0 {
		return func() {}, q.Refresh(ctx)
	}
	filter := feed.Filter{
		Tables:   []string{feed.TableProposals, feed.TableVotes},
		Ops:      []feed.Op{feed.OpInsert, feed.OpUpdate, feed.OpDelete},
		GroupIDs: append([]string(nil), groupIDs...),
	}
	cancel := sub.OnChange(filter, func(change feed.Change) {
		refreshCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
		defer done()
		if err := q.Refresh(refreshCtx); err != nil {
			log.Printf("queue: refresh after %s %s: %v", change.Table, change.Op, err)
		}
	})
	if err := q.Refresh(ctx); err != nil {
		cancel()
		return func() {}, err
	}
	return cancel, nil
}
