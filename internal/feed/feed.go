// Package feed delivers row-level change notifications to subscribers.
//
// Producers publish a Change after each committed write; consumers register
// with OnChange and a Filter scoped by table, operation and group. The
// transport is swappable: Hub is in-process, RedisFeed fans out across API
// replicas, and the client package feeds a Hub from a websocket.
package feed

import (
	"context"
	"sync"
	"time"
)

type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

const (
	TableMembers      = "group_members"
	TableProposals    = "proposals"
	TableVotes        = "votes"
	TableEventRooms   = "event_rooms"
	TableParticipants = "event_room_participants"
	TableMessages     = "event_messages"
)

// Change describes one committed write.
type Change struct {
	Table       string    `json:"table"`
	Op          Op        `json:"op"`
	GroupID     string    `json:"groupId"`
	ProposalID  string    `json:"proposalId,omitempty"`
	EventRoomID string    `json:"eventRoomId,omitempty"`
	UserID      string    `json:"userId,omitempty"`
	At          time.Time `json:"at"`
}

// Filter selects changes. Empty fields match everything.
type Filter struct {
	Tables   []string
	Ops      []Op
	GroupIDs []string
}

func (f Filter) Matches(change Change) bool {
	return matchAny(f.Tables, change.Table) && matchAny(f.Ops, change.Op) && matchAny(f.GroupIDs, change.GroupID)
}

func matchAny[T comparable](allowed []T, value T) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, candidate := range allowed {
		if candidate == value {
			return true
		}
	}
	return false
}

type Handler func(Change)

// Subscriber registers handlers. The returned func cancels the registration
// and is safe to call more than once.
type Subscriber interface {
	OnChange(filter Filter, handler Handler) (cancel func())
}

type Publisher interface {
	Publish(ctx context.Context, change Change) error
}

type subscription struct {
	filter  Filter
	handler Handler
}

// Hub is an in-process Subscriber and Publisher. Handlers run on the
// publishing goroutine, in registration order.
type Hub struct {
	mu   sync.RWMutex
	next int
	subs map[int]subscription
	ids  []int
}

func NewHub() *Hub {
	return &Hub{subs: map[int]subscription{}}
}

func (h *Hub) OnChange(filter Filter, handler Handler) func() {
	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = subscription{filter: filter, handler: handler}
	h.ids = append(h.ids, id)
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs, id)
			for i, candidate := range h.ids {
				if candidate == id {
					h.ids = append(h.ids[:i], h.ids[i+1:]...)
					break
				}
			}
		})
	}
}

func (h *Hub) Publish(ctx context.Context, change Change) error {
	h.mu.RLock()
	matched := make([]Handler, 0, len(h.ids))
	for _, id := range h.ids {
		if sub := h.subs[id]; sub.filter.Matches(change) {
			matched = append(matched, sub.handler)
		}
	}
	h.mu.RUnlock()

	for _, handler := range matched {
		if err := ctx.Err(); err != nil {
			return err
		}
		handler(change)
	}
	return nil
}

// Len reports the number of live subscriptions.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
