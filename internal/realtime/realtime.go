// Package realtime pushes feed changes to websocket clients, scoped to the
// groups each connected user belongs to.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/olahol/melody"

	"huddle/api/internal/feed"
)

const (
	keyUserID   = "user_id"
	keyGroupIDs = "group_ids"
)

// Authenticator resolves a session token to a user and their groups.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (userID string, groupIDs []string, err error)
}

type Broadcaster struct {
	m      *melody.Melody
	auth   Authenticator
	cancel func()
}

// New starts relaying every change from sub to the sessions allowed to see it.
func New(auth Authenticator, sub feed.Subscriber) *Broadcaster {
	m := melody.New()
	m.Config.MaxMessageSize = 4096
	m.Config.PingPeriod = 30 * time.Second
	m.Config.PongWait = 60 * time.Second

	m.HandleConnect(func(s *melody.Session) {
		userID, _ := s.Get(keyUserID)
		log.Printf("realtime: %v connected", userID)
	})
	m.HandleDisconnect(func(s *melody.Session) {
		userID, _ := s.Get(keyUserID)
		log.Printf("realtime: %v disconnected", userID)
	})
	m.HandleError(func(s *melody.Session, err error) {
		log.Printf("realtime: session error: %v", err)
	})

	b := &Broadcaster{m: m, auth: auth}
	b.cancel = sub.OnChange(feed.Filter{}, b.relay)
	return b
}

// ServeHTTP authenticates the token passed as ?token= or a bearer header and
// upgrades the connection.
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if token == "" {
		if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
			token = strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		}
	}
	if token == "" {
		writeUnauthorized(w)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	userID, groupIDs, err := b.auth.Authenticate(ctx, token)
	cancel()
	if err != nil {
		writeUnauthorized(w)
		return
	}

	keys := map[string]interface{}{
		keyUserID:   userID,
		keyGroupIDs: groupSet(groupIDs),
	}
	if err := b.m.HandleRequestWithKeys(w, r, keys); err != nil {
		log.Printf("realtime: upgrade for %s: %v", userID, err)
	}
}

func (b *Broadcaster) relay(change feed.Change) {
	payload, err := json.Marshal(change)
	if err != nil {
		log.Printf("realtime: marshal change: %v", err)
		return
	}

	newMember := change.Table == feed.TableMembers && change.Op == feed.OpInsert
	err = b.m.BroadcastFilter(payload, func(s *melody.Session) bool {
		if newMember {
			if userID, _ := s.Get(keyUserID); userID == change.UserID {
				joinGroup(s, change.GroupID)
			}
		}
		return inGroup(s, change.GroupID)
	})
	if err != nil && !errors.Is(err, melody.ErrClosed) {
		log.Printf("realtime: broadcast %s %s: %v", change.Table, change.Op, err)
	}
}

// Len reports the number of connected sessions.
func (b *Broadcaster) Len() int {
	return b.m.Len()
}

func (b *Broadcaster) Close() error {
	b.cancel()
	return b.m.Close()
}

func groupSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

func inGroup(s *melody.Session, groupID string) bool {
	value, ok := s.Get(keyGroupIDs)
	if !ok {
		return false
	}
	groups, _ := value.(map[string]struct{})
	_, member := groups[groupID]
	return member
}

// joinGroup swaps in a new set so filters running concurrently never see a
// map being written.
func joinGroup(s *melody.Session, groupID string) {
	value, _ := s.Get(keyGroupIDs)
	current, _ := value.(map[string]struct{})
	if _, ok := current[groupID]; ok {
		return
	}
	next := make(map[string]struct{}, len(current)+1)
	for id := range current {
		next[id] = struct{}{}
	}
	next[groupID] = struct{}{}
	s.Set(keyGroupIDs, next)
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"code":"NOT_AUTHENTICATED","error":"Unauthorized"}`))
}
