package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"huddle/api/internal/feed"
)

type fakeAuth struct {
	authenticate func(ctx context.Context, token string) (string, []string, error)
}

func (f fakeAuth) Authenticate(ctx context.Context, token string) (string, []string, error) {
	return f.authenticate(ctx, token)
}

func newTestBroadcaster(t *testing.T) (*feed.Hub, *Broadcaster, string) {
	t.Helper()
	hub := feed.NewHub()
	auth := fakeAuth{authenticate: func(ctx context.Context, token string) (string, []string, error) {
		if token != "good" {
			return "", nil, errors.New("invalid token")
		}
		return "user-1", []string{"grp-a"}, nil
	}}
	b := New(auth, hub)
	server := httptest.NewServer(b)
	t.Cleanup(func() {
		server.Close()
		_ = b.Close()
	})
	return hub, b, "ws" + strings.TrimPrefix(server.URL, "http")
}

func dial(t *testing.T, url string, b *Broadcaster) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	deadline := time.Now().Add(2 * time.Second)
	for b.Len() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("session never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return conn
}

func readChange(t *testing.T, conn *websocket.Conn) feed.Change {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}
	var change feed.Change
	if err := json.Unmarshal(data, &change); err != nil {
		t.Fatalf("unmarshal change: %v", err)
	}
	return change
}

func TestRejectsMissingOrBadToken(t *testing.T) {
	_, _, url := newTestBroadcaster(t)

	for _, suffix := range []string{"", "?token=bad"} {
		_, resp, err := websocket.DefaultDialer.Dial(url+suffix, nil)
		if err == nil {
			t.Fatalf("Dial(%q) succeeded, want rejection", suffix)
		}
		if resp == nil || resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("Dial(%q) response = %v, want 401", suffix, resp)
		}
	}
}

func TestRelaysOnlyChangesInUserGroups(t *testing.T) {
	hub, b, url := newTestBroadcaster(t)
	conn := dial(t, url+"?token=good", b)
	ctx := context.Background()

	_ = hub.Publish(ctx, feed.Change{Table: feed.TableProposals, Op: feed.OpInsert, GroupID: "grp-b", ProposalID: "p-hidden"})
	_ = hub.Publish(ctx, feed.Change{Table: feed.TableProposals, Op: feed.OpInsert, GroupID: "grp-a", ProposalID: "p-visible"})

	change := readChange(t, conn)
	if change.ProposalID != "p-visible" || change.GroupID != "grp-a" {
		t.Fatalf("change = %+v, want the grp-a proposal", change)
	}
}

func TestMembershipChangeWidensScope(t *testing.T) {
	hub, b, url := newTestBroadcaster(t)
	conn := dial(t, url+"?token=good", b)
	ctx := context.Background()

	_ = hub.Publish(ctx, feed.Change{Table: feed.TableMembers, Op: feed.OpInsert, GroupID: "grp-c", UserID: "user-1"})
	joined := readChange(t, conn)
	if joined.Table != feed.TableMembers || joined.GroupID != "grp-c" {
		t.Fatalf("change = %+v, want the membership insert", joined)
	}

	_ = hub.Publish(ctx, feed.Change{Table: feed.TableVotes, Op: feed.OpInsert, GroupID: "grp-c", ProposalID: "p-1"})
	vote := readChange(t, conn)
	if vote.Table != feed.TableVotes || vote.GroupID != "grp-c" {
		t.Fatalf("change = %+v, want the grp-c vote", vote)
	}
}

func TestCloseCancelsSubscription(t *testing.T) {
	hub := feed.NewHub()
	b := New(fakeAuth{authenticate: func(context.Context, string) (string, []string, error) {
		return "", nil, errors.New("unused")
	}}, hub)
	if hub.Len() != 1 {
		t.Fatalf("hub subscriptions = %d, want 1", hub.Len())
	}
	if err := b.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if hub.Len() != 0 {
		t.Fatalf("hub subscriptions after Close = %d, want 0", hub.Len())
	}
}
