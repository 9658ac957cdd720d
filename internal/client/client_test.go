package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"huddle/api/internal/app"
	"huddle/api/internal/config"
	"huddle/api/internal/feed"
	"huddle/api/internal/queue"
	"huddle/api/internal/realtime"
	"huddle/api/internal/store"
)

var _ queue.Source = (*Client)(nil)

type testAPI struct {
	svc         *app.Service
	broadcaster *realtime.Broadcaster
	server      *httptest.Server
}

func newTestAPI(t *testing.T) testAPI {
	t.Helper()
	hub := feed.NewHub()
	svc := app.New(config.Config{JWTSecret: "client-test", AppBaseURL: "http://app.test"}, store.NewMemoryStore(), app.Deps{Feed: hub})
	broadcaster := realtime.New(svc, hub)

	mux := http.NewServeMux()
	mux.Handle("/api/ws", broadcaster)
	mux.Handle("/", app.NewHTTPServer(svc, "*").Handler())
	server := httptest.NewServer(mux)
	t.Cleanup(func() {
		server.Close()
		_ = broadcaster.Close()
	})
	return testAPI{svc: svc, broadcaster: broadcaster, server: server}
}

// sessionGroup makes the client's user the owner of a new group.
func (api testAPI) sessionGroup(t *testing.T, c *Client, members ...*Client) (app.Session, store.Group) {
	t.Helper()
	ctx := context.Background()
	session, err := api.svc.SessionFromToken(ctx, c.Token())
	if err != nil {
		t.Fatalf("SessionFromToken() error = %v", err)
	}
	group, err := api.svc.CreateGroup(ctx, session, "Weekend crew")
	if err != nil {
		t.Fatalf("CreateGroup() error = %v", err)
	}
	for _, member := range members {
		if _, err := api.svc.AddGroupMember(ctx, session, group.ID, app.AddMemberInput{UserID: member.UserID()}); err != nil {
			t.Fatalf("AddGroupMember() error = %v", err)
		}
	}
	return session, group
}

func login(t *testing.T, api testAPI, name string) *Client {
	t.Helper()
	c := New(api.server.URL)
	if err := c.Login(context.Background(), name); err != nil {
		t.Fatalf("Login(%q) error = %v", name, err)
	}
	if c.Token() == "" || c.UserID() == "" {
		t.Fatal("login did not keep the session")
	}
	return c
}

func TestQueueOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	ana := login(t, api, "Ana")
	ben := login(t, api, "Ben")
	anaSession, group := api.sessionGroup(t, ana, ben)

	proposal, err := api.svc.CreateProposal(context.Background(), anaSession, group.ID, app.CreateProposalInput{Title: "Bike ride", Threshold: 1})
	if err != nil {
		t.Fatalf("CreateProposal() error = %v", err)
	}

	q := queue.New(ben)
	if err := q.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	current, ok := q.Current()
	if !ok || current.Proposal.ID != proposal.ID || current.GroupName != "Weekend crew" {
		t.Fatalf("current = %+v", current)
	}

	result, err := q.Vote(context.Background(), store.VoteYes)
	if err != nil {
		t.Fatalf("Vote() error = %v", err)
	}
	if !result.Materialized || result.EventRoomID == nil {
		t.Fatalf("vote result = %+v, want materialized", result)
	}
	if _, ok := q.Current(); ok {
		t.Fatal("queue should be empty after voting")
	}

	if _, err := ben.SendMessage(context.Background(), *result.EventRoomID, "on my way"); err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	page, err := ben.Messages(context.Background(), *result.EventRoomID, 10, 0)
	if err != nil {
		t.Fatalf("Messages() error = %v", err)
	}
	if len(page.Messages) != 1 || page.IsExpired {
		t.Fatalf("page = %+v", page)
	}

	_, err = ana.CastVote(context.Background(), proposal.ID, store.VoteNo)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusConflict || apiErr.Code != "VOTING_CLOSED" {
		t.Fatalf("vote after trigger error = %v", err)
	}
	if apiErr.Temporary() {
		t.Fatal("VOTING_CLOSED is not temporary")
	}
}

func TestTransportFailureIsTransient(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	baseURL := server.URL
	server.Close()

	_, err := New(baseURL).WithToken("token").PendingDecisions(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code != CodeTransientIO || !apiErr.Temporary() {
		t.Fatalf("error = %v, want %s", err, CodeTransientIO)
	}
}

func TestNonJSONErrorResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))
	defer server.Close()

	_, err := New(server.URL).Groups(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusBadGateway || apiErr.Code != "HTTP_502" {
		t.Fatalf("error = %v", err)
	}
}

func TestStreamRepublishesChanges(t *testing.T) {
	api := newTestAPI(t)
	ana := login(t, api, "Ana")
	anaSession, group := api.sessionGroup(t, ana)

	local := feed.NewHub()
	var mu sync.Mutex
	var received []feed.Change
	got := make(chan struct{}, 8)
	local.OnChange(feed.Filter{Tables: []string{feed.TableProposals}}, func(change feed.Change) {
		mu.Lock()
		received = append(received, change)
		mu.Unlock()
		got <- struct{}{}
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ana.Stream(ctx, local) }()

	deadline := time.Now().Add(2 * time.Second)
	for api.broadcaster.Len() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("stream never connected")
		}
		time.Sleep(5 * time.Millisecond)
	}

	proposal, err := api.svc.CreateProposal(context.Background(), anaSession, group.ID, app.CreateProposalInput{Title: "Board games", Threshold: 2})
	if err != nil {
		t.Fatalf("CreateProposal() error = %v", err)
	}

	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("no change arrived through the stream")
	}
	mu.Lock()
	first := received[0]
	mu.Unlock()
	if first.ProposalID != proposal.ID || first.Op != feed.OpInsert {
		t.Fatalf("change = %+v", first)
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Stream() error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Stream did not stop after cancel")
	}
}

func TestStreamRejectsBadToken(t *testing.T) {
	api := newTestAPI(t)
	c := New(api.server.URL).WithToken("forged")

	err := c.Stream(context.Background(), feed.NewHub())
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusUnauthorized {
		t.Fatalf("Stream() error = %v, want 401", err)
	}
}
