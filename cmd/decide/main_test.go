package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"huddle/api/internal/app"
	"huddle/api/internal/client"
	"huddle/api/internal/config"
	"huddle/api/internal/feed"
	"huddle/api/internal/realtime"
	"huddle/api/internal/store"
)

func setup(t *testing.T, threshold int) (*app.Service, string) {
	t.Helper()
	hub := feed.NewHub()
	svc := app.New(config.Config{JWTSecret: "decide-test"}, store.NewMemoryStore(), app.Deps{Feed: hub})
	broadcaster := realtime.New(svc, hub)

	mux := http.NewServeMux()
	mux.Handle("/api/ws", broadcaster)
	mux.Handle("/", app.NewHTTPServer(svc, "*").Handler())
	server := httptest.NewServer(mux)
	t.Cleanup(func() {
		server.Close()
		_ = broadcaster.Close()
	})

	ctx := context.Background()
	owner, err := svc.Login(ctx, "Ana")
	if err != nil {
		t.Fatalf("Login(Ana) error = %v", err)
	}
	voter, err := svc.Login(ctx, "Ben")
	if err != nil {
		t.Fatalf("Login(Ben) error = %v", err)
	}
	group, err := svc.CreateGroup(ctx, owner, "Climbing")
	if err != nil {
		t.Fatalf("CreateGroup() error = %v", err)
	}
	if _, err := svc.AddGroupMember(ctx, owner, group.ID, app.AddMemberInput{UserID: voter.UserID}); err != nil {
		t.Fatalf("AddGroupMember() error = %v", err)
	}
	if _, err := svc.CreateProposal(ctx, owner, group.ID, app.CreateProposalInput{Title: "Bouldering Friday", Threshold: threshold}); err != nil {
		t.Fatalf("CreateProposal() error = %v", err)
	}
	return svc, server.URL
}

func TestRunVotesThroughQueue(t *testing.T) {
	_, url := setup(t, 1)
	var out bytes.Buffer

	if err := run(context.Background(), client.New(url), "Ben", strings.NewReader("y\n"), &out); err != nil {
		t.Fatalf("run() error = %v", err)
	}
	text := out.String()
	for _, want := range []string{"Bouldering Friday in Climbing", "It's happening!", "Nothing left to decide."} {
		if !strings.Contains(text, want) {
			t.Fatalf("output missing %q:\n%s", want, text)
		}
	}
}

func TestRunSkipAndUnknownInput(t *testing.T) {
	_, url := setup(t, 2)
	var out bytes.Buffer

	if err := run(context.Background(), client.New(url), "Ben", strings.NewReader("what\ns\n"), &out); err != nil {
		t.Fatalf("run() error = %v", err)
	}
	text := out.String()
	if !strings.Contains(text, "Type y, m, n, s or q.") {
		t.Fatalf("unknown input not reported:\n%s", text)
	}
	if !strings.Contains(text, "Nothing left to decide.") {
		t.Fatalf("skip should exhaust the queue:\n%s", text)
	}
}

func TestRunStopsAtEndOfInput(t *testing.T) {
	_, url := setup(t, 2)
	var out bytes.Buffer

	if err := run(context.Background(), client.New(url), "Ben", strings.NewReader("m\n"), &out); err != nil {
		t.Fatalf("run() error = %v", err)
	}
	if !strings.Contains(out.String(), "Recorded. 0/2 yes.") {
		t.Fatalf("maybe vote not recorded:\n%s", out.String())
	}
}
