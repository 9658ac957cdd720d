package app

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestServer(t *testing.T) (*harness, *httptest.Server) {
	t.Helper()
	h := newHarness(t)
	server := httptest.NewServer(NewHTTPServer(h.svc, "*").Handler())
	t.Cleanup(server.Close)
	return h, server
}

func doJSON(t *testing.T, method, url, token string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s error = %v", method, url, err)
	}
	defer resp.Body.Close()
	decoded := map[string]any{}
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		_ = json.NewDecoder(resp.Body).Decode(&decoded)
	}
	return resp, decoded
}

func TestHealthAndReady(t *testing.T) {
	_, server := newTestServer(t)

	for _, path := range []string{"/api/health", "/api/ready"} {
		resp, body := doJSON(t, http.MethodGet, server.URL+path, "", nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s status = %d", path, resp.StatusCode)
		}
		if body["ok"] != true {
			t.Fatalf("%s body = %v", path, body)
		}
		if resp.Header.Get("X-Request-ID") == "" {
			t.Fatalf("%s missing X-Request-ID", path)
		}
	}
}

func TestLoginAndSession(t *testing.T) {
	_, server := newTestServer(t)

	resp, body := doJSON(t, http.MethodGet, server.URL+"/api/session", "", nil)
	if resp.StatusCode != http.StatusOK || body["authenticated"] != false {
		t.Fatalf("anonymous session = %d %v", resp.StatusCode, body)
	}

	resp, body = doJSON(t, http.MethodPost, server.URL+"/api/session/login", "", map[string]any{"name": "Ana"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status = %d", resp.StatusCode)
	}
	token, _ := body["token"].(string)
	if token == "" {
		t.Fatalf("login body = %v", body)
	}

	resp, body = doJSON(t, http.MethodGet, server.URL+"/api/session", token, nil)
	if resp.StatusCode != http.StatusOK || body["authenticated"] != true || body["userName"] != "Ana" {
		t.Fatalf("session = %d %v", resp.StatusCode, body)
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	_, server := newTestServer(t)

	cases := []struct {
		name  string
		token string
	}{
		{name: "missing", token: ""},
		{name: "garbage", token: "not-a-token"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, body := doJSON(t, http.MethodGet, server.URL+"/api/pending-decisions", tc.token, nil)
			if resp.StatusCode != http.StatusUnauthorized || body["code"] != CodeNotAuthenticated {
				t.Fatalf("status = %d body = %v", resp.StatusCode, body)
			}
		})
	}
}

func TestVoteFlowOverHTTP(t *testing.T) {
	h, server := newTestServer(t)
	ana, ben := h.login("Ana"), h.login("Ben")
	group := h.group(ana, ben)

	resp, body := doJSON(t, http.MethodPost, server.URL+"/api/groups/"+group.ID+"/proposals", ana.Token, map[string]any{
		"title":     "Sushi night",
		"threshold": 2,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create proposal = %d %v", resp.StatusCode, body)
	}
	proposal := body["proposal"].(map[string]any)
	proposalID := proposal["id"].(string)

	resp, body = doJSON(t, http.MethodGet, server.URL+"/api/pending-decisions", ben.Token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("pending = %d", resp.StatusCode)
	}
	if decisions := body["decisions"].([]any); len(decisions) != 1 {
		t.Fatalf("pending decisions = %v", decisions)
	}

	doJSON(t, http.MethodPost, server.URL+"/api/proposals/"+proposalID+"/votes", ana.Token, map[string]any{"value": "yes"})
	resp, body = doJSON(t, http.MethodPost, server.URL+"/api/proposals/"+proposalID+"/votes", ben.Token, map[string]any{"value": "yes"})
	if resp.StatusCode != http.StatusOK || body["materialized"] != true {
		t.Fatalf("vote = %d %v", resp.StatusCode, body)
	}
	roomID, _ := body["eventRoomId"].(string)
	if roomID == "" {
		t.Fatalf("vote body = %v", body)
	}

	resp, body = doJSON(t, http.MethodPost, server.URL+"/api/event-rooms/"+roomID+"/messages", ben.Token, map[string]any{"content": "booked a table"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("send message = %d %v", resp.StatusCode, body)
	}

	resp, body = doJSON(t, http.MethodGet, server.URL+"/api/event-rooms/"+roomID+"/messages?limit=10", ana.Token, nil)
	if resp.StatusCode != http.StatusOK || body["isExpired"] != false {
		t.Fatalf("messages = %d %v", resp.StatusCode, body)
	}
	if messages := body["messages"].([]any); len(messages) != 1 {
		t.Fatalf("messages = %v", messages)
	}

	resp, body = doJSON(t, http.MethodPost, server.URL+"/api/proposals/"+proposalID+"/votes", ana.Token, map[string]any{"value": "no"})
	if resp.StatusCode != http.StatusConflict || body["code"] != CodeVotingClosed {
		t.Fatalf("vote after trigger = %d %v", resp.StatusCode, body)
	}
}

func TestHTTPErrorMapping(t *testing.T) {
	h, server := newTestServer(t)
	ana := h.login("Ana")
	group := h.group(ana)

	cases := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{name: "unknown route", method: http.MethodGet, path: "/api/nope", status: http.StatusNotFound, code: CodeNotFound},
		{name: "missing proposal", method: http.MethodGet, path: "/api/proposals/prp_missing", status: http.StatusNotFound, code: CodeProposalNotFound},
		{name: "missing room", method: http.MethodGet, path: "/api/event-rooms/room_missing", status: http.StatusNotFound, code: CodeNotFound},
		{name: "bad threshold", method: http.MethodPost, path: "/api/groups/" + group.ID + "/proposals", body: map[string]any{"title": "x", "threshold": 0}, status: http.StatusUnprocessableEntity, code: CodeInvalidThreshold},
		{name: "bad limit", method: http.MethodGet, path: "/api/search?q=x&limit=ten", status: http.StatusUnprocessableEntity, code: CodeValidation},
		{name: "bad export format", method: http.MethodGet, path: "/api/event-rooms/room_missing/export?format=docx", status: http.StatusUnprocessableEntity, code: CodeValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, body := doJSON(t, tc.method, server.URL+tc.path, ana.Token, tc.body)
			if resp.StatusCode != tc.status || body["code"] != tc.code {
				t.Fatalf("status = %d body = %v, want %d %s", resp.StatusCode, body, tc.status, tc.code)
			}
		})
	}
}

func TestExportHTMLOverHTTP(t *testing.T) {
	h, server := newTestServer(t)
	ana := h.login("Ana")
	group := h.group(ana)
	room, err := h.svc.CreateDirectEvent(t.Context(), ana, CreateDirectEventInput{GroupID: group.ID, Title: "Movie night"})
	if err != nil {
		t.Fatalf("CreateDirectEvent() error = %v", err)
	}
	if _, err := h.svc.SendEventMessage(t.Context(), ana, room.ID, "bring snacks"); err != nil {
		t.Fatalf("SendEventMessage() error = %v", err)
	}

	req, _ := http.NewRequest(http.MethodGet, server.URL+"/api/event-rooms/"+room.ID+"/export?format=html", nil)
	req.Header.Set("Authorization", "Bearer "+ana.Token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("export request error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("export status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Fatalf("Content-Type = %q", ct)
	}
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(resp.Body)
	if !strings.Contains(buf.String(), "bring snacks") || !strings.Contains(buf.String(), "Movie night") {
		t.Fatalf("transcript missing content: %s", buf.String())
	}

	resp2, body := doJSON(t, http.MethodPost, server.URL+"/api/event-rooms/"+room.ID+"/archive", ana.Token, map[string]any{})
	if resp2.StatusCode != http.StatusServiceUnavailable || body["code"] != CodeExportUnavailable {
		t.Fatalf("archive without storage = %d %v", resp2.StatusCode, body)
	}
}
