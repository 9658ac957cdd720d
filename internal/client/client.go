// Package client talks to the Huddle API over HTTP and follows its change
// feed over a websocket.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"huddle/api/internal/store"
)

const CodeTransientIO = "TRANSIENT_IO_FAILURE"

// APIError is a non-2xx response or a transport failure.
type APIError struct {
	Status  int
	Code    string
	Message string
	Err     error
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// Temporary reports whether retrying the same call may succeed.
func (e *APIError) Temporary() bool {
	return e.Code == CodeTransientIO
}

type Client struct {
	baseURL string
	http    *http.Client

	mu     sync.RWMutex
	token  string
	userID string
}

func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// WithToken sets the session token used for subsequent calls.
func (c *Client) WithToken(token string) *Client {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
	return c
}

func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

func (c *Client) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

// Login starts a session for name and keeps its token.
func (c *Client) Login(ctx context.Context, name string) error {
	var out struct {
		Token  string `json:"token"`
		UserID string `json:"userId"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/session/login", map[string]string{"name": name}, &out); err != nil {
		return err
	}
	c.mu.Lock()
	c.token = out.Token
	c.userID = out.UserID
	c.mu.Unlock()
	return nil
}

func (c *Client) Groups(ctx context.Context) ([]store.Group, error) {
	var out struct {
		Groups []store.Group `json:"groups"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/groups", nil, &out); err != nil {
		return nil, err
	}
	return out.Groups, nil
}

func (c *Client) PendingDecisions(ctx context.Context) ([]store.PendingDecision, error) {
	var out struct {
		Decisions []store.PendingDecision `json:"decisions"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/pending-decisions", nil, &out); err != nil {
		return nil, err
	}
	return out.Decisions, nil
}

func (c *Client) CastVote(ctx context.Context, proposalID string, value store.VoteValue) (store.CastVoteResult, error) {
	var out store.CastVoteResult
	path := "/api/proposals/" + url.PathEscape(proposalID) + "/votes"
	if err := c.do(ctx, http.MethodPost, path, map[string]string{"value": string(value)}, &out); err != nil {
		return store.CastVoteResult{}, err
	}
	return out, nil
}

func (c *Client) SendMessage(ctx context.Context, roomID, content string) (store.EventMessage, error) {
	var out struct {
		Message store.EventMessage `json:"message"`
	}
	path := "/api/event-rooms/" + url.PathEscape(roomID) + "/messages"
	if err := c.do(ctx, http.MethodPost, path, map[string]string{"content": content}, &out); err != nil {
		return store.EventMessage{}, err
	}
	return out.Message, nil
}

type MessagePage struct {
	Messages  []store.EventMessage `json:"messages"`
	IsExpired bool                 `json:"isExpired"`
}

func (c *Client) Messages(ctx context.Context, roomID string, limit, offset int) (MessagePage, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		query.Set("offset", strconv.Itoa(offset))
	}
	path := "/api/event-rooms/" + url.PathEscape(roomID) + "/messages"
	if encoded := query.Encode(); encoded != "" {
		path += "?" + encoded
	}
	var out MessagePage
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return MessagePage{}, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &APIError{Code: CodeTransientIO, Message: method + " " + path, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var payload struct {
			Code  string `json:"code"`
			Error string `json:"error"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&payload)
		apiErr := &APIError{Status: resp.StatusCode, Code: payload.Code, Message: payload.Error}
		if apiErr.Code == "" {
			apiErr.Code = "HTTP_" + strconv.Itoa(resp.StatusCode)
		}
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &APIError{Status: resp.StatusCode, Code: CodeTransientIO, Message: "decode response", Err: err}
	}
	return nil
}
