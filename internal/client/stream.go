package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"

	"huddle/api/internal/feed"
)

// Stream follows the server's change feed and republishes every change into
// hub until ctx is done. Dropped connections are redialed with backoff;
// a rejected token ends the stream.
func (c *Client) Stream(ctx context.Context, hub feed.Publisher) error {
	wsURL, err := c.streamURL()
	if err != nil {
		return err
	}

	pacer := &backoff.Backoff{Min: 250 * time.Millisecond, Max: 10 * time.Second, Factor: 2, Jitter: true}
	for {
		conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
		if err != nil {
			if resp != nil && resp.StatusCode == http.StatusUnauthorized {
				return &APIError{Status: resp.StatusCode, Code: "NOT_AUTHENTICATED", Message: "stream rejected the session token"}
			}
		} else {
			pacer.Reset()
			err = c.pump(ctx, conn, hub)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		wait := pacer.Duration()
		log.Printf("client: stream dropped (attempt %.0f), redialing in %s: %v", pacer.Attempt(), wait, err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (c *Client) pump(ctx context.Context, conn *websocket.Conn, hub feed.Publisher) error {
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = conn.Close()
	})
	defer stop()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return errors.New("server closed the stream")
			}
			return err
		}
		var change feed.Change
		if err := json.Unmarshal(data, &change); err != nil {
			log.Printf("client: drop malformed change: %v", err)
			continue
		}
		if err := hub.Publish(ctx, change); err != nil {
			return err
		}
	}
}

func (c *Client) streamURL() (string, error) {
	parsed, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch strings.ToLower(parsed.Scheme) {
	case "https":
		parsed.Scheme = "wss"
	default:
		parsed.Scheme = "ws"
	}
	parsed.Path = strings.TrimRight(parsed.Path, "/") + "/api/ws"
	query := parsed.Query()
	query.Set("token", c.Token())
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}
