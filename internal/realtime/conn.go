package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"playlist-sync/internal/playlist"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
)

var ErrNotConnected = errors.New("realtime: not connected")

const (
	minBackoff = 500 * time.Millisecond
	maxBackoff = 30 * time.Second
)

// Conn is the client side of a room connection. It redials with backoff
// whenever the socket drops. Frames sent while disconnected fail with
// ErrNotConnected.
type Conn struct {
	url    string
	dialer *websocket.Dialer
	header http.Header
	log    *log.Logger

	mu sync.Mutex
	ws *websocket.Conn
}

// NewConn prepares a connection to room on the relay at baseURL
// (http, https, ws or wss).
func NewConn(baseURL, room string, logger *log.Logger) (*Conn, error) {
	u, err := roomURL(baseURL, room)
	if err != nil {
		return nil, err
	}
	return &Conn{
		url:    u,
		dialer: websocket.DefaultDialer,
		header: http.Header{},
		log:    logger,
	}, nil
}

// Run keeps the connection up until ctx is cancelled. onConnect runs after
// every successful dial and before any frame of that connection is handled.
func (c *Conn) Run(ctx context.Context, handle func(context.Context, Message), onConnect func(context.Context)) error {
	backoff := minBackoff
	for {
		ws, _, err := c.dialer.DialContext(ctx, c.url, c.header)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.log.Warn("realtime: dial failed", "url", c.url, "err", err, "retry", backoff)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}
		backoff = minBackoff

		c.setWS(ws)
		c.log.Info("realtime: connected", "url", c.url)
		if onConnect != nil {
			onConnect(ctx)
		}
		err = c.readLoop(ctx, ws, handle)
		c.setWS(nil)
		_ = ws.Close()

		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.log.Warn("realtime: connection lost", "err", err)
	}
}

// Send writes msg to the relay.
func (c *Conn) Send(ctx context.Context, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ws == nil {
		return ErrNotConnected
	}
	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.ws.SetWriteDeadline(deadline)
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("realtime: send %s: %w", msg.Command, err)
	}
	return nil
}

// Connected reports whether a socket is currently up.
func (c *Conn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws != nil
}

func (c *Conn) setWS(ws *websocket.Conn) {
	c.mu.Lock()
	c.ws = ws
	c.mu.Unlock()
}

func (c *Conn) readLoop(ctx context.Context, ws *websocket.Conn, handle func(context.Context, Message)) error {
	stop := context.AfterFunc(ctx, func() { _ = ws.Close() })
	defer stop()

	ws.SetReadLimit(maxMessageSize)
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return err
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.log.Warnf("realtime: invalid frame: %v", err)
			continue
		}
		if handle != nil {
			handle(ctx, msg)
		}
	}
}

// SnapshotClient fetches room snapshots from the relay over HTTP.
type SnapshotClient struct {
	baseURL string
	client  *http.Client
}

func NewSnapshotClient(baseURL string, client *http.Client) *SnapshotClient {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &SnapshotClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

func (c *SnapshotClient) Snapshot(ctx context.Context, room string) (playlist.PatchMessage, error) {
	endpoint := c.baseURL + "/rooms/" + url.PathEscape(room) + "/snapshot"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return playlist.PatchMessage{}, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return playlist.PatchMessage{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return playlist.PatchMessage{}, fmt.Errorf("snapshot %s: relay returned %d", room, resp.StatusCode)
	}
	var pm playlist.PatchMessage
	if err := json.NewDecoder(resp.Body).Decode(&pm); err != nil {
		return playlist.PatchMessage{}, fmt.Errorf("snapshot %s: %w", room, err)
	}
	return pm, nil
}

func roomURL(baseURL, room string) (string, error) {
	if room == "" {
		return "", errors.New("realtime: room is required")
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("realtime: relay url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("realtime: unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	u.RawQuery = url.Values{"room": {room}}.Encode()
	return u.String(), nil
}
