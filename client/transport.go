// this file implements the HTTP and websocket transports behind the
// reconciler's API and Feed interfaces
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// HTTPClient talks to the backend's REST API with a bearer token.
type HTTPClient struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

// Login exchanges credentials for a token, for callers that don't have one.
func Login(ctx context.Context, baseURL, email, password string) (string, error) {
	body, _ := json.Marshal(map[string]string{"email": email, "password": password})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(baseURL, "/")+"/api/auth/login", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("login rejected: %s", resp.Status)
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.Token, nil
}

func (h *HTTPClient) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, h.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+h.token)

	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		if apiErr.Message == "" {
			apiErr.Message = resp.Status
		}
		return fmt.Errorf("%s %s: %s", method, path, apiErr.Message)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (h *HTTPClient) ListSongs(ctx context.Context, playlistID string) ([]Song, error) {
	var out struct {
		Songs []Song `json:"songs"`
	}
	err := h.do(ctx, http.MethodGet, "/api/playlists/"+playlistID+"/songs", nil, &out)
	return out.Songs, err
}

func (h *HTTPClient) AddSong(ctx context.Context, playlistID string, req AddSongRequest) (Song, error) {
	var song Song
	err := h.do(ctx, http.MethodPost, "/api/playlists/"+playlistID+"/songs", req, &song)
	return song, err
}

func (h *HTTPClient) VoteSong(ctx context.Context, songID string, value int) (VoteResult, error) {
	var result VoteResult
	err := h.do(ctx, http.MethodPost, "/api/songs/"+songID+"/vote",
		map[string]int{"value": value}, &result)
	return result, err
}

func (h *HTTPClient) RemoveSong(ctx context.Context, songID string) error {
	return h.do(ctx, http.MethodDelete, "/api/songs/"+songID, nil, nil)
}

func (h *HTTPClient) SetPlaying(ctx context.Context, songID string) error {
	return h.do(ctx, http.MethodPut, "/api/songs/"+songID+"/playing", nil, nil)
}

// SocketFeed is the websocket room subscription. Events are delivered on a
// channel in arrival order; the channel closes when the connection drops, and
// the owner is expected to reconnect and resync rather than replay.
type SocketFeed struct {
	conn   *websocket.Conn
	events chan Event

	mu     sync.Mutex
	closed bool
}

func DialSocket(ctx context.Context, baseURL, token string) (*SocketFeed, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/") + "/api/socket")
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	if token != "" {
		q := u.Query()
		q.Set("token", token)
		u.RawQuery = q.Encode()
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, err
	}

	f := &SocketFeed{
		conn:   conn,
		events: make(chan Event, 64),
	}
	go f.readLoop()
	return f, nil
}

func (f *SocketFeed) readLoop() {
	defer close(f.events)
	for {
		_, payload, err := f.conn.ReadMessage()
		if err != nil {
			return
		}
		event, err := decodeEvent(payload)
		if err != nil {
			if errors.Is(err, errUnknownEvent) {
				continue
			}
			return
		}
		f.events <- event
	}
}

func (f *SocketFeed) send(kind EventKind, playlistID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New("feed closed")
	}
	payload, err := json.Marshal(Event{Kind: kind, PlaylistID: playlistID})
	if err != nil {
		return err
	}
	return f.conn.WriteMessage(websocket.TextMessage, payload)
}

func (f *SocketFeed) Join(playlistID string) error {
	return f.send(EventJoinPlaylist, playlistID)
}

func (f *SocketFeed) Leave(playlistID string) error {
	return f.send(EventLeavePlaylist, playlistID)
}

func (f *SocketFeed) Events() <-chan Event {
	return f.events
}

func (f *SocketFeed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	return f.conn.Close()
}
