package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type apiHarness struct {
	t      *testing.T
	server *httptest.Server
	hub    *Hub
}

func newAPIHarness(t *testing.T) *apiHarness {
	t.Helper()
	logger := log.New(os.Stderr)
	logger.SetLevel(log.FatalLevel)

	repo := NewMemoryRepository()
	hub := NewHub(logger)
	ledger := NewVoteLedger(repo, hub)
	store := NewQueueStore(repo, ledger, fakeResolver{}, hub)

	e := NewHTTPRouter(repo, store, ledger, hub, []byte("test-secret"), logger)
	server := httptest.NewServer(e)
	t.Cleanup(func() {
		hub.Close()
		server.Close()
	})
	return &apiHarness{t: t, server: server, hub: hub}
}

func (h *apiHarness) request(method, path, token string, body interface{}) (*http.Response, []byte) {
	h.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(h.t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, h.server.URL+path, reader)
	require.NoError(h.t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(h.t, err)
	defer resp.Body.Close()
	out := new(bytes.Buffer)
	_, err = out.ReadFrom(resp.Body)
	require.NoError(h.t, err)
	return resp, out.Bytes()
}

func (h *apiHarness) registerUser(email string) string {
	h.t.Helper()
	resp, body := h.request(http.MethodPost, "/api/auth/register", "", map[string]string{
		"email":    email,
		"password": "hunter22",
	})
	require.Equal(h.t, http.StatusCreated, resp.StatusCode, string(body))
	var out struct {
		Token string `json:"token"`
	}
	require.NoError(h.t, json.Unmarshal(body, &out))
	return out.Token
}

func (h *apiHarness) createPlaylist(token, name string) Playlist {
	h.t.Helper()
	resp, body := h.request(http.MethodPost, "/api/playlists", token, map[string]interface{}{
		"name": name,
	})
	require.Equal(h.t, http.StatusCreated, resp.StatusCode, string(body))
	var playlist Playlist
	require.NoError(h.t, json.Unmarshal(body, &playlist))
	return playlist
}

func (h *apiHarness) addSong(token, playlistID, ref string) SongWithVotes {
	h.t.Helper()
	resp, body := h.request(http.MethodPost, "/api/playlists/"+playlistID+"/songs", token,
		map[string]string{"mediaRef": ref})
	require.Equal(h.t, http.StatusCreated, resp.StatusCode, string(body))
	var song SongWithVotes
	require.NoError(h.t, json.Unmarshal(body, &song))
	return song
}

func TestRegisterLoginAndSession(t *testing.T) {
	h := newAPIHarness(t)

	token := h.registerUser("alice@example.com")
	require.NotEmpty(t, token)

	// duplicate email is rejected
	resp, _ := h.request(http.MethodPost, "/api/auth/register", "", map[string]string{
		"email": "alice@example.com", "password": "hunter22",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body := h.request(http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": "alice@example.com", "password": "hunter22",
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	resp, _ = h.request(http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": "alice@example.com", "password": "wrong",
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, body = h.request(http.MethodGet, "/api/auth/session", token, nil)
	assert.Contains(t, string(body), `"isLoggedIn":true`)

	_, body = h.request(http.MethodGet, "/api/auth/session", "", nil)
	assert.Contains(t, string(body), `"isLoggedIn":false`)
}

func TestMutationsRequireAuth(t *testing.T) {
	h := newAPIHarness(t)
	resp, _ := h.request(http.MethodPost, "/api/playlists", "", map[string]string{"name": "x"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode) // echo's JWT middleware: missing token
	resp, _ = h.request(http.MethodPost, "/api/songs/some-id/vote", "", map[string]int{"value": 1})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAddVoteListRoundTrip(t *testing.T) {
	h := newAPIHarness(t)
	alice := h.registerUser("alice@example.com")
	bob := h.registerUser("bob@example.com")

	playlist := h.createPlaylist(alice, "friday jams")
	s1 := h.addSong(alice, playlist.ID, "vid-1")
	s2 := h.addSong(alice, playlist.ID, "vid-2")

	// bad media reference -> 400
	resp, _ := h.request(http.MethodPost, "/api/playlists/"+playlist.ID+"/songs", alice,
		map[string]string{"mediaRef": "bad-ref"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// unknown playlist -> 404
	resp, _ = h.request(http.MethodPost, "/api/playlists/nope/songs", alice,
		map[string]string{"mediaRef": "vid-3"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// bob upvotes s2
	resp, body := h.request(http.MethodPost, "/api/songs/"+s2.ID+"/vote", bob,
		map[string]int{"value": 1})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var result VoteResult
	require.NoError(t, json.Unmarshal(body, &result))
	assert.Equal(t, 1, result.VoteCount)
	assert.Equal(t, 1, result.UserVote)

	// out-of-range vote -> 400
	resp, _ = h.request(http.MethodPost, "/api/songs/"+s2.ID+"/vote", bob,
		map[string]int{"value": 5})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// list comes back vote-ordered
	resp, body = h.request(http.MethodGet, "/api/playlists/"+playlist.ID+"/songs", bob, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var listing struct {
		Songs []SongWithVotes `json:"songs"`
	}
	require.NoError(t, json.Unmarshal(body, &listing))
	require.Len(t, listing.Songs, 2)
	assert.Equal(t, s2.ID, listing.Songs[0].ID)
	assert.Equal(t, s1.ID, listing.Songs[1].ID)
	assert.Equal(t, 1, listing.Songs[0].UserVote, "bob sees his own vote")
}

func TestRemoveAndPlayingEndpoints(t *testing.T) {
	h := newAPIHarness(t)
	alice := h.registerUser("alice@example.com")
	mallory := h.registerUser("mallory@example.com")

	playlist := h.createPlaylist(alice, "queue")
	song := h.addSong(alice, playlist.ID, "vid-1")

	resp, _ := h.request(http.MethodPut, "/api/songs/"+song.ID+"/playing", alice, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = h.request(http.MethodPut, "/api/songs/missing/playing", alice, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = h.request(http.MethodDelete, "/api/songs/"+song.ID, mallory, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = h.request(http.MethodDelete, "/api/songs/"+song.ID, alice, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = h.request(http.MethodDelete, "/api/songs/"+song.ID, alice, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPlaylistOwnershipRules(t *testing.T) {
	h := newAPIHarness(t)
	alice := h.registerUser("alice@example.com")
	bob := h.registerUser("bob@example.com")

	playlist := h.createPlaylist(alice, "mine")

	resp, _ := h.request(http.MethodDelete, "/api/playlists/"+playlist.ID, bob, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = h.request(http.MethodPut, "/api/playlists/"+playlist.ID+"/autoplay", bob,
		map[string]bool{"enabled": true})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = h.request(http.MethodPut, "/api/playlists/"+playlist.ID+"/autoplay", alice,
		map[string]bool{"enabled": true})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = h.request(http.MethodDelete, "/api/playlists/"+playlist.ID, alice, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = h.request(http.MethodGet, "/api/playlists/"+playlist.ID, alice, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// anyone can fetch the queue snapshot, token or not; only the own-vote
// annotation needs an identity
func TestListSongsAllowsAnonymousViewers(t *testing.T) {
	h := newAPIHarness(t)
	alice := h.registerUser("alice@example.com")
	playlist := h.createPlaylist(alice, "open mic")
	song := h.addSong(alice, playlist.ID, "vid-1")

	resp, _ := h.request(http.MethodPost, "/api/songs/"+song.ID+"/vote", alice,
		map[string]int{"value": 1})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := h.request(http.MethodGet, "/api/playlists/"+playlist.ID+"/songs", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var listing struct {
		Songs []SongWithVotes `json:"songs"`
	}
	require.NoError(t, json.Unmarshal(body, &listing))
	require.Len(t, listing.Songs, 1)
	assert.Equal(t, 1, listing.Songs[0].VoteCount)
	assert.Equal(t, 0, listing.Songs[0].UserVote, "no identity, no own-vote annotation")
}

// racing votes through the API must broadcast their tallies in commit order,
// so the last event a room sees carries the committed tally
func TestConcurrentVotesBroadcastCommittedTally(t *testing.T) {
	h := newAPIHarness(t)
	alice := h.registerUser("alice@example.com")
	playlist := h.createPlaylist(alice, "contested")
	song := h.addSong(alice, playlist.ID, "vid-1")

	const voters = 5
	tokens := make([]string, voters)
	tokens[0] = alice
	for i := 1; i < voters; i++ {
		tokens[i] = h.registerUser(fmt.Sprintf("voter-%d@example.com", i))
	}

	wsURL := strings.Replace(h.server.URL, "http://", "ws://", 1) + "/api/socket"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	join, _ := Event{Kind: EventJoinPlaylist, PlaylistID: playlist.ID}.Marshal()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, join))
	require.Eventually(t, func() bool { return h.hub.RoomSize(playlist.ID) == 1 },
		2*time.Second, 10*time.Millisecond)

	var wg sync.WaitGroup
	for _, token := range tokens {
		wg.Add(1)
		go func(token string) {
			defer wg.Done()
			resp, _ := h.request(http.MethodPost, "/api/songs/"+song.ID+"/vote", token,
				map[string]int{"value": 1})
			assert.Equal(t, http.StatusOK, resp.StatusCode)
		}(token)
	}
	wg.Wait()

	// five distinct upvotes commit tallies 1..5; the room must see them in
	// that order regardless of how the requests interleaved
	for want := 1; want <= voters; want++ {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, payload, err := conn.ReadMessage()
		require.NoError(t, err)
		voted, err := UnmarshalEvent(payload)
		require.NoError(t, err)
		require.Equal(t, EventSongVoted, voted.Kind)
		assert.Equal(t, want, voted.VoteCount)
	}

	resp, body := h.request(http.MethodGet, "/api/playlists/"+playlist.ID+"/songs", alice, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var listing struct {
		Songs []SongWithVotes `json:"songs"`
	}
	require.NoError(t, json.Unmarshal(body, &listing))
	require.Len(t, listing.Songs, 1)
	assert.Equal(t, voters, listing.Songs[0].VoteCount,
		"last broadcast matches the committed tally")
}

// a socket subscriber sees mutations made over the REST API, in order
func TestSocketReceivesPublishedEvents(t *testing.T) {
	h := newAPIHarness(t)
	alice := h.registerUser("alice@example.com")
	playlist := h.createPlaylist(alice, "live")

	wsURL := strings.Replace(h.server.URL, "http://", "ws://", 1) + "/api/socket"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	join, _ := Event{Kind: EventJoinPlaylist, PlaylistID: playlist.ID}.Marshal()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, join))

	// join is processed by the reader goroutine; wait for the room to exist
	require.Eventually(t, func() bool { return h.hub.RoomSize(playlist.ID) == 1 },
		2*time.Second, 10*time.Millisecond)

	song := h.addSong(alice, playlist.ID, "vid-1")
	resp, _ := h.request(http.MethodPost, "/api/songs/"+song.ID+"/vote", alice,
		map[string]int{"value": 1})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)
	added, err := UnmarshalEvent(payload)
	require.NoError(t, err)
	assert.Equal(t, EventSongAdded, added.Kind)
	require.NotNil(t, added.Song)
	assert.Equal(t, song.ID, added.Song.ID)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err = conn.ReadMessage()
	require.NoError(t, err)
	voted, err := UnmarshalEvent(payload)
	require.NoError(t, err)
	assert.Equal(t, EventSongVoted, voted.Kind)
	assert.Equal(t, song.ID, voted.SongID)
	assert.Equal(t, 1, voted.VoteCount)
}
