// internal/api/api_test.go
package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cardroom/switchboard/internal/auth"
	"github.com/cardroom/switchboard/internal/catalog"
	"github.com/cardroom/switchboard/internal/config"
	"github.com/cardroom/switchboard/internal/hub"
	"github.com/cardroom/switchboard/internal/logger"
	"github.com/cardroom/switchboard/internal/message"
	"github.com/cardroom/switchboard/internal/util"
)

func TestMain(m *testing.M) {
	logger.InitLogger(logger.LogConfig{Level: "error"})
	os.Exit(m.Run())
}

// newTestServer builds the full stack on temporary files and serves the
// router from an httptest server. Three tokens are provisioned: token-alice,
// token-bobby and token-carol.
func newTestServer(t *testing.T) (*httptest.Server, *hub.Hub) {
	t.Helper()

	dir := t.TempDir()
	tokensPath := filepath.Join(dir, "tokens.json")
	err := util.WriteJSON(tokensPath, map[string]string{
		"token-alice": "alice",
		"token-bobby": "bobby",
		"token-carol": "carol",
	})
	if err != nil {
		t.Fatalf("Failed to write token table: %v", err)
	}

	cfg := config.NewConfig()
	cfg.TokensFile = tokensPath
	cfg.RoomsFile = filepath.Join(dir, "rooms.json")
	cfg.SendQueueSize = 16
	cfg.Version = "test"

	store, err := auth.NewTokenStore(cfg.TokensFile, logger.NewLogger("auth"))
	if err != nil {
		t.Fatalf("Failed to build token store: %v", err)
	}
	rooms, err := catalog.New(cfg.RoomsFile, logger.NewLogger("catalog"))
	if err != nil {
		t.Fatalf("Failed to open room catalog: %v", err)
	}

	h := hub.NewHub(cfg.SendQueueSize, nil, logger.NewLogger("hub"))
	go h.Run()
	t.Cleanup(h.Stop)

	s := NewServer(cfg, h, rooms, store, nil, logger.NewLogger("api"))
	ts := httptest.NewServer(s.Router())
	t.Cleanup(ts.Close)
	return ts, h
}

func doRequest(t *testing.T, method, url, token, body string) *http.Response {
	t.Helper()
	var reader *bytes.Buffer
	if body != "" {
		reader = bytes.NewBufferString(body)
	} else {
		reader = &bytes.Buffer{}
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("Failed to build %s %s: %v", method, url, err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, url, err)
	}
	return resp
}

// decodeBody asserts the status code, decodes the JSON body into v and
// closes it.
func decodeBody(t *testing.T, resp *http.Response, wantStatus int, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		t.Fatalf("Expected status %d, got %d", wantStatus, resp.StatusCode)
	}
	if v != nil {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("Failed to decode response body: %v", err)
		}
	}
}

// dialWS connects to the /ws endpoint with the token in the query string,
// the way browser clients authenticate the handshake.
func dialWS(t *testing.T, ts *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Failed to dial /ws with token %s: %v", token, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) message.Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Failed to read frame: %v", err)
	}
	var msg message.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Failed to decode frame: %v", err)
	}
	return msg
}

func waitForPresence(t *testing.T, h *hub.Hub, username string, online bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if h.IsOnline(username) == online {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s to reach online=%v", username, online)
}

// TestAuthGate tests that protected routes reject missing and unknown tokens
// and resolve valid ones.
func TestAuthGate(t *testing.T) {
	ts, _ := newTestServer(t)

	t.Run("missing token", func(t *testing.T) {
		var body map[string]string
		decodeBody(t, doRequest(t, "GET", ts.URL+"/api/online", "", ""), http.StatusUnauthorized, &body)
		if body["error"] != "invalid or missing token" {
			t.Errorf("Expected the rejection body, got %v", body)
		}
	})

	t.Run("unknown token", func(t *testing.T) {
		decodeBody(t, doRequest(t, "GET", ts.URL+"/api/online", "token-mallory", ""), http.StatusUnauthorized, nil)
	})

	t.Run("valid token", func(t *testing.T) {
		var body map[string][]string
		decodeBody(t, doRequest(t, "GET", ts.URL+"/api/online", "token-alice", ""), http.StatusOK, &body)
		if len(body["online"]) != 0 {
			t.Errorf("Expected nobody online, got %v", body["online"])
		}
	})

	t.Run("websocket handshake without token", func(t *testing.T) {
		wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
		conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
		if err == nil {
			conn.Close()
			t.Fatal("Expected the handshake to be rejected")
		}
		if resp == nil || resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("Expected status 401 on the handshake, got %+v", resp)
		}
	})
}

// TestStatusEndpoints tests the unauthenticated banner and health routes.
func TestStatusEndpoints(t *testing.T) {
	ts, _ := newTestServer(t)

	var banner map[string]interface{}
	decodeBody(t, doRequest(t, "GET", ts.URL+"/", "", ""), http.StatusOK, &banner)
	if banner["service"] != "switchboard" || banner["version"] != "test" {
		t.Errorf("Expected the service banner, got %v", banner)
	}
	if mem, ok := banner["free_memory"].(float64); !ok || mem <= 0 {
		t.Errorf("Expected a positive free_memory figure, got %v", banner["free_memory"])
	}

	var health map[string]string
	decodeBody(t, doRequest(t, "GET", ts.URL+"/health", "", ""), http.StatusOK, &health)
	if health["status"] != "ok" || health["nats"] != "disconnected" {
		t.Errorf("Expected ok health without NATS, got %v", health)
	}
}

// TestUnknownRoutes tests the JSON 404 and 405 handlers.
func TestUnknownRoutes(t *testing.T) {
	ts, _ := newTestServer(t)

	var notFound map[string]string
	decodeBody(t, doRequest(t, "GET", ts.URL+"/nope", "", ""), http.StatusNotFound, &notFound)
	if notFound["error"] != "not found" {
		t.Errorf("Expected the not-found body, got %v", notFound)
	}

	var wrongMethod map[string]string
	decodeBody(t, doRequest(t, "DELETE", ts.URL+"/health", "", ""), http.StatusMethodNotAllowed, &wrongMethod)
	if wrongMethod["error"] != "method not allowed" {
		t.Errorf("Expected the method-not-allowed body, got %v", wrongMethod)
	}
}

// TestRoomLifecycle walks a room through create, fetch, list, update and
// delete, plus the validation failures along the way.
func TestRoomLifecycle(t *testing.T) {
	ts, _ := newTestServer(t)
	roomsURL := ts.URL + "/api/rooms"

	var created catalog.Room
	decodeBody(t, doRequest(t, "POST", roomsURL, "token-alice",
		`{"name":"High Rollers","type":"private","members":["alice","bobby"]}`), http.StatusCreated, &created)
	if created.ID == "" || created.Name != "High Rollers" || created.Type != "private" || created.CreatedOn == "" {
		t.Fatalf("Expected a fully populated room record, got %+v", created)
	}

	var fetched catalog.Room
	decodeBody(t, doRequest(t, "GET", roomsURL+"/"+created.ID, "token-bobby", ""), http.StatusOK, &fetched)
	if fetched.ID != created.ID || fetched.Name != created.Name {
		t.Errorf("Expected the created room back, got %+v", fetched)
	}

	var listing map[string][]catalog.Room
	decodeBody(t, doRequest(t, "GET", roomsURL, "token-alice", ""), http.StatusOK, &listing)
	if len(listing["rooms"]) != 1 {
		t.Errorf("Expected one room in the listing, got %v", listing["rooms"])
	}

	var updated catalog.Room
	decodeBody(t, doRequest(t, "PUT", roomsURL+"/"+created.ID, "token-alice",
		`{"name":"VIP Table","type":"public"}`), http.StatusOK, &updated)
	if updated.ID != created.ID || updated.Name != "VIP Table" || updated.Type != "public" {
		t.Errorf("Expected the updated record with the same id, got %+v", updated)
	}

	var deleted map[string]string
	decodeBody(t, doRequest(t, "DELETE", roomsURL+"/"+created.ID, "token-alice", ""), http.StatusOK, &deleted)
	if deleted["status"] != "deleted" {
		t.Errorf("Expected deletion confirmation, got %v", deleted)
	}
	decodeBody(t, doRequest(t, "GET", roomsURL+"/"+created.ID, "token-alice", ""), http.StatusNotFound, nil)

	t.Run("validation failures", func(t *testing.T) {
		decodeBody(t, doRequest(t, "POST", roomsURL, "token-alice", `{"name":"","type":"public"}`), http.StatusBadRequest, nil)
		decodeBody(t, doRequest(t, "POST", roomsURL, "token-alice", `{"name":"x","type":"secret"}`), http.StatusBadRequest, nil)
		decodeBody(t, doRequest(t, "POST", roomsURL, "token-alice", `not json`), http.StatusBadRequest, nil)
	})

	t.Run("unknown room id", func(t *testing.T) {
		decodeBody(t, doRequest(t, "PUT", roomsURL+"/missing", "token-alice", `{"name":"x","type":"public"}`), http.StatusNotFound, nil)
		decodeBody(t, doRequest(t, "DELETE", roomsURL+"/missing", "token-alice", ""), http.StatusNotFound, nil)
		decodeBody(t, doRequest(t, "POST", roomsURL+"/missing/join", "token-alice", ""), http.StatusNotFound, nil)
	})
}

// TestJoinGating tests the three gates on joining a room: the catalog record
// must exist, private rooms admit listed members only, and the caller needs a
// live connection.
func TestJoinGating(t *testing.T) {
	ts, h := newTestServer(t)

	var room catalog.Room
	decodeBody(t, doRequest(t, "POST", ts.URL+"/api/rooms", "token-alice",
		`{"name":"Inner Circle","type":"private","members":["alice"]}`), http.StatusCreated, &room)
	joinURL := ts.URL + "/api/rooms/" + room.ID + "/join"
	leaveURL := ts.URL + "/api/rooms/" + room.ID + "/leave"

	var forbidden map[string]string
	decodeBody(t, doRequest(t, "POST", joinURL, "token-bobby", ""), http.StatusForbidden, &forbidden)
	if forbidden["error"] != "room is private" {
		t.Errorf("Expected the private-room rejection, got %v", forbidden)
	}

	var conflict map[string]string
	decodeBody(t, doRequest(t, "POST", joinURL, "token-alice", ""), http.StatusConflict, &conflict)
	if conflict["error"] != "no live connection for user" {
		t.Errorf("Expected the no-connection rejection, got %v", conflict)
	}

	dialWS(t, ts, "token-alice")
	waitForPresence(t, h, "alice", true)

	var joined map[string]string
	decodeBody(t, doRequest(t, "POST", joinURL, "token-alice", ""), http.StatusOK, &joined)
	if joined["status"] != "joined" || joined["room"] != room.ID {
		t.Errorf("Expected join confirmation, got %v", joined)
	}

	var left map[string]string
	decodeBody(t, doRequest(t, "POST", leaveURL, "token-alice", ""), http.StatusOK, &left)
	if left["status"] != "left" {
		t.Errorf("Expected leave confirmation, got %v", left)
	}

	decodeBody(t, doRequest(t, "POST", leaveURL, "token-carol", ""), http.StatusConflict, nil)
}

// TestLobbyExchange walks the two-user room conversation end to end over
// real sockets: join, message, disconnect, message again.
func TestLobbyExchange(t *testing.T) {
	ts, h := newTestServer(t)

	var lobby catalog.Room
	decodeBody(t, doRequest(t, "POST", ts.URL+"/api/rooms", "token-alice",
		`{"name":"Lobby","type":"public"}`), http.StatusCreated, &lobby)
	joinURL := ts.URL + "/api/rooms/" + lobby.ID + "/join"

	alice := dialWS(t, ts, "token-alice")
	bobby := dialWS(t, ts, "token-bobby")
	waitForPresence(t, h, "alice", true)
	waitForPresence(t, h, "bobby", true)

	decodeBody(t, doRequest(t, "POST", joinURL, "token-alice", ""), http.StatusOK, nil)
	decodeBody(t, doRequest(t, "POST", joinURL, "token-bobby", ""), http.StatusOK, nil)

	frame := fmt.Sprintf(`{"kind":"chat","room":%q,"content":"hi"}`, lobby.ID)
	if err := alice.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		t.Fatalf("Failed to send room message: %v", err)
	}

	for name, conn := range map[string]*websocket.Conn{"alice": alice, "bobby": bobby} {
		got := readFrame(t, conn)
		if got.Room != lobby.ID || got.Sender != "alice" || got.Content != "hi" {
			t.Errorf("%s received unexpected frame: %+v", name, got)
		}
		if got.Timestamp <= 0 {
			t.Errorf("%s received an unstamped frame: %+v", name, got)
		}
	}

	alice.Close()
	waitForPresence(t, h, "alice", false)
	if members := h.Snapshot().Rooms[lobby.ID]; len(members) != 1 || members[0] != "bobby" {
		t.Fatalf("Expected only bobby left in the lobby, got %v", members)
	}

	frame = fmt.Sprintf(`{"kind":"chat","room":%q,"content":"anyone?"}`, lobby.ID)
	if err := bobby.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		t.Fatalf("Failed to send follow-up: %v", err)
	}
	if got := readFrame(t, bobby); got.Content != "anyone?" || got.Sender != "bobby" {
		t.Errorf("Expected bobby to receive his own follow-up, got %+v", got)
	}
	if !h.IsOnline("bobby") {
		t.Error("Expected bobby to stay online after messaging a thinned room")
	}
}

// TestDirectMessages tests point-to-point delivery over sockets, including
// the silent drop for a receiver who is not online.
func TestDirectMessages(t *testing.T) {
	ts, h := newTestServer(t)

	alice := dialWS(t, ts, "token-alice")
	bobby := dialWS(t, ts, "token-bobby")
	waitForPresence(t, h, "alice", true)
	waitForPresence(t, h, "bobby", true)

	// The ghost frame is sent first; if it were delivered anywhere it would
	// arrive before the real one.
	frames := []string{
		`{"kind":"chat","receiver":"ghost","content":"hello?"}`,
		`{"kind":"chat","receiver":"bobby","content":"psst"}`,
	}
	for _, frame := range frames {
		if err := alice.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
			t.Fatalf("Failed to send frame: %v", err)
		}
	}

	got := readFrame(t, bobby)
	if got.Sender != "alice" || got.Content != "psst" {
		t.Errorf("Expected the direct message, got %+v", got)
	}
	if !h.IsOnline("alice") {
		t.Error("Expected alice unaffected by the ghost receiver")
	}
}

// TestAnnounce tests the broadcast endpoint: a system message stamped from
// the server reaches every connected client.
func TestAnnounce(t *testing.T) {
	ts, h := newTestServer(t)

	alice := dialWS(t, ts, "token-alice")
	bobby := dialWS(t, ts, "token-bobby")
	waitForPresence(t, h, "alice", true)
	waitForPresence(t, h, "bobby", true)

	var body map[string]string
	decodeBody(t, doRequest(t, "POST", ts.URL+"/api/announce", "token-carol",
		`{"content":"maintenance at midnight"}`), http.StatusOK, &body)
	if body["status"] != "announced" {
		t.Errorf("Expected announce confirmation, got %v", body)
	}

	for name, conn := range map[string]*websocket.Conn{"alice": alice, "bobby": bobby} {
		got := readFrame(t, conn)
		if got.Kind != message.KindSystem || got.Sender != "server" || got.Content != "maintenance at midnight" {
			t.Errorf("%s received unexpected announcement: %+v", name, got)
		}
	}

	decodeBody(t, doRequest(t, "POST", ts.URL+"/api/announce", "token-carol", `{}`), http.StatusBadRequest, nil)
}

// TestPresenceEndpoints tests the online listing and per-user presence
// lookup against live connections.
func TestPresenceEndpoints(t *testing.T) {
	ts, h := newTestServer(t)

	dialWS(t, ts, "token-alice")
	waitForPresence(t, h, "alice", true)

	var online map[string][]string
	decodeBody(t, doRequest(t, "GET", ts.URL+"/api/online", "token-bobby", ""), http.StatusOK, &online)
	if len(online["online"]) != 1 || online["online"][0] != "alice" {
		t.Errorf("Expected alice in the online listing, got %v", online["online"])
	}

	var present map[string]interface{}
	decodeBody(t, doRequest(t, "GET", ts.URL+"/api/presence/alice", "token-bobby", ""), http.StatusOK, &present)
	if present["username"] != "alice" || present["online"] != true {
		t.Errorf("Expected alice reported online, got %v", present)
	}

	var absent map[string]interface{}
	decodeBody(t, doRequest(t, "GET", ts.URL+"/api/presence/ghost", "token-bobby", ""), http.StatusOK, &absent)
	if absent["online"] != false {
		t.Errorf("Expected ghost reported offline, got %v", absent)
	}
}

// TestServerLifecycle tests Start and Stop against a real listener: Stop
// shuts the listener down and retires every client the hub still holds.
func TestServerLifecycle(t *testing.T) {
	dir := t.TempDir()
	tokensPath := filepath.Join(dir, "tokens.json")
	if err := util.WriteJSON(tokensPath, map[string]string{"token-alice": "alice"}); err != nil {
		t.Fatalf("Failed to write token table: %v", err)
	}

	cfg := config.NewConfig()
	cfg.Port = 0
	cfg.TokensFile = tokensPath
	cfg.RoomsFile = filepath.Join(dir, "rooms.json")

	store, err := auth.NewTokenStore(cfg.TokensFile, logger.NewLogger("auth"))
	if err != nil {
		t.Fatalf("Failed to build token store: %v", err)
	}
	rooms, err := catalog.New(cfg.RoomsFile, logger.NewLogger("catalog"))
	if err != nil {
		t.Fatalf("Failed to open room catalog: %v", err)
	}

	h := hub.NewHub(4, nil, logger.NewLogger("hub"))
	go h.Run()

	s := NewServer(cfg, h, rooms, store, nil, logger.NewLogger("api"))
	if err := s.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}

	client := &hub.Client{ID: "conn-1", Username: "alice", Send: make(chan []byte, 4)}
	h.Register(client)
	if !h.IsOnline("alice") {
		t.Fatal("Expected alice online before shutdown")
	}

	if err := s.Stop(); err != nil {
		t.Fatalf("Failed to stop server: %v", err)
	}

	deadline := time.After(time.Second)
	for open := true; open; {
		select {
		case _, ok := <-client.Send:
			open = ok
		case <-deadline:
			t.Fatal("Timed out waiting for the client queue to close on shutdown")
		}
	}
	if h.IsOnline("alice") {
		t.Error("Expected no presence after shutdown")
	}
}
