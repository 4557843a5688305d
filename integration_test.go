package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"
)

// ---------- helpers ----------

type testServer struct {
	srv   *httptest.Server
	wsURL string
	world *World
	hub   *Hub
}

// startTestServer spins up an httptest.Server with a running ticker and
// admin endpoints enabled. cfgFn may adjust the config before wiring.
func startTestServer(t *testing.T, cfgFn func(*Config)) *testServer {
	t.Helper()

	cfg := testConfig()
	if cfgFn != nil {
		cfgFn(cfg)
	}
	world := NewWorld(cfg, testMap())
	hub := NewHub(world, cfg)
	admin := NewAdmin(world, hub, newTestAdminAuth(t, nil), nil)

	ctx, cancel := context.WithCancel(context.Background())
	go world.RunTicker(ctx, cfg.TickDuration())

	srv := httptest.NewServer(SetupRoutes(hub, admin))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})

	return &testServer{
		srv:   srv,
		wsURL: "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
		world: world,
		hub:   hub,
	}
}

// dialWS opens a WebSocket connection and waits until the world has
// registered it, so broadcasts sent afterwards reach it.
func (ts *testServer) dialWS(t *testing.T, query string) *websocket.Conn {
	t.Helper()
	before := ts.world.Stats().Connections
	conn, _, err := websocket.DefaultDialer.Dial(ts.wsURL+query, nil)
	if err != nil {
		t.Fatalf("dial WS: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	waitFor(t, func() bool { return ts.world.Stats().Connections > before })
	return conn
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// readMsg reads one frame, decoding JSON or msgpack by frame type.
func readMsg(t *testing.T, conn *websocket.Conn) Msg {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	frameType, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read WS: %v", err)
	}
	var msg Msg
	if frameType == websocket.BinaryMessage {
		err = msgpack.Unmarshal(raw, &msg)
	} else {
		err = json.Unmarshal(raw, &msg)
	}
	if err != nil {
		t.Fatalf("decode %q: %v", raw, err)
	}
	return msg
}

// expectCmd skips frames until one with the given cmd arrives.
func expectCmd(t *testing.T, conn *websocket.Conn, cmd string) Msg {
	t.Helper()
	for i := 0; i < 20; i++ {
		if msg := readMsg(t, conn); msg.Cmd == cmd {
			return msg
		}
	}
	t.Fatalf("no %s message received", cmd)
	return Msg{}
}

func sendJSON(t *testing.T, conn *websocket.Conn, msg Msg) {
	t.Helper()
	if err := conn.WriteJSON(msg); err != nil {
		t.Fatalf("write WS: %v", err)
	}
}

func loginAndStart(t *testing.T, conn *websocket.Conn, name string) int {
	t.Helper()
	sendJSON(t, conn, Msg{Cmd: CmdLogin, Name: strPtr(name), Signature: strPtr(Signature(name, testKey))})
	sendJSON(t, conn, Msg{Cmd: CmdStart})
	you := expectCmd(t, conn, MsgYou)
	return *you.ID
}

// ---------- websocket protocol ----------

func TestLoginStartOverWebsocket(t *testing.T) {
	ts := startTestServer(t, nil)
	c1 := ts.dialWS(t, "")
	c2 := ts.dialWS(t, "")

	id := loginAndStart(t, c1, "alice")
	if id != 1 {
		t.Fatalf("expected unit 1, got %d", id)
	}
	self := expectCmd(t, c1, MsgUnit)
	if *self.ID != 1 || *self.Name != "alice" {
		t.Errorf("own unit = %+v", self)
	}

	// A connection that never logged in still sees the world
	seen := expectCmd(t, c2, MsgUnit)
	if *seen.ID != 1 || *seen.X != 2 || *seen.Y != 2 || *seen.Img != "hero.png" {
		t.Errorf("broadcast unit = %+v", seen)
	}
}

func TestMoveReachesClients(t *testing.T) {
	ts := startTestServer(t, nil)
	c1 := ts.dialWS(t, "")
	id := loginAndStart(t, c1, "alice")

	sendJSON(t, c1, Msg{Cmd: CmdSpeed, ID: intPtr(id), X: intPtr(0), Y: intPtr(1)})
	move := expectCmd(t, c1, MsgMove)
	if *move.ID != id || *move.X != 2 || *move.Y != 3 || *move.Speed != 5 {
		t.Errorf("unexpected move %+v", move)
	}
}

func TestBadSignatureClosesConnection(t *testing.T) {
	ts := startTestServer(t, nil)
	c := ts.dialWS(t, "")

	sendJSON(t, c, Msg{Cmd: CmdLogin, Name: strPtr("alice"), Signature: strPtr("deadbeef")})

	c.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := c.ReadMessage(); err == nil {
		t.Fatal("expected the connection to be closed")
	}
	waitFor(t, func() bool { return ts.world.Stats().Connections == 0 })
	waitFor(t, func() bool { return ts.hub.TotalConns() == 0 })
}

func TestMalformedFrameClosesConnection(t *testing.T) {
	ts := startTestServer(t, nil)
	c := ts.dialWS(t, "")

	if err := c.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatal(err)
	}
	c.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := c.ReadMessage(); err == nil {
		t.Fatal("expected the connection to be closed")
	}
}

func TestDisconnectRemovesUnitsOverWebsocket(t *testing.T) {
	ts := startTestServer(t, nil)
	c1 := ts.dialWS(t, "")
	c2 := ts.dialWS(t, "")

	id := loginAndStart(t, c1, "alice")
	expectCmd(t, c2, MsgUnit)

	c1.Close()

	removed := expectCmd(t, c2, MsgRemove)
	if *removed.ID != id {
		t.Errorf("expected remove for %d, got %+v", id, removed)
	}
	waitFor(t, func() bool { return ts.world.Stats().Units == 0 })
}

func TestFrameFloodClosesConnection(t *testing.T) {
	ts := startTestServer(t, nil)
	c := ts.dialWS(t, "")
	loginAndStart(t, c, "alice")
	if ts.world.Stats().Units != 1 {
		t.Fatal("expected one unit before the flood")
	}

	// Two frames are already spent; this pushes well past the per-second cap
	for i := 0; i < maxMessagesPerSec; i++ {
		if err := c.WriteJSON(Msg{Cmd: CmdPing}); err != nil {
			break
		}
	}

	c.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := c.ReadMessage(); err != nil {
			break
		}
	}
	waitFor(t, func() bool { return ts.world.Stats().Units == 0 })
	waitFor(t, func() bool { return ts.world.Stats().Connections == 0 })
}

func TestCloseCommand(t *testing.T) {
	ts := startTestServer(t, nil)
	c := ts.dialWS(t, "")

	sendJSON(t, c, Msg{Cmd: CmdClose})
	waitFor(t, func() bool { return ts.world.Stats().Connections == 0 })
}

func TestMsgpackCodec(t *testing.T) {
	ts := startTestServer(t, nil)
	c := ts.dialWS(t, "?codec=msgpack")

	login, err := msgpack.Marshal(&Msg{Cmd: CmdLogin, Name: strPtr("bob"), Signature: strPtr(Signature("bob", testKey))})
	if err != nil {
		t.Fatal(err)
	}
	if err := c.WriteMessage(websocket.BinaryMessage, login); err != nil {
		t.Fatal(err)
	}
	// Text commands are still accepted
	sendJSON(t, c, Msg{Cmd: CmdStart})

	c.SetReadDeadline(time.Now().Add(2 * time.Second))
	frameType, raw, err := c.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	if frameType != websocket.BinaryMessage {
		t.Fatalf("expected a binary frame, got %d", frameType)
	}
	var you Msg
	if err := msgpack.Unmarshal(raw, &you); err != nil {
		t.Fatal(err)
	}
	if you.Cmd != MsgYou || *you.ID != 1 {
		t.Errorf("unexpected first message %+v", you)
	}
}

func TestConnectionLimitPerIP(t *testing.T) {
	ts := startTestServer(t, func(cfg *Config) { cfg.MaxConnsPerIP = 1 })
	ts.dialWS(t, "")

	_, resp, err := websocket.DefaultDialer.Dial(ts.wsURL, nil)
	if err == nil {
		t.Fatal("second connection should be refused")
	}
	if resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %v", resp)
	}
}

// ---------- HTTP endpoints ----------

func TestHealthz(t *testing.T) {
	ts := startTestServer(t, nil)

	resp, err := http.Get(ts.srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != 200 || string(body) != "ok" {
		t.Errorf("healthz = %d %q", resp.StatusCode, body)
	}
}

func TestInviteQRCode(t *testing.T) {
	ts := startTestServer(t, nil)

	resp, err := http.Get(ts.srv.URL + "/invite.png")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if ct := resp.Header.Get("Content-Type"); ct != "image/png" {
		t.Errorf("Content-Type = %q", ct)
	}
	if !bytes.HasPrefix(body, []byte("\x89PNG")) {
		t.Error("body is not a PNG")
	}
}

func adminToken(t *testing.T, ts *testServer, password string) (*http.Response, string) {
	t.Helper()
	body := strings.NewReader(`{"username":"ops","password":"` + password + `"}`)
	resp, err := http.Post(ts.srv.URL+"/admin/login", "application/json", body)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var out struct {
		Token string `json:"token"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out.Token
}

func TestAdminLoginAndStats(t *testing.T) {
	ts := startTestServer(t, nil)
	c := ts.dialWS(t, "")
	loginAndStart(t, c, "alice")

	resp, token := adminToken(t, ts, "hunter2")
	if resp.StatusCode != http.StatusOK || token == "" {
		t.Fatalf("admin login = %d, token %q", resp.StatusCode, token)
	}

	req, _ := http.NewRequest(http.MethodGet, ts.srv.URL+"/admin/stats", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	statsResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer statsResp.Body.Close()
	if statsResp.StatusCode != http.StatusOK {
		t.Fatalf("stats status = %d", statsResp.StatusCode)
	}

	var stats struct {
		World   WorldStats       `json:"world"`
		Sockets int              `json:"sockets"`
		Metrics map[string]any   `json:"metrics"`
		Events  map[string]int   `json:"events"`
		Recent  []map[string]any `json:"recent"`
	}
	if err := json.NewDecoder(statsResp.Body).Decode(&stats); err != nil {
		t.Fatal(err)
	}
	if stats.World.Units != 1 || stats.World.Connections != 1 || !stats.World.Consistent {
		t.Errorf("world stats = %+v", stats.World)
	}
	if stats.Sockets != 1 {
		t.Errorf("sockets = %d", stats.Sockets)
	}
	if _, ok := stats.Metrics["tick_count"]; !ok {
		t.Error("metrics missing tick_count")
	}
}

func TestAdminRejectsBadCredentials(t *testing.T) {
	ts := startTestServer(t, nil)

	resp, _ := adminToken(t, ts, "wrong")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("bad password status = %d", resp.StatusCode)
	}

	statsResp, err := http.Get(ts.srv.URL + "/admin/stats")
	if err != nil {
		t.Fatal(err)
	}
	statsResp.Body.Close()
	if statsResp.StatusCode != http.StatusUnauthorized {
		t.Errorf("stats without token status = %d", statsResp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, ts.srv.URL+"/admin/stats", nil)
	req.Header.Set("Authorization", "Bearer nope")
	statsResp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	statsResp.Body.Close()
	if statsResp.StatusCode != http.StatusUnauthorized {
		t.Errorf("stats with bad token status = %d", statsResp.StatusCode)
	}
}

func TestAdminDisabledWithoutCredentials(t *testing.T) {
	cfg := testConfig()
	world := NewWorld(cfg, testMap())
	srv := httptest.NewServer(SetupRoutes(NewHub(world, cfg), NewAdmin(world, nil, nil, nil)))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/admin/login", "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}
