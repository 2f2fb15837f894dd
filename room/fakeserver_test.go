/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package room

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
)

// gameServer is a stand-in for the real game backend: one websocket hub
// per process plus the REST endpoints the Directory talks to.
type gameServer struct {
	t   *testing.T
	srv *httptest.Server

	mu      sync.Mutex
	clients map[*gameClient]bool
	details Details
	answer  string

	received chan received

	wsRefuse    atomic.Bool
	wsAttempts  atomic.Int32
	joinCalls   atomic.Int32
	leaveCalls  atomic.Int32
	detailCalls atomic.Int32
	lastAuth    atomic.Value
}

type gameClient struct {
	conn *websocket.Conn
	send chan any
	room string
}

type received struct {
	Type    CommandKind     `json:"type"`
	MsgID   string          `json:"msg_id"`
	Payload json.RawMessage `json:"payload"`
}

var testUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func newGameServer(t *testing.T) *gameServer {
	t.Helper()

	gs := &gameServer{
		t:        t,
		clients:  make(map[*gameClient]bool),
		received: make(chan received, 256),
		details: Details{
			Room: Info{ID: "r1", Name: "Friday Hits", Capacity: 6, Mode: ModeSing, HostID: "host"},
			Participants: []Participant{
				{ID: "host", Nickname: "Host", Host: true},
			},
		},
	}
	gs.lastAuth.Store("")

	mux := httprouter.New()
	mux.GET("/ws/rooms/:room", gs.serveWS)
	mux.GET("/api/rooms", gs.serveList)
	mux.GET("/api/rooms/:room", gs.serveDetails)
	mux.POST("/api/rooms/:room/join", gs.serveJoin)
	mux.POST("/api/rooms/:room/leave", gs.serveLeave)
	mux.POST("/api/rooms/:room/answer", gs.serveAnswer)

	gs.srv = httptest.NewServer(mux)
	t.Cleanup(gs.close)

	return gs
}

func (gs *gameServer) URL() string {
	return gs.srv.URL
}

func (gs *gameServer) close() {
	gs.dropAll()
	gs.srv.Close()
}

func (gs *gameServer) serveWS(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	gs.wsAttempts.Add(1)

	if gs.wsRefuse.Load() {
		http.Error(w, "no such room", http.StatusNotFound)
		return
	}

	conn, err := testUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	client := &gameClient{
		conn: conn,
		send: make(chan any, 16),
		room: ps.ByName("room"),
	}

	gs.mu.Lock()
	gs.clients[client] = true
	gs.mu.Unlock()

	go client.writePump()
	client.readPump(gs)
}

func (c *gameClient) readPump(gs *gameServer) {
	defer func() {
		gs.mu.Lock()
		if _, ok := gs.clients[c]; ok {
			delete(gs.clients, c)
			close(c.send)
		}
		gs.mu.Unlock()
		_ = c.conn.Close()
	}()

	for {
		var msg received
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}
		select {
		case gs.received <- msg:
		default:
		}
	}
}

func (c *gameClient) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		var err error
		if raw, ok := msg.([]byte); ok {
			err = c.conn.WriteMessage(websocket.TextMessage, raw)
		} else {
			err = c.conn.WriteJSON(msg)
		}
		if err != nil {
			return
		}
	}
}

// push broadcasts one server frame to every connected client.
func (gs *gameServer) push(kind Kind, payload any) {
	gs.mu.Lock()
	defer gs.mu.Unlock()

	for c := range gs.clients {
		c.send <- map[string]any{"type": kind, "payload": payload}
	}
}

func (gs *gameServer) pushRaw(raw string) {
	gs.mu.Lock()
	defer gs.mu.Unlock()

	for c := range gs.clients {
		c.send <- []byte(raw)
	}
}

// dropAll kills every socket without a close handshake.
func (gs *gameServer) dropAll() {
	gs.mu.Lock()
	defer gs.mu.Unlock()

	for c := range gs.clients {
		_ = c.conn.UnderlyingConn().Close()
	}
}

func (gs *gameServer) connected() int {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	return len(gs.clients)
}

// next returns the next frame of the given type the server received.
func (gs *gameServer) next(kind CommandKind) received {
	gs.t.Helper()

	timeout := time.After(3 * time.Second)
	for {
		select {
		case msg := <-gs.received:
			if msg.Type == kind {
				return msg
			}
		case <-timeout:
			gs.t.Fatalf("server never received %q", kind)
			return received{}
		}
	}
}

func (gs *gameServer) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (gs *gameServer) serveList(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	gs.lastAuth.Store(r.Header.Get("Authorization"))

	gs.mu.Lock()
	rooms := []Info{gs.details.Room, {ID: "", Name: "broken"}}
	gs.mu.Unlock()

	gs.writeJSON(w, http.StatusOK, rooms)
}

func (gs *gameServer) serveDetails(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	gs.detailCalls.Add(1)

	gs.mu.Lock()
	d := gs.details
	gs.mu.Unlock()

	if ps.ByName("room") != d.Room.ID {
		gs.writeJSON(w, http.StatusNotFound, map[string]string{"error": "room not found"})
		return
	}
	gs.writeJSON(w, http.StatusOK, d)
}

func (gs *gameServer) serveJoin(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	gs.joinCalls.Add(1)

	gs.mu.Lock()
	d := gs.details
	gs.mu.Unlock()

	if ps.ByName("room") != d.Room.ID {
		gs.writeJSON(w, http.StatusNotFound, map[string]string{"error": "room not found"})
		return
	}
	if d.Room.Capacity > 0 && len(d.Participants) >= d.Room.Capacity {
		gs.writeJSON(w, http.StatusConflict, map[string]string{"message": "room is full"})
		return
	}
	gs.writeJSON(w, http.StatusOK, d)
}

func (gs *gameServer) serveLeave(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	gs.leaveCalls.Add(1)
	w.WriteHeader(http.StatusNoContent)
}

func (gs *gameServer) serveAnswer(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var in TextPayload
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, "bad body", http.StatusBadRequest)
		return
	}
	gs.writeJSON(w, http.StatusOK, AnswerResult{Correct: in.Text == gs.answer, Score: 10})
}
