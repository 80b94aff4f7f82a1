// Tic-tac-toe sessions
//
// Every game lives on the server in a Hub, keyed by a random game ID.
// Browsers render the board from the hub's view and send clicks back,
// either as plain form posts or over the game's WebSocket.
//
// Features:
// - Routes per game ID: /tictactoe/:gameid, plus /ws, /state, /qr and the action posts
// - One goroutine per hub applies every action in arrival order
// - Every applied action broadcasts the new view to all connected browsers
// - Occupied cells, moves after a win and unknown steps are ignored
// - Any browser watching a game may play either side
// - Games auto-reaped after configurable idle timeout
// - Random 8-char game IDs via crypto/rand, with server-side collision check
// - In-browser QR button to share the current game, backed by go-qrcode

package main

import (
	"bytes"
	"crypto/rand"
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"

	"github.com/Seednode/tictactoe/games"
)

const (
	gamePath         = "/tictactoe"
	gameIDLength     = 8
	maxGameIDLength  = 64
	playerCookieName = "tictactoe_id"
)

// Messages coming from clients
type ClientMessage struct {
	Type string `json:"type"`           // "play", "jump", "toggle_sort"
	Cell *int   `json:"cell,omitempty"` // play
	Step *int   `json:"step,omitempty"` // jump
}

// StateMessage carries the full view after every change.
type StateMessage struct {
	Type    string     `json:"type"`    // "state"
	Viewers int        `json:"viewers"` // connected browsers
	Game    games.View `json:"game"`
}

// action converts a client message into a game action.
// It returns false for unknown types and missing fields.
func (m ClientMessage) action() (games.Action, bool) {
	switch m.Type {
	case "play":
		if m.Cell == nil {
			return nil, false
		}
		return games.PlayAt{Cell: *m.Cell}, true
	case "jump":
		if m.Step == nil {
			return nil, false
		}
		return games.JumpToStep{Step: *m.Step}, true
	case "toggle_sort":
		return games.ToggleSort{}, true
	default:
		return nil, false
	}
}

func describe(a games.Action) string {
	switch a := a.(type) {
	case games.PlayAt:
		return fmt.Sprintf("played cell %d", a.Cell)
	case games.JumpToStep:
		return fmt.Sprintf("jumped to step %d", a.Step)
	case games.ToggleSort:
		return "toggled sort order"
	default:
		return "sent an unknown action"
	}
}

type Client struct {
	conn     *websocket.Conn
	send     chan any
	playerID string
}

type actionRequest struct {
	playerID string
	action   games.Action
	done     chan bool
}

type Hub struct {
	id      string
	game    *games.Game
	clients map[*Client]bool

	register chan *Client
	unreg    chan *Client
	actions  chan actionRequest
	quit     chan struct{}
	stop     sync.Once

	mu sync.RWMutex

	createdAt  time.Time
	lastActive time.Time
}

func newHub(gameID string) *Hub {
	now := time.Now()
	return &Hub{
		id:         gameID,
		game:       games.NewGame(),
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unreg:      make(chan *Client),
		actions:    make(chan actionRequest),
		quit:       make(chan struct{}),
		createdAt:  now,
		lastActive: now,
	}
}

func (h *Hub) run(cfg *Config) {
	defer h.disconnectAll()

	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.lastActive = time.Now()
			h.clients[c] = true
			h.broadcastStateLocked()
			h.mu.Unlock()

			logf(cfg, "GAMES: Player %s connected to %s", c.playerID, h.id)

		case c := <-h.unreg:
			h.mu.Lock()
			h.lastActive = time.Now()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
				h.broadcastStateLocked()
			}
			h.mu.Unlock()

		case req := <-h.actions:
			h.mu.Lock()
			h.lastActive = time.Now()
			applied := h.game.Dispatch(req.action)
			if applied {
				h.broadcastStateLocked()
			}
			h.mu.Unlock()

			if applied {
				logf(cfg, "GAMES: Player %s %s in %s", req.playerID, describe(req.action), h.id)
			}

			if req.done != nil {
				req.done <- applied
			}

		case <-h.quit:
			return
		}
	}
}

// stateLocked assumes h.mu is already held.
func (h *Hub) stateLocked() StateMessage {
	return StateMessage{
		Type:    "state",
		Viewers: len(h.clients),
		Game:    h.game.View(),
	}
}

// broadcastStateLocked assumes h.mu is already held.
func (h *Hub) broadcastStateLocked() {
	msg := h.stateLocked()

	for client := range h.clients {
		select {
		case client.send <- msg:
		default:
			delete(h.clients, client)
			close(client.send)
		}
	}
}

func (h *Hub) state() StateMessage {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.stateLocked()
}

// dispatch hands a to the hub's event loop and waits for it to be applied.
func (h *Hub) dispatch(playerID string, a games.Action) bool {
	req := actionRequest{
		playerID: playerID,
		action:   a,
		done:     make(chan bool, 1),
	}

	select {
	case <-h.quit:
		return false
	default:
	}

	select {
	case h.actions <- req:
	case <-h.quit:
		return false
	}

	return <-req.done
}

// Close stops the event loop, which disconnects every client.
func (h *Hub) Close() {
	h.stop.Do(func() {
		close(h.quit)
	})
}

func (h *Hub) disconnectAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

func getOrSetPlayerID(cfg *Config, w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(playerCookieName); err == nil && c.Value != "" {
		return c.Value
	}

	id := uuid.NewString()

	http.SetCookie(w, &http.Cookie{
		Name:     playerCookieName,
		Value:    id,
		Path:     cfg.prefix + "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	return id
}

// validGameID accepts only short alphanumeric IDs.
func validGameID(id string) bool {
	if id == "" || len(id) > maxGameIDLength {
		return false
	}

	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		default:
			return false
		}
	}

	return true
}

// GameManager holds a set of hubs keyed by game ID, so each $path/$gameid
// is its own isolated game.
type GameManager struct {
	mu          sync.Mutex
	hubs        map[string]*Hub
	idleTimeout time.Duration
	done        chan struct{}
	stop        sync.Once
}

func newGameManager(idleTimeout time.Duration) *GameManager {
	gm := &GameManager{
		hubs:        make(map[string]*Hub),
		idleTimeout: idleTimeout,
		done:        make(chan struct{}),
	}
	if idleTimeout > 0 {
		go gm.reaperLoop()
	}
	return gm
}

func (gm *GameManager) getHub(cfg *Config, gameID string) *Hub {
	gm.mu.Lock()
	defer gm.mu.Unlock()

	if hub, ok := gm.hubs[gameID]; ok {
		return hub
	}

	hub := newHub(gameID)
	gm.hubs[gameID] = hub
	go hub.run(cfg)
	return hub
}

// newGameID generates a crypto-random game ID and ensures it doesn't
// collide with existing games.
func (gm *GameManager) newGameID() string {
	const letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	const max = byte(255 - (256 % len(letters)))

	for {
		out := make([]byte, 0, gameIDLength)
		buf := make([]byte, gameIDLength*2)

		for len(out) < gameIDLength {
			if _, err := rand.Read(buf); err != nil {
				panic("crypto/rand failure: " + err.Error())
			}

			for _, b := range buf {
				if b <= max && len(out) < gameIDLength {
					out = append(out, letters[int(b)%len(letters)])
				}
			}
		}
		id := string(out)

		gm.mu.Lock()
		_, exists := gm.hubs[id]
		gm.mu.Unlock()

		if !exists {
			return id
		}
	}
}

// reapIdle removes hubs that have been idle since before cutoff.
func (gm *GameManager) reapIdle(cutoff time.Time) int {
	gm.mu.Lock()
	defer gm.mu.Unlock()

	reaped := 0
	for id, hub := range gm.hubs {
		hub.mu.RLock()
		last := hub.lastActive
		hub.mu.RUnlock()

		if last.Before(cutoff) {
			delete(gm.hubs, id)
			hub.Close()
			reaped++
		}
	}

	return reaped
}

// reaperLoop periodically removes hubs that have been idle longer than idleTimeout.
func (gm *GameManager) reaperLoop() {
	ticker := time.NewTicker(gm.idleTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			gm.reapIdle(time.Now().Add(-gm.idleTimeout))
		case <-gm.done:
			return
		}
	}
}

// Close ends every game and stops the reaper.
func (gm *GameManager) Close() {
	gm.stop.Do(func() {
		close(gm.done)
	})

	gm.mu.Lock()
	defer gm.mu.Unlock()

	for id, hub := range gm.hubs {
		delete(gm.hubs, id)
		hub.Close()
	}
}

// gameHub resolves :gameid, writing a 400 and returning nil when it is malformed.
func gameHub(cfg *Config, gm *GameManager, w http.ResponseWriter, ps httprouter.Params) *Hub {
	gameID := ps.ByName("gameid")
	if !validGameID(gameID) {
		http.Error(w, "invalid game id", http.StatusBadRequest)
		return nil
	}

	return gm.getHub(cfg, gameID)
}

// WebSocket handler that picks the hub based on :gameid
func serveWSForManager(cfg *Config, gm *GameManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		hub := gameHub(cfg, gm, w, ps)
		if hub == nil {
			return
		}

		playerID := getOrSetPlayerID(cfg, w, r)

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Println("upgrade error:", err)
			return
		}

		client := &Client{
			conn:     conn,
			send:     make(chan any, 8),
			playerID: playerID,
		}

		select {
		case hub.register <- client:
		case <-hub.quit:
			_ = conn.Close()
			return
		}

		go client.writePump()
		client.readPump(hub)
	}
}

func (c *Client) readPump(h *Hub) {
	defer func() {
		select {
		case h.unreg <- c:
		case <-h.quit:
		}
		_ = c.conn.Close()
	}()

	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}

		a, ok := msg.action()
		if !ok {
			continue
		}

		select {
		case h.actions <- actionRequest{playerID: c.playerID, action: a}:
		case <-h.quit:
			return
		}
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

// QR handler: generates a PNG QR code for the current game URL using go-qrcode.
func qrHandler(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		if !validGameID(ps.ByName("gameid")) {
			http.Error(w, "invalid game id", http.StatusBadRequest)
			return
		}

		// Derive scheme (respecting TLS and X-Forwarded-Proto if present).
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		}

		// We are at /.../:gameid/qr; strip trailing "/qr" to get the game URL.
		path := strings.TrimSuffix(r.URL.Path, "/qr")

		url := scheme + "://" + r.Host + path

		const qrSize = 320
		png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
		if err != nil {
			http.Error(w, "qr generation failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "image/png")
		securityHeaders(cfg, w)
		_, _ = w.Write(png)
	}
}

//go:embed templates/game.html
var templates embed.FS

var gameTemplate = template.Must(template.ParseFS(templates, "templates/game.html"))

type cellView struct {
	Index     int
	Mark      games.Mark
	Highlight bool
}

type gamePage struct {
	Prefix  string
	Base    string
	GameID  string
	Viewers int
	Game    games.View
	Rows    [3][3]cellView
}

// boardRows lays the view's cells out as a 3x3 grid.
func boardRows(v games.View) [3][3]cellView {
	var rows [3][3]cellView
	for i, mark := range v.Squares {
		rows[i/3][i%3] = cellView{
			Index:     i,
			Mark:      mark,
			Highlight: v.Highlighted(i),
		}
	}
	return rows
}

func renderGamePage(cfg *Config, gameID string, state StateMessage) ([]byte, error) {
	page := gamePage{
		Prefix:  cfg.prefix,
		Base:    cfg.prefix + gamePath + "/" + gameID,
		GameID:  gameID,
		Viewers: state.Viewers,
		Game:    state.Game,
		Rows:    boardRows(state.Game),
	}

	var buf bytes.Buffer
	if err := gameTemplate.Execute(&buf, page); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func serveGamePage(cfg *Config, gm *GameManager, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		startTime := time.Now()

		hub := gameHub(cfg, gm, w, ps)
		if hub == nil {
			return
		}

		_ = getOrSetPlayerID(cfg, w, r)

		data, err := renderGamePage(cfg, hub.id, hub.state())
		if err != nil {
			errs <- err
			http.Error(w, "unable to render game", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		securityHeaders(cfg, w)

		written, err := w.Write(data)
		if err != nil {
			errs <- err

			return
		}

		logf(cfg, "SERVE: Game %s (%s) to %s in %s",
			hub.id,
			humanReadableSize(int64(written)),
			realIP(r),
			time.Since(startTime).Round(time.Microsecond),
		)
	}
}

func serveGameState(cfg *Config, gm *GameManager, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		hub := gameHub(cfg, gm, w, ps)
		if hub == nil {
			return
		}

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		securityHeaders(cfg, w)

		if err := json.NewEncoder(w).Encode(hub.state()); err != nil {
			errs <- err

			return
		}
	}
}

// serveAction applies the action built from the route parameters, then sends
// the browser back to the game page.
func serveAction(cfg *Config, gm *GameManager, parse func(httprouter.Params) (games.Action, error)) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		a, err := parse(ps)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		hub := gameHub(cfg, gm, w, ps)
		if hub == nil {
			return
		}

		hub.dispatch(getOrSetPlayerID(cfg, w, r), a)

		securityHeaders(cfg, w)
		http.Redirect(w, r, cfg.prefix+gamePath+"/"+hub.id, http.StatusSeeOther)
	}
}

func intParam(ps httprouter.Params, name string) (int, error) {
	n, err := strconv.Atoi(ps.ByName(name))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", name, ps.ByName(name))
	}
	return n, nil
}

func parsePlay(ps httprouter.Params) (games.Action, error) {
	cell, err := intParam(ps, "cell")
	if err != nil {
		return nil, err
	}
	return games.PlayAt{Cell: cell}, nil
}

func parseJump(ps httprouter.Params) (games.Action, error) {
	step, err := intParam(ps, "step")
	if err != nil {
		return nil, err
	}
	return games.JumpToStep{Step: step}, nil
}

func parseSort(httprouter.Params) (games.Action, error) {
	return games.ToggleSort{}, nil
}

// redirectNewGame handles GET /path by generating a new random game ID
// (with server-side collision detection) and redirecting to /path/:gameid.
func redirectNewGame(cfg *Config, path string, gm *GameManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		gameID := gm.newGameID()
		logf(cfg, "GAMES: Created game %s/%s", path, gameID)
		http.Redirect(w, r, cfg.prefix+path+"/"+gameID, http.StatusTemporaryRedirect)
	}
}

// registerTicTacToe sets up routes so that:
//   - $path                      → redirects to new random game (8-char ID)
//   - $path/:gameid              → HTML board
//   - $path/:gameid/state        → JSON view
//   - $path/:gameid/ws           → WebSocket for that game
//   - $path/:gameid/qr           → PNG QR code for that game URL
//   - $path/:gameid/play/:cell   → POST a move
//   - $path/:gameid/jump/:step   → POST a history jump
//   - $path/:gameid/sort         → POST a sort order toggle
func registerTicTacToe(cfg *Config, path string, mux *httprouter.Router, errs chan<- error) *GameManager {
	gm := newGameManager(cfg.sessionTimeout)

	mux.GET(cfg.prefix+path, redirectNewGame(cfg, path, gm))

	mux.GET(cfg.prefix+path+"/:gameid", serveGamePage(cfg, gm, errs))
	mux.GET(cfg.prefix+path+"/:gameid/state", serveGameState(cfg, gm, errs))
	mux.GET(cfg.prefix+path+"/:gameid/ws", serveWSForManager(cfg, gm))
	mux.GET(cfg.prefix+path+"/:gameid/qr", qrHandler(cfg))

	mux.POST(cfg.prefix+path+"/:gameid/play/:cell", serveAction(cfg, gm, parsePlay))
	mux.POST(cfg.prefix+path+"/:gameid/jump/:step", serveAction(cfg, gm, parseJump))
	mux.POST(cfg.prefix+path+"/:gameid/sort", serveAction(cfg, gm, parseSort))

	return gm
}
