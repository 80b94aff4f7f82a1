package main

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Seednode/tictactoe/games"
)

func newTestServer(t *testing.T) (*httptest.Server, *GameManager) {
	t.Helper()

	cfg := &Config{}
	errs := make(chan error, 64)

	mux, gm := newRouter(cfg, errs)
	srv := httptest.NewServer(mux)

	t.Cleanup(func() {
		srv.Close()
		gm.Close()
	})

	return srv, gm
}

func noRedirectClient() *http.Client {
	return &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func post(t *testing.T, srv *httptest.Server, path string) *http.Response {
	t.Helper()

	resp, err := noRedirectClient().Post(srv.URL+path, "application/x-www-form-urlencoded", nil)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	return resp
}

func getState(t *testing.T, srv *httptest.Server, gameID string) StateMessage {
	t.Helper()

	resp, err := http.Get(srv.URL + gamePath + "/" + gameID + "/state")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var msg StateMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&msg))

	return msg
}

func getBody(t *testing.T, url string) (int, string) {
	t.Helper()

	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, string(body)
}

func intPtr(n int) *int {
	return &n
}

func TestClientMessageAction(t *testing.T) {
	tests := []struct {
		name string
		msg  ClientMessage
		want games.Action
		ok   bool
	}{
		{"play", ClientMessage{Type: "play", Cell: intPtr(4)}, games.PlayAt{Cell: 4}, true},
		{"play without cell", ClientMessage{Type: "play"}, nil, false},
		{"jump", ClientMessage{Type: "jump", Step: intPtr(2)}, games.JumpToStep{Step: 2}, true},
		{"jump without step", ClientMessage{Type: "jump", Cell: intPtr(2)}, nil, false},
		{"toggle sort", ClientMessage{Type: "toggle_sort"}, games.ToggleSort{}, true},
		{"unknown", ClientMessage{Type: "reset"}, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.msg.action()
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidGameID(t *testing.T) {
	assert.True(t, validGameID("abcXYZ09"))
	assert.False(t, validGameID(""))
	assert.False(t, validGameID("bad-id"))
	assert.False(t, validGameID(strings.Repeat("a", maxGameIDLength+1)))
}

func TestNewGameID(t *testing.T) {
	gm := newGameManager(0)
	defer gm.Close()

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		id := gm.newGameID()
		assert.Len(t, id, gameIDLength)
		assert.True(t, validGameID(id), id)
		seen[id] = true
	}
	assert.Len(t, seen, 50)
}

func TestBoardRows(t *testing.T) {
	g := games.NewGame()
	for _, c := range []int{0, 4, 1, 3, 8} {
		require.True(t, g.Play(c))
	}

	rows := boardRows(g.View())

	assert.Equal(t, cellView{Index: 0, Mark: games.X, Highlight: true}, rows[0][0])
	assert.Equal(t, cellView{Index: 1, Mark: games.X}, rows[0][1])
	assert.Equal(t, cellView{Index: 5, Mark: games.Empty}, rows[1][2])
	assert.Equal(t, cellView{Index: 8, Mark: games.X, Highlight: true}, rows[2][2])
}

func TestRedirectNewGame(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := noRedirectClient().Get(srv.URL + gamePath)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusTemporaryRedirect, resp.StatusCode)

	location := resp.Header.Get("Location")
	require.True(t, strings.HasPrefix(location, gamePath+"/"), location)
	assert.True(t, validGameID(strings.TrimPrefix(location, gamePath+"/")))
}

func TestGamePage(t *testing.T) {
	srv, _ := newTestServer(t)

	t.Run("renders a fresh board", func(t *testing.T) {
		status, body := getBody(t, srv.URL+gamePath+"/fresh")

		assert.Equal(t, http.StatusOK, status)
		assert.Contains(t, body, "Next player: X")
		assert.Contains(t, body, "Go to game start")
		assert.Contains(t, body, `action="/tictactoe/fresh/play/4"`)
		assert.Contains(t, body, ">Ascending</button>")
		assert.NotContains(t, body, "reversed")
	})

	t.Run("rejects malformed game ids", func(t *testing.T) {
		status, _ := getBody(t, srv.URL+gamePath+"/bad-id")

		assert.Equal(t, http.StatusBadRequest, status)
	})
}

func TestActionPosts(t *testing.T) {
	srv, _ := newTestServer(t)
	base := gamePath + "/posts"

	t.Run("moves redirect back to the board", func(t *testing.T) {
		resp := post(t, srv, base+"/play/0")

		assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
		assert.Equal(t, base, resp.Header.Get("Location"))
	})

	t.Run("a finished game highlights the winning line", func(t *testing.T) {
		for _, cell := range []string{"4", "1", "3", "8"} {
			post(t, srv, base+"/play/"+cell)
		}

		state := getState(t, srv, "posts")
		assert.Equal(t, games.X, state.Game.Winner)
		assert.Equal(t, []int{0, 4, 8}, state.Game.Highlights)
		assert.Equal(t, "Winner: X", state.Game.Status)
		assert.Equal(t, 5, state.Game.Step)

		_, body := getBody(t, srv.URL+base)
		assert.Contains(t, body, "square highlight")
		assert.Contains(t, body, "Winner: X")
	})

	t.Run("moves after a win are ignored", func(t *testing.T) {
		resp := post(t, srv, base+"/play/2")
		assert.Equal(t, http.StatusSeeOther, resp.StatusCode)

		state := getState(t, srv, "posts")
		assert.Equal(t, games.Empty, state.Game.Squares[2])
		assert.Len(t, state.Game.Moves, 6)
	})

	t.Run("jump and sort only move the cursor and order", func(t *testing.T) {
		post(t, srv, base+"/jump/2")
		post(t, srv, base+"/sort")

		state := getState(t, srv, "posts")
		assert.Equal(t, 2, state.Game.Step)
		assert.Equal(t, "Next player: X", state.Game.Status)
		assert.False(t, state.Game.Ascending)
		require.Len(t, state.Game.Moves, 6)
		assert.Equal(t, 5, state.Game.Moves[0].Step)
		assert.True(t, state.Game.Moves[3].Current)

		_, body := getBody(t, srv.URL+base)
		assert.Contains(t, body, "reversed")
		assert.Contains(t, body, ">Descending</button>")
	})

	t.Run("playing from an earlier step prunes the future", func(t *testing.T) {
		post(t, srv, base+"/play/8")

		state := getState(t, srv, "posts")
		assert.Equal(t, 3, state.Game.Step)
		assert.Len(t, state.Game.Moves, 4)
		assert.Equal(t, games.Empty, state.Game.Winner)
	})

	t.Run("malformed parameters are rejected", func(t *testing.T) {
		assert.Equal(t, http.StatusBadRequest, post(t, srv, base+"/play/x").StatusCode)
		assert.Equal(t, http.StatusBadRequest, post(t, srv, base+"/jump/-").StatusCode)
		assert.Equal(t, http.StatusBadRequest, post(t, srv, gamePath+"/bad-id/sort").StatusCode)
	})
}

func dial(t *testing.T, srv *httptest.Server, gameID string) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + gamePath + "/" + gameID + "/ws"

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return conn
}

func readState(t *testing.T, conn *websocket.Conn) StateMessage {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var msg StateMessage
	require.NoError(t, conn.ReadJSON(&msg))
	require.Equal(t, "state", msg.Type)

	return msg
}

func TestWebSocket(t *testing.T) {
	srv, _ := newTestServer(t)

	first := dial(t, srv, "sockets")
	state := readState(t, first)
	assert.Equal(t, 1, state.Viewers)
	assert.Equal(t, "Next player: X", state.Game.Status)

	second := dial(t, srv, "sockets")
	assert.Equal(t, 2, readState(t, first).Viewers)
	assert.Equal(t, 2, readState(t, second).Viewers)

	t.Run("moves are broadcast to every viewer", func(t *testing.T) {
		require.NoError(t, first.WriteJSON(ClientMessage{Type: "play", Cell: intPtr(4)}))

		for _, conn := range []*websocket.Conn{first, second} {
			state := readState(t, conn)
			assert.Equal(t, games.X, state.Game.Squares[4])
			assert.Equal(t, "Next player: O", state.Game.Status)
		}
	})

	t.Run("ignored actions are not broadcast", func(t *testing.T) {
		require.NoError(t, second.WriteJSON(ClientMessage{Type: "play", Cell: intPtr(4)}))
		require.NoError(t, second.WriteJSON(ClientMessage{Type: "play"}))
		require.NoError(t, second.WriteJSON(map[string]string{"type": "resign"}))
		require.NoError(t, second.WriteJSON(ClientMessage{Type: "toggle_sort"}))

		state := readState(t, first)
		assert.False(t, state.Game.Ascending)
		assert.Equal(t, 1, state.Game.Squares.Filled())
	})

	t.Run("browsers see moves made by form posts", func(t *testing.T) {
		post(t, srv, gamePath+"/sockets/jump/0")

		state := readState(t, first)
		assert.Equal(t, 0, state.Game.Step)
		assert.Equal(t, "Next player: X", state.Game.Status)
	})
}

func TestGameManagerReapIdle(t *testing.T) {
	cfg := &Config{}
	gm := newGameManager(0)
	defer gm.Close()

	hub := gm.getHub(cfg, "idle")
	require.True(t, hub.dispatch("tester", games.PlayAt{Cell: 0}))

	assert.Equal(t, 0, gm.reapIdle(time.Now().Add(-time.Hour)))
	assert.Same(t, hub, gm.getHub(cfg, "idle"))

	assert.Equal(t, 1, gm.reapIdle(time.Now().Add(time.Hour)))
	assert.False(t, hub.dispatch("tester", games.PlayAt{Cell: 1}))

	fresh := gm.getHub(cfg, "idle")
	assert.NotSame(t, hub, fresh)
	assert.Equal(t, 0, fresh.state().Game.Step)
}

func TestQRCode(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + gamePath + "/share/qr")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(body), "\x89PNG"))
}
