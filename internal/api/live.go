package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/banshee-data/waterlevel/internal/monitoring"
)

const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second
	pingEvery = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleLive pushes the current reading on connect and again whenever the
// cell is updated. Clients only need to answer pings.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		monitoring.Logf("api: websocket upgrade: %v", err)
		return
	}
	defer conn.Close()

	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	// All writes happen on this goroutine.
	sendLevel := func() error {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteJSON(currentLevel(s.cell))
	}

	// The read loop only exists to process pongs and notice the close.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	seen := s.cell.Updates()
	if err := sendLevel(); err != nil {
		return
	}

	poll := time.NewTicker(s.livePoll)
	defer poll.Stop()
	ping := time.NewTicker(pingEvery)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			return
		case <-s.done:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(writeWait))
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-poll.C:
			n := s.cell.Updates()
			if n == seen {
				continue
			}
			seen = n
			if err := sendLevel(); err != nil {
				return
			}
		}
	}
}
