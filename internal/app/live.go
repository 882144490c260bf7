// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/relabs-tech/glove_capture/internal/capture"
	"github.com/relabs-tech/glove_capture/internal/series"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// WSMessage is an operator command sent over the live socket.
type WSMessage struct {
	Action string `json:"action"` // start, pause, resume, stop, cancel, reset
}

// WSResponse is one message pushed to a live client.
type WSResponse struct {
	Type    string           `json:"type"` // session, series, ack, error
	Session *capture.Update  `json:"session,omitempty"`
	Series  *series.Snapshot `json:"series,omitempty"`
	Action  string           `json:"action,omitempty"`
	Message string           `json:"message,omitempty"`
}

const liveWriteWait = 5 * time.Second

// liveHandler streams session updates and series snapshots to the client
// and accepts session commands from it. Only the writer loop touches the
// connection for writing.
func (s *Server) liveHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("live: websocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	updates, stopUpdates := s.session.Subscribe(16)
	defer stopUpdates()
	snaps, stopSnaps := s.series.Subscribe(1)
	defer stopSnaps()

	replies := make(chan WSResponse, 8)
	closed := make(chan struct{})
	go s.liveReader(conn, replies, closed)

	status := s.session.Status()
	if err := writeLive(conn, WSResponse{Type: "session", Session: &status}); err != nil {
		return
	}

	for {
		var msg WSResponse
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			msg = WSResponse{Type: "session", Session: &u}
		case snap, ok := <-snaps:
			if !ok {
				return
			}
			msg = WSResponse{Type: "series", Series: snap}
		case msg = <-replies:
		}
		if err := writeLive(conn, msg); err != nil {
			log.Printf("live: write error: %v", err)
			return
		}
	}
}

func (s *Server) liveReader(conn *websocket.Conn, replies chan<- WSResponse, closed chan<- struct{}) {
	defer close(closed)
	for {
		var msg WSMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("live: websocket read error: %v", err)
			}
			return
		}

		reply := WSResponse{Type: "ack", Action: msg.Action}
		if err := sessionAction(s.session, msg.Action); err != nil {
			reply = WSResponse{Type: "error", Action: msg.Action, Message: err.Error()}
		}
		select {
		case replies <- reply:
		default:
			log.Printf("live: reply to %q dropped", msg.Action)
		}
	}
}

func writeLive(conn *websocket.Conn, msg WSResponse) error {
	conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
	return conn.WriteJSON(msg)
}
