package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dcava30/Talenti-MVP-sub000/internal/session"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  32 * 1024, // audio chunks
	WriteBufferSize: 32 * 1024,
	CheckOrigin:     func(r *http.Request) bool { return true }, // auth happens upstream
}

const (
	wsWriteTimeout = 10 * time.Second
	wsPongWait     = 60 * time.Second
)

type wsInbound struct {
	Type string `json:"type"`
}

// handleWebSocket is the candidate-facing realtime channel: binary frames
// in are audio chunks, text frames in are control messages, text frames
// out are session events, binary frames out are synthesized audio.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	m, ok := s.svc.Get(id)
	if !ok {
		http.Error(w, "no active session", http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("WebSocket upgrade failed", "session", id, "error", err)
		return
	}
	defer conn.Close()

	pong := make(chan struct{}, 4)
	readerDone := make(chan struct{})

	go s.wsWriter(conn, m, pong, readerDone)
	s.wsReader(conn, m, pong)
	close(readerDone)
}

func (s *Server) wsReader(conn *websocket.Conn, m *session.Manager, pong chan struct{}) {
	conn.SetReadDeadline(time.Now().Add(wsPongWait))

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		conn.SetReadDeadline(time.Now().Add(wsPongWait))

		switch msgType {
		case websocket.BinaryMessage:
			m.PushAudio(data)
		case websocket.TextMessage:
			var in wsInbound
			if err := json.Unmarshal(data, &in); err != nil {
				s.log.Debug("Malformed control frame", "session", m.ID(), "error", err)
				continue
			}
			switch in.Type {
			case "stop":
				m.End()
			case "ping":
				select {
				case pong <- struct{}{}:
				default:
				}
			}
		}
	}
}

func (s *Server) wsWriter(conn *websocket.Conn, m *session.Manager, pong <-chan struct{}, readerDone <-chan struct{}) {
	for {
		select {
		case <-readerDone:
			return

		case <-m.Done():
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return

		case <-pong:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(session.Outbound{Type: "pong"}); err != nil {
				return
			}

		case out, ok := <-m.Outbound():
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if out.Type == "audio" {
				if err := conn.WriteMessage(websocket.BinaryMessage, out.Audio); err != nil {
					return
				}
				continue
			}
			if err := conn.WriteJSON(out); err != nil {
				return
			}
		}
	}
}
