package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/Gymmando/gymmando/internal/dialogue"
)

const (
	// frameTypeStart opens a session, optionally carrying the first utterance.
	frameTypeStart = "start"

	// frameTypeUtterance feeds a turn into an existing session.
	frameTypeUtterance = "utterance"

	wsWriteTimeout = 10 * time.Second
)

// clientFrame is one JSON message from a streaming client.
type clientFrame struct {
	Type      string `json:"type"`
	OwnerID   string `json:"owner_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Text      string `json:"text,omitempty"`
}

// serverFrame is one JSON message to a streaming client. Either Reply or
// Error is set.
type serverFrame struct {
	Type  string          `json:"type"`
	Reply *dialogue.Reply `json:"reply,omitempty"`
	Error string          `json:"error,omitempty"`
}

// handleStream upgrades to WebSocket and relays dialogue turns. One
// goroutine per connection; frames are processed in arrival order, so a
// single conversation stays serialized without extra locking here.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("server: websocket accept failed", "err", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "closing")

	conn.SetReadLimit(maxUtteranceLength)
	ctx := r.Context()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway || ctx.Err() != nil {
				conn.Close(websocket.StatusNormalClosure, "bye")
				return
			}
			slog.Warn("server: websocket read failed", "err", err)
			return
		}

		var frame clientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			// A garbled frame is the client's problem, not the
			// connection's; report it and keep reading.
			out := serverFrame{Type: "error", Error: "malformed frame: " + err.Error()}
			if err := writeFrame(ctx, conn, out); err != nil {
				slog.Warn("server: websocket write failed", "err", err)
				return
			}
			continue
		}

		reply, err := s.dispatchFrame(ctx, frame)
		var out serverFrame
		switch {
		case err == nil:
			out = serverFrame{Type: "reply", Reply: &reply}
		case errors.Is(err, dialogue.ErrSessionNotFound):
			out = serverFrame{Type: "error", Error: "session not found"}
		case errors.Is(err, dialogue.ErrSessionClosed):
			out = serverFrame{Type: "error", Error: "session is finished"}
		default:
			out = serverFrame{Type: "error", Error: err.Error()}
		}

		if err := writeFrame(ctx, conn, out); err != nil {
			slog.Warn("server: websocket write failed", "err", err)
			return
		}
	}
}

// dispatchFrame runs one client frame against the dialogue manager.
func (s *Server) dispatchFrame(ctx context.Context, frame clientFrame) (dialogue.Reply, error) {
	switch frame.Type {
	case frameTypeStart:
		if frame.OwnerID == "" {
			return dialogue.Reply{}, errors.New("owner_id is required to start a session")
		}
		sess := s.mgr.StartSession(ctx, frame.OwnerID)
		if frame.Text == "" {
			return dialogue.Reply{
				SessionID: sess.ID,
				State:     sess.State,
				Text:      "Hi! Tell me about your workout.",
			}, nil
		}
		return s.mgr.SubmitUtterance(ctx, sess.ID, frame.Text)

	case frameTypeUtterance:
		if frame.SessionID == "" {
			return dialogue.Reply{}, errors.New("session_id is required")
		}
		if frame.Text == "" {
			return dialogue.Reply{}, errors.New("text is required")
		}
		return s.mgr.SubmitUtterance(ctx, frame.SessionID, frame.Text)

	default:
		return dialogue.Reply{}, errors.New("unknown frame type " + frame.Type)
	}
}

func writeFrame(ctx context.Context, conn *websocket.Conn, frame serverFrame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(wctx, websocket.MessageText, data)
}
