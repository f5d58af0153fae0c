package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/solace/internal/llm"
	"github.com/ent0n29/solace/internal/pipeline"
)

type chatTurn struct {
	Role    llm.Role `json:"role"`
	Content string   `json:"content"`
}

// ChatRequest carries the full conversation so far; the last turn is the
// user's new message.
type ChatRequest struct {
	UserID         string     `json:"user_id"`
	ConversationID string     `json:"conversation_id"`
	Turns          []chatTurn `json:"turns"`
}

type ChatResponse struct {
	Reply string          `json:"reply"`
	Turns []pipeline.Turn `json:"turns"`
}

type wsMessage struct {
	Type  string          `json:"type"`
	Reply string          `json:"reply,omitempty"`
	Turns []pipeline.Turn `json:"turns,omitempty"`
	Code  string          `json:"code,omitempty"`
	Error string          `json:"error,omitempty"`
}

func (req ChatRequest) turns() []pipeline.Turn {
	out := make([]pipeline.Turn, len(req.Turns))
	for i, t := range req.Turns {
		out[i] = pipeline.Turn{
			Role:     llm.Role(strings.ToLower(strings.TrimSpace(string(t.Role)))),
			Content:  t.Content,
			Position: i,
		}
	}
	return out
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.runner == nil {
		respondError(w, http.StatusServiceUnavailable, "unavailable", "pipeline not configured")
		return
	}
	var req ChatRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	ctx, cancel := s.requestContext(r.Context())
	defer cancel()

	res, err := s.runner.Run(ctx, req.turns(), strings.TrimSpace(req.UserID), req.ConversationID)
	if err != nil {
		status, code := classifyRunError(err)
		respondError(w, status, code, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, ChatResponse{Reply: res.Reply, Turns: res.Turns})
}

// handleChatWS serves the same exchange over a websocket: each text frame is
// a ChatRequest and is answered with one complete reply frame.
func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	if s.runner == nil {
		respondError(w, http.StatusServiceUnavailable, "unavailable", "pipeline not configured")
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.metrics.StreamOpened()
	defer s.metrics.StreamClosed()

	conn.SetReadLimit(2 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))

		var req ChatRequest
		if err := sonic.Unmarshal(data, &req); err != nil {
			if s.writeWS(conn, wsMessage{Type: "error", Code: "invalid_client_message", Error: err.Error()}) != nil {
				return
			}
			continue
		}

		ctx, cancel := s.requestContext(r.Context())
		res, err := s.runner.Run(ctx, req.turns(), strings.TrimSpace(req.UserID), req.ConversationID)
		cancel()

		out := wsMessage{Type: "reply", Reply: res.Reply, Turns: res.Turns}
		if err != nil {
			_, code := classifyRunError(err)
			out = wsMessage{Type: "error", Code: code, Error: err.Error()}
		}
		if err := s.writeWS(conn, out); err != nil {
			s.log.Debug().Err(err).Msg("chat websocket write failed")
			return
		}
	}
}

func (s *Server) writeWS(conn *websocket.Conn, msg wsMessage) error {
	data, err := sonic.Marshal(msg)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func classifyRunError(err error) (int, string) {
	switch {
	case errors.Is(err, pipeline.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusInternalServerError, "internal"
	}
}
