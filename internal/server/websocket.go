package server

import (
	"encoding/json"
	"net/http"
	"time"

	"AskRelay/internal/chatbot"

	"github.com/gorilla/websocket"
)

const wsWriteTimeout = 10 * time.Second

// wsError is sent in place of an AskResult when a question fails
type wsError struct {
	Status int `json:"status"`
	errorBody
}

// handleWebSocket answers AskRequest frames one at a time over a single
// connection. Each text frame carries one AskRequest; the reply is either
// an AskResult or a wsError.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	logger := s.loggerFrom(r.Context())

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxBodyBytes)

	logger.Info("websocket connected", "remote", r.RemoteAddr)

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn("websocket read failed", "error", err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		var reply any
		var req chatbot.AskRequest
		if err := json.Unmarshal(data, &req); err != nil {
			reply = s.wsFailure(&chatbot.ValidationError{Message: "invalid request body: " + err.Error()})
		} else if result, err := s.bot.Ask(r.Context(), req); err != nil {
			reply = s.wsFailure(err)
		} else {
			reply = result
		}

		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteJSON(reply); err != nil {
			logger.Warn("websocket write failed", "error", err)
			return
		}
	}
}

func (s *Server) wsFailure(err error) wsError {
	status, body := s.translate(err)
	return wsError{Status: status, errorBody: body}
}
