package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/outclip/outclip/internal/outclip"
)

// handleSocket upgrades the connection and serves one result per received
// action envelope until the peer closes. Envelope decoding errors are reported
// in-band as failed results; the connection stays open.
func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid bearer token", getCorrelationID(r))
		return
	}
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}
	defer func() { _ = conn.Close(websocket.StatusInternalError, "closing") }()
	conn.SetReadLimit(s.cfg.MaxBodyBytes)

	ctx := r.Context()
	for {
		var raw json.RawMessage
		if err := wsjson.Read(ctx, conn, &raw); err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway || ctx.Err() != nil {
				_ = conn.Close(websocket.StatusNormalClosure, "")
				return
			}
			s.logger.Debug("websocket read ended", zap.Error(err))
			return
		}

		response := s.dispatchSocketMessage(ctx, raw)
		if err := wsjson.Write(ctx, conn, response); err != nil {
			s.logger.Debug("websocket write failed", zap.Error(err))
			return
		}
	}
}

func (s *Server) dispatchSocketMessage(ctx context.Context, raw []byte) actionResponse {
	req, correlationID, err := s.decodeAction(raw, "")
	if err != nil {
		return actionResponse{
			Result:        socketDecodeFailure(err),
			CorrelationID: correlationID,
		}
	}
	result := s.coordinator.Execute(ctx, req)
	return actionResponse{Result: result, CorrelationID: correlationID}
}

func socketDecodeFailure(err error) outclip.Result {
	message := strings.TrimSpace(err.Error())
	if message == "" {
		message = "invalid action envelope"
	}
	return outclip.Result{
		Success:   false,
		Error:     message,
		ErrorKind: outclip.KindValidation,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}
