package httpapi

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"go.uber.org/zap"

	"github.com/outclip/outclip/internal/outclip"
)

type ServerConfig struct {
	// AuthToken guards the action and socket endpoints. Empty disables the
	// check, which is only sensible on a loopback listener.
	AuthToken    string
	MaxBodyBytes int64
}

// Server exposes the export coordinator to the capture client over HTTP and a
// websocket. One action in, one result out, on either transport.
type Server struct {
	coordinator *outclip.Coordinator
	cfg         ServerConfig
	logger      *zap.Logger
	schema      *jsonschema.Schema
}

func NewServer(coordinator *outclip.Coordinator, cfg ServerConfig, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 8 << 20
	}
	schema, err := compileActionSchema()
	if err != nil {
		return nil, err
	}
	return &Server{
		coordinator: coordinator,
		cfg:         cfg,
		logger:      logger,
		schema:      schema,
	}, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/health" && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	case r.URL.Path == "/v1/actions" && r.Method == http.MethodPost:
		s.handleAction(w, r)
	case r.URL.Path == "/v1/ws" && r.Method == http.MethodGet:
		s.handleSocket(w, r)
	default:
		writeError(w, http.StatusNotFound, "not_found", "route not found", getCorrelationID(r))
	}
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid bearer token", getCorrelationID(r))
		return
	}
	body, ok := s.readRequestBody(w, r)
	if !ok {
		return
	}
	req, correlationID, err := s.decodeAction(body, getCorrelationID(r))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error(), correlationID)
		return
	}

	// A decoded envelope always gets a 200 carrying the result; success or
	// failure is read from the result body, never from the status line.
	result := s.coordinator.Execute(r.Context(), req)
	writeJSON(w, http.StatusOK, actionResponse{Result: result, CorrelationID: correlationID})
}

// decodeAction validates the raw envelope against the schema, then unmarshals
// it. The returned correlation id is taken from the envelope, the header, or
// freshly minted, in that order.
func (s *Server) decodeAction(body []byte, headerCorrelationID string) (outclip.ActionRequest, string, error) {
	fallbackID := strings.TrimSpace(headerCorrelationID)
	if fallbackID == "" {
		fallbackID = uuid.NewString()
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return outclip.ActionRequest{}, fallbackID, errors.New("request body is not valid JSON")
	}
	if err := s.schema.Validate(doc); err != nil {
		return outclip.ActionRequest{}, fallbackID, errors.New(schemaErrorMessage(err))
	}
	var req outclip.ActionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return outclip.ActionRequest{}, fallbackID, errors.New("request body does not match the action envelope")
	}
	if strings.TrimSpace(req.CorrelationID) == "" {
		req.CorrelationID = fallbackID
	}
	return req, req.CorrelationID, nil
}

func (s *Server) authorize(r *http.Request) bool {
	if s.cfg.AuthToken == "" {
		return true
	}
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	presented := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	return subtle.ConstantTimeCompare([]byte(presented), []byte(s.cfg.AuthToken)) == 1
}

func (s *Server) readRequestBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "request body exceeds configured limit", getCorrelationID(r))
			return nil, false
		}
		writeError(w, http.StatusBadRequest, "bad_request", "failed to read request body", getCorrelationID(r))
		return nil, false
	}
	return body, true
}

// actionResponse is the HTTP and socket response shape: the coordinator's
// result with the request's correlation id echoed back.
type actionResponse struct {
	outclip.Result
	CorrelationID string `json:"correlationId,omitempty"`
}

func getCorrelationID(r *http.Request) string {
	return r.Header.Get("X-Correlation-Id")
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message, correlationID string) {
	writeJSON(w, status, map[string]any{
		"code":          code,
		"message":       message,
		"correlationId": correlationID,
	})
}
