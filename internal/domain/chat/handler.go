package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"runtime/debug"
	"time"

	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/smarthealth/clinqa/internal/domain/query"
	"github.com/smarthealth/clinqa/internal/platform/auth"
	"github.com/smarthealth/clinqa/internal/platform/websocket"
)

// Querier resolves one question; *query.Orchestrator satisfies it.
type Querier interface {
	Handle(ctx context.Context, in query.Input, observe query.Observer) *query.Response
}

// TokenVerifier turns a bearer token into a user id; *auth.Verifier
// satisfies it.
type TokenVerifier interface {
	Verify(token string) (int64, error)
}

type Options struct {
	MaxMessageBytes int64
	IdleTimeout     time.Duration
	TokenDelay      time.Duration
}

type Handler struct {
	hub      *websocket.Hub
	limiter  *websocket.SlidingWindow
	verifier TokenVerifier
	upgrader *gorillawebsocket.Upgrader
	querier  Querier
	opts     Options
	logger   zerolog.Logger
	now      func() time.Time
}

func NewHandler(hub *websocket.Hub, limiter *websocket.SlidingWindow, verifier TokenVerifier, upgrader *gorillawebsocket.Upgrader, querier Querier, opts Options, logger zerolog.Logger) *Handler {
	return &Handler{
		hub:      hub,
		limiter:  limiter,
		verifier: verifier,
		upgrader: upgrader,
		querier:  querier,
		opts:     opts,
		logger:   logger.With().Str("component", "chat").Logger(),
		now:      time.Now,
	}
}

// RegisterRoutes mounts the channel outside the JWT-protected API group;
// the handler authenticates the upgrade request itself.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/ws/chat", h.Connect)
}

// Connect authenticates the request and upgrades it. A missing or invalid
// token is refused with 403 before any websocket is accepted.
func (h *Handler) Connect(c echo.Context) error {
	token := c.QueryParam("token")
	if token == "" {
		if bt, err := auth.BearerToken(c.Request().Header.Get("Authorization")); err == nil {
			token = bt
		}
	}
	userID, err := h.verifier.Verify(token)
	if err != nil {
		h.logger.Warn().Str("remote_ip", c.RealIP()).Err(err).Msg("websocket connection refused")
		return echo.NewHTTPError(http.StatusForbidden, "invalid or missing token")
	}

	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		h.logger.Debug().Err(err).Msg("websocket upgrade failed")
		return nil
	}

	client := websocket.NewClient(userID, ws)
	if prev := h.hub.Register(client); prev != nil {
		prev.CloseWith(gorillawebsocket.ClosePolicyViolation, "replaced by a newer connection")
	}
	h.limiter.Reset(userID)

	go client.WritePump()
	go h.serve(client)
	return nil
}

func (h *Handler) serve(client *websocket.Client) {
	log := h.logger.With().Int64("user_id", client.UserID).Str("client_id", client.ID).Logger()
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("chat connection panicked")
			h.sendError(client, CodeInternalError, "internal server error")
		}
		cancel()
		h.hub.Unregister(client)
		if _, ok := h.hub.Get(client.UserID); !ok {
			h.limiter.Reset(client.UserID)
		}
		client.Close()
		log.Info().Msg("websocket disconnected")
	}()
	go func() {
		select {
		case <-client.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	log.Info().Msg("websocket connected")
	_ = client.SendJSON(connectedMessage{
		Type:      TypeConnected,
		Message:   "connection established",
		UserID:    client.UserID,
		Timestamp: query.Timestamp(h.now()),
	})

	for {
		data, err := client.ReadFrame(h.opts.MaxMessageBytes, h.opts.IdleTimeout)
		if errors.Is(err, websocket.ErrMessageTooLarge) {
			h.sendError(client, CodeMessageTooLarge, "the message is too large")
			continue
		}
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				log.Info().Dur("idle_timeout", h.opts.IdleTimeout).Msg("websocket idle timeout")
			}
			return
		}
		if !h.dispatch(ctx, log, client, data) {
			return
		}
	}
}

// dispatch handles one inbound frame and reports whether the connection
// should stay open.
func (h *Handler) dispatch(ctx context.Context, log zerolog.Logger, client *websocket.Client, data []byte) bool {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		h.sendError(client, CodeInvalidJSON, "invalid JSON format")
		return true
	}
	var msgType string
	_ = json.Unmarshal(fields["type"], &msgType)

	switch msgType {
	case TypePing:
		return client.SendJSON(pongMessage{Type: TypePong, Timestamp: query.Timestamp(h.now())}) == nil
	case TypeQuery:
		if !h.limiter.Allow(client.UserID) {
			h.sendError(client, CodeRateLimitExceeded, "message limit per minute exceeded")
			return true
		}
		msg, err := parseQuery(fields)
		if err != nil {
			h.sendError(client, CodeInvalidRequest, err.Error())
			return true
		}
		h.process(ctx, log, client, msg)
		return ctx.Err() == nil
	default:
		h.sendError(client, CodeUnknownMessageType, fmt.Sprintf("unknown message type: %s", msgType))
		return true
	}
}

// process runs the query and streams the answer word by word.
func (h *Handler) process(ctx context.Context, log zerolog.Logger, client *websocket.Client, msg queryMessage) {
	observe := func(s query.Stage) {
		if text, ok := statusFor(s); ok {
			_ = client.SendJSON(statusMessage{Type: TypeStatus, Message: text})
		}
	}
	resp := h.querier.Handle(ctx, query.Input{
		UserID:         client.UserID,
		SessionID:      msg.SessionID,
		DocumentTypeID: msg.DocumentTypeID,
		DocumentNumber: msg.DocumentNumber,
		Question:       msg.Question,
	}, observe)

	if resp.Failed() {
		log.Info().Str("code", string(resp.Error.Code)).Msg("chat query failed")
		h.sendError(client, errorCodeFor(resp.Error.Code), resp.Error.Message)
		return
	}

	if client.SendJSON(envelope{Type: TypeStreamStart}) != nil {
		return
	}
	for word := range Words(ctx, resp.Answer.Text, h.opts.TokenDelay) {
		if client.SendJSON(tokenMessage{Type: TypeToken, Token: word}) != nil {
			return
		}
	}
	if ctx.Err() != nil {
		log.Info().Msg("client left during streaming")
		return
	}
	if client.SendJSON(envelope{Type: TypeStreamEnd}) != nil {
		return
	}
	_ = client.SendJSON(completeMessage{
		Type:           TypeComplete,
		SessionID:      resp.SessionID,
		SequenceChatID: resp.SequenceChatID,
		Timestamp:      resp.Timestamp,
		Result:         resp.Result,
	})
}

func (h *Handler) sendError(client *websocket.Client, code ErrorCode, message string) {
	_ = client.SendJSON(errorMessage{Type: TypeError, Error: errorDetail{Code: code, Message: message}})
}

var requiredQueryFields = []string{"session_id", "document_type_id", "document_number", "question"}

// parseQuery checks field presence and types, then sanitizes the text
// fields. Range checks are left to query.Validate.
func parseQuery(fields map[string]json.RawMessage) (queryMessage, error) {
	for _, f := range requiredQueryFields {
		if _, ok := fields[f]; !ok {
			return queryMessage{}, fmt.Errorf("missing required field: %s", f)
		}
	}
	var msg queryMessage
	if err := json.Unmarshal(fields["session_id"], &msg.SessionID); err != nil {
		return queryMessage{}, errors.New("session_id must be a string")
	}
	if err := json.Unmarshal(fields["document_type_id"], &msg.DocumentTypeID); err != nil {
		return queryMessage{}, errors.New("document_type_id must be an integer")
	}
	if err := json.Unmarshal(fields["document_number"], &msg.DocumentNumber); err != nil {
		return queryMessage{}, errors.New("document_number must be a string")
	}
	if err := json.Unmarshal(fields["question"], &msg.Question); err != nil {
		return queryMessage{}, errors.New("question must be a string")
	}
	msg.SessionID = sanitizeText(msg.SessionID, maxSessionRunes)
	msg.DocumentNumber = sanitizeText(msg.DocumentNumber, 0)
	// One rune past the limit so over-long questions still fail validation.
	msg.Question = sanitizeText(msg.Question, maxQuestionRunes+1)
	return msg, nil
}
