// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/AleutianCare/services/care/agent"
	"github.com/AleutianAI/AleutianCare/services/care/conversation"
	"github.com/AleutianAI/AleutianCare/services/orchestrator/observability"
)

// =============================================================================
// Wire Messages
// =============================================================================

// Call channel message types.
const (
	MsgTypeMessage     = "message"
	MsgTypePing        = "ping"
	MsgTypePong        = "pong"
	MsgTypeEndCall     = "end_call"
	MsgTypeAck         = "ack"
	MsgTypeHistory     = "history"
	MsgTypeStreamChunk = "stream_chunk"
	MsgTypeStreamEnd   = "stream_end"
	MsgTypeEnded       = "ended"
	MsgTypeError       = "error"
)

// Roles on the wire.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// InboundMessage is a client frame on the call channel.
type InboundMessage struct {
	Type      string `json:"type" validate:"required,oneof=message ping pong end_call"`
	MessageID string `json:"message_id,omitempty" validate:"max=128"`
	Content   string `json:"content,omitempty"`
}

// OutboundMessage is a server frame on the call channel.
type OutboundMessage struct {
	Type            string `json:"type"`
	MessageID       string `json:"message_id,omitempty"`
	ResponseID      string `json:"response_id,omitempty"`
	Role            string `json:"role,omitempty"`
	Content         string `json:"content,omitempty"`
	IsStreaming     *bool  `json:"is_streaming,omitempty"`
	CallEndDetected bool   `json:"call_end_detected,omitempty"`
	CallID          int64  `json:"call_id,omitempty"`
	Status          string `json:"status,omitempty"`
	AutoEnded       bool   `json:"auto_ended,omitempty"`
	Timestamp       string `json:"timestamp,omitempty"`
	CreatedAt       string `json:"created_at,omitempty"`
}

func notStreaming() *bool {
	b := false
	return &b
}

// =============================================================================
// Configuration
// =============================================================================

// CallConfig tunes the call channel.
type CallConfig struct {
	// PingInterval is the heartbeat period. Default: 30s.
	PingInterval time.Duration

	// PongWait is how long past a missed heartbeat the channel stays open.
	// Default: 10s.
	PongWait time.Duration

	// WriteWait bounds one frame write. Default: 10s.
	WriteWait time.Duration

	// MaxMessageBytes bounds one inbound frame. Default: 64 KiB.
	MaxMessageBytes int64

	// DedupSize bounds remembered message ids. Default: DefaultDedupSize.
	DedupSize int

	// EndCallDelay is the pause between the farewell and "ended".
	// Default: 1s.
	EndCallDelay time.Duration

	// AllowedOrigins restricts browser origins. Empty allows all.
	AllowedOrigins []string

	// KeepHistoryOnDisconnect keeps the conversation when the channel drops
	// without an end, so a reconnect replays it. Calls that end through the
	// call-end marker or end_call are always cleared.
	KeepHistoryOnDisconnect bool
}

// DefaultCallConfig returns production defaults.
func DefaultCallConfig() CallConfig {
	return CallConfig{
		PingInterval:    30 * time.Second,
		PongWait:        10 * time.Second,
		WriteWait:       10 * time.Second,
		MaxMessageBytes: 64 * 1024,
		DedupSize:       DefaultDedupSize,
		EndCallDelay:    time.Second,
	}
}

func (c CallConfig) withDefaults() CallConfig {
	d := DefaultCallConfig()
	if c.PingInterval <= 0 {
		c.PingInterval = d.PingInterval
	}
	if c.PongWait <= 0 {
		c.PongWait = d.PongWait
	}
	if c.WriteWait <= 0 {
		c.WriteWait = d.WriteWait
	}
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = d.MaxMessageBytes
	}
	if c.DedupSize <= 0 {
		c.DedupSize = d.DedupSize
	}
	if c.EndCallDelay < 0 {
		c.EndCallDelay = 0
	}
	return c
}

// =============================================================================
// Handler
// =============================================================================

// CallHandler serves the duplex call channel.
//
// # Description
//
// One websocket per call. On connect the stored history is replayed, or
// the assistant greets when there is none. Each subject message is
// acknowledged, deduplicated by message_id, echoed, and answered as a
// series of stream_chunk frames closed by stream_end. When the reply
// carries the call-end marker the channel sends "ended" and closes. The
// conversation is cleared when the channel closes, unless the channel
// dropped without an end and KeepHistoryOnDisconnect is set.
//
// # Thread Safety
//
// Safe for concurrent use; each connection owns its own session.
type CallHandler struct {
	agent    CareAgent
	config   CallConfig
	metrics  *observability.GatewayMetrics
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewCallHandler creates a CallHandler. metrics and logger may be nil.
func NewCallHandler(a CareAgent, cfg CallConfig, metrics *observability.GatewayMetrics, logger *slog.Logger) *CallHandler {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	h := &CallHandler{
		agent:   a,
		config:  cfg,
		metrics: metrics,
		logger:  logger,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(cfg.AllowedOrigins),
	}
	return h
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[strings.TrimRight(o, "/")] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// Serve handles GET /v1/calls/:call_id/ws.
//
// # Inputs
//
//   - call_id path parameter: positive integer.
//   - Query: Profile fields (elderly_name, elderly_age, ...).
//
// # Outputs
//
//   - 400 with ErrorResponse before the upgrade when inputs are invalid.
func (h *CallHandler) Serve(c *gin.Context) {
	callID, err := strconv.ParseInt(c.Param("call_id"), 10, 64)
	if err != nil || callID <= 0 {
		h.metrics.RecordError(observability.EndpointCall, observability.ErrorCodeValidation)
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid call_id"})
		return
	}
	var profile Profile
	if err := c.ShouldBindQuery(&profile); err != nil {
		h.metrics.RecordError(observability.EndpointCall, observability.ErrorCodeValidation)
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid profile", Details: err.Error()})
		return
	}
	if err := gatewayValidate.Struct(profile); err != nil {
		h.metrics.RecordError(observability.EndpointCall, observability.ErrorCodeValidation)
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid profile", Details: validationMessage(err)})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade the websocket",
			slog.Int64("call_id", callID),
			slog.String("error", err.Error()))
		return
	}

	s := &callSession{
		h:      h,
		conn:   conn,
		callID: callID,
		cc:     profile.context(callConversationID(callID), callID),
		seen:   newLRUSet(h.config.DedupSize),
		logger: h.logger.With(slog.Int64("call_id", callID)),
	}
	s.run(c.Request.Context())
}

// =============================================================================
// Session
// =============================================================================

type callSession struct {
	h      *CallHandler
	conn   *websocket.Conn
	callID int64
	cc     *agent.ConversationContext
	seen   *lruSet
	logger *slog.Logger

	writeMu  sync.Mutex
	lastPong atomic.Int64
	closed   atomic.Bool

	endReason string
}

func (s *callSession) run(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	m := s.h.metrics
	m.StreamStarted(observability.EndpointCall)
	s.endReason = observability.EndReasonDisconnect
	s.logger.Info("Call channel connected")

	defer func() {
		if !s.closed.Load() {
			s.closeWith(websocket.CloseNormalClosure, "")
		}
		cancel()
		s.conn.Close()

		if s.endReason != observability.EndReasonDisconnect || !s.h.config.KeepHistoryOnDisconnect {
			clearCtx, clearCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer clearCancel()
			if err := s.h.agent.ClearConversation(clearCtx, s.cc.ConversationID); err != nil {
				s.logger.Warn("Failed to clear conversation", slog.String("error", err.Error()))
			}
		}
		m.StreamEnded(observability.EndpointCall)
		m.RecordCallEnded(s.endReason)
		s.logger.Info("Call channel closed", slog.String("reason", s.endReason))
	}()

	s.lastPong.Store(time.Now().UnixNano())
	inbound := make(chan InboundMessage, 16)
	go s.readLoop(ctx, cancel, inbound)
	go s.heartbeat(ctx, cancel)

	if err := s.open(ctx); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-inbound:
			if !ok {
				return
			}
			if done := s.handle(ctx, msg); done {
				return
			}
		}
	}
}

// open replays the stored history, or greets on a new call.
func (s *callSession) open(ctx context.Context) error {
	turns, err := s.h.agent.History(ctx, s.cc.ConversationID)
	if err != nil {
		s.logger.Warn("Failed to load history", slog.String("error", err.Error()))
	}
	for _, t := range turns {
		role := RoleAssistant
		if t.Role != conversation.RoleAssistant {
			role = RoleUser
		}
		if err := s.send(OutboundMessage{
			Type:      MsgTypeHistory,
			Role:      role,
			Content:   t.Content,
			CreatedAt: t.Timestamp.UTC().Format(time.RFC3339),
		}); err != nil {
			return err
		}
	}
	if len(turns) > 0 {
		return nil
	}

	s.logger.Info("Generating initial greeting")
	_, err = s.reply(ctx, "", true)
	return err
}

// handle processes one client frame and reports whether the call is over.
func (s *callSession) handle(ctx context.Context, msg InboundMessage) bool {
	switch msg.Type {
	case MsgTypeMessage:
		if msg.MessageID != "" && !s.seen.Add(msg.MessageID) {
			s.logger.Debug("Duplicate message ignored", slog.String("message_id", msg.MessageID))
			s.h.metrics.RecordDuplicate()
			return s.send(OutboundMessage{Type: MsgTypeAck, MessageID: msg.MessageID}) != nil
		}
		text := strings.TrimSpace(msg.Content)
		if text == "" {
			return false
		}
		if n := len([]rune(text)); n > maxInputRunes {
			s.h.metrics.RecordError(observability.EndpointCall, observability.ErrorCodeValidation)
			return s.send(OutboundMessage{Type: MsgTypeError, MessageID: msg.MessageID, Content: "message too long"}) != nil
		}
		if msg.MessageID != "" {
			if err := s.send(OutboundMessage{Type: MsgTypeAck, MessageID: msg.MessageID}); err != nil {
				return true
			}
		}
		if err := s.send(OutboundMessage{
			Type:        MsgTypeMessage,
			Role:        RoleUser,
			Content:     text,
			IsStreaming: notStreaming(),
		}); err != nil {
			return true
		}

		callEnd, err := s.reply(ctx, text, false)
		if err != nil {
			return true
		}
		if !callEnd {
			return false
		}
		s.logger.Info("Agent detected call end")
		if !sleepCtx(ctx, s.h.config.EndCallDelay) {
			return true
		}
		s.endReason = observability.EndReasonAgent
		_ = s.send(OutboundMessage{Type: MsgTypeEnded, CallID: s.callID, Status: "completed", AutoEnded: true})
		return true

	case MsgTypeEndCall:
		s.endReason = observability.EndReasonClient
		_ = s.send(OutboundMessage{Type: MsgTypeEnded, CallID: s.callID, Status: "completed"})
		return true
	}
	return false
}

// reply streams one agent turn. It returns an error only when the channel
// can no longer be written.
func (s *callSession) reply(ctx context.Context, input string, greeting bool) (bool, error) {
	m := s.h.metrics
	responseID := uuid.NewString()
	started := time.Now()
	first := true

	var (
		full    strings.Builder
		callEnd bool
		sendErr error
	)
	emit := func(fragment string) error {
		if strings.Contains(fragment, agent.CallEndMarker) {
			fragment = strings.ReplaceAll(fragment, agent.CallEndMarker, "")
			if !greeting {
				callEnd = true
			}
		}
		if fragment == "" {
			return nil
		}
		if first {
			first = false
			m.RecordTimeToFirstFragment(observability.EndpointCall, time.Since(started).Seconds())
		}
		full.WriteString(fragment)
		if err := s.send(OutboundMessage{
			Type:       MsgTypeStreamChunk,
			ResponseID: responseID,
			Role:       RoleAssistant,
			Content:    fragment,
		}); err != nil {
			sendErr = err
			return err
		}
		return nil
	}

	var err error
	if greeting {
		err = s.h.agent.GenerateGreeting(ctx, s.cc, emit)
	} else {
		err = s.h.agent.ProcessTurn(ctx, input, s.cc, emit)
	}

	success := err == nil
	m.RecordStreamDuration(observability.EndpointCall, time.Since(started).Seconds(), success)
	m.RecordRequest(observability.EndpointCall, success)

	switch {
	case sendErr != nil:
		m.RecordClientDisconnect(observability.EndpointCall)
		return false, sendErr
	case err == nil:
	case errors.Is(err, agent.ErrRetryBudgetExhausted):
		m.RecordError(observability.EndpointCall, observability.ErrorCodeExhausted)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false, err
	default:
		m.RecordError(observability.EndpointCall, observability.ErrorCodeAgent)
		s.logger.Error("Turn failed", slog.String("error", err.Error()))
	}

	clean, _ := agent.StripCallEnd(full.String())
	clean = strings.TrimSpace(clean)
	if clean == "" {
		return callEnd, nil
	}
	return callEnd, s.send(OutboundMessage{
		Type:            MsgTypeStreamEnd,
		ResponseID:      responseID,
		Role:            RoleAssistant,
		Content:         clean,
		IsStreaming:     notStreaming(),
		CallEndDetected: callEnd,
	})
}

// readLoop decodes client frames until the connection fails. Heartbeat
// frames are answered here so they are not delayed behind a reply.
func (s *callSession) readLoop(ctx context.Context, cancel context.CancelFunc, out chan<- InboundMessage) {
	defer close(out)
	defer cancel()

	cfg := s.h.config
	// Outlasts the heartbeat window so a silent client is closed by the
	// heartbeat with a protocol error rather than by a read timeout.
	deadline := 2 * (cfg.PingInterval + cfg.PongWait)
	s.conn.SetReadLimit(cfg.MaxMessageBytes)
	s.conn.SetPongHandler(func(string) error {
		s.lastPong.Store(time.Now().UnixNano())
		return s.conn.SetReadDeadline(time.Now().Add(deadline))
	})

	for {
		_ = s.conn.SetReadDeadline(time.Now().Add(deadline))
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if !s.closed.Load() && websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Info("Call channel read failed", slog.String("error", err.Error()))
			}
			return
		}

		var msg InboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Warn("Invalid JSON received", slog.String("data", headBytes(data, 100)))
			continue
		}
		if err := gatewayValidate.Struct(msg); err != nil {
			s.h.metrics.RecordError(observability.EndpointCall, observability.ErrorCodeProtocol)
			_ = s.send(OutboundMessage{Type: MsgTypeError, MessageID: msg.MessageID, Content: validationMessage(err)})
			continue
		}

		switch msg.Type {
		case MsgTypePong:
			s.lastPong.Store(time.Now().UnixNano())
		case MsgTypePing:
			if err := s.send(OutboundMessage{Type: MsgTypePong, Timestamp: nowISO()}); err != nil {
				return
			}
		default:
			select {
			case out <- msg:
			case <-ctx.Done():
				return
			}
		}
	}
}

// heartbeat pings the client and closes the channel when pongs stop.
func (s *callSession) heartbeat(ctx context.Context, cancel context.CancelFunc) {
	cfg := s.h.config
	ticker := time.NewTicker(cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		since := time.Since(time.Unix(0, s.lastPong.Load()))
		if since > cfg.PingInterval+cfg.PongWait {
			s.logger.Warn("Heartbeat timeout", slog.Duration("since_pong", since))
			s.h.metrics.RecordError(observability.EndpointCall, observability.ErrorCodeHeartbeatTimeout)
			s.closeWith(websocket.CloseProtocolError, "heartbeat timeout")
			cancel()
			return
		}
		if err := s.send(OutboundMessage{Type: MsgTypePing, Timestamp: nowISO()}); err != nil {
			cancel()
			return
		}
		s.h.metrics.RecordKeepAlive(observability.EndpointCall)
	}
}

// send writes one frame. Writes are serialized across goroutines.
func (s *callSession) send(msg OutboundMessage) error {
	if s.closed.Load() {
		return websocket.ErrCloseSent
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(s.h.config.WriteWait))
	if err := s.conn.WriteJSON(msg); err != nil {
		s.logger.Warn("Failed to write websocket frame",
			slog.String("type", msg.Type),
			slog.String("error", err.Error()))
		s.closed.Store(true)
		return err
	}
	return nil
}

func (s *callSession) closeWith(code int, text string) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, text),
		time.Now().Add(s.h.config.WriteWait))
	s.closed.Store(true)
}

// =============================================================================
// Helpers
// =============================================================================

func nowISO() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func headBytes(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n])
}

// sleepCtx waits d and reports false if ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
