// Copyright 2026 The CareLoop Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package server

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/careloop/careloop/pkg/agent"
	"github.com/careloop/careloop/pkg/events"
	"github.com/careloop/careloop/pkg/session"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Origin policy is a deployment concern; the engine binds to loopback
	// by default.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// clientMessage is the client-to-server frame.
type clientMessage struct {
	Type        string `json:"type"`
	Content     string `json:"content,omitempty"`
	ImageBase64 string `json:"image_base64,omitempty"`
	Approved    *bool  `json:"approved,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

const (
	msgUserMessage  = "user_message"
	msgToolApproval = "tool_approval"
)

// wsClient serializes writes to one connection and tracks which turn
// stream is currently being forwarded.
type wsClient struct {
	conn      *websocket.Conn
	sessionID string
	runner    *agent.Runner

	writeMu sync.Mutex

	mu      sync.Mutex
	current *events.Stream
	done    sync.WaitGroup
}

// handleWebSocket runs the duplex channel for one session: user messages
// and approval decisions inbound, the turn event stream outbound.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if _, err := s.store.Get(r.Context(), sessionID); err != nil {
		respondSessionError(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "session", sessionID, "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := &wsClient{conn: conn, sessionID: sessionID, runner: s.runner}
	defer c.done.Wait()

	for {
		var msg clientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			// Client gone; abort any in-flight turn.
			s.runner.CancelTurn(sessionID)
			cancel()
			return
		}

		switch msg.Type {
		case msgUserMessage:
			c.startTurn(ctx, msg)
		case msgToolApproval:
			c.applyDecision(ctx, msg)
		default:
			c.writeError("unknown message type: " + msg.Type)
		}
	}
}

func (c *wsClient) startTurn(ctx context.Context, msg clientMessage) {
	var image []byte
	if msg.ImageBase64 != "" {
		decoded, err := base64.StdEncoding.DecodeString(msg.ImageBase64)
		if err != nil {
			c.writeError("image_base64 is not valid base64")
			return
		}
		image = decoded
	}

	stream, err := c.runner.StartTurn(ctx, c.sessionID, msg.Content, agent.TurnOptions{Image: image})
	if err != nil {
		c.writeTurnError(err)
		return
	}
	c.forward(stream)
}

func (c *wsClient) applyDecision(ctx context.Context, msg clientMessage) {
	if msg.Approved == nil {
		c.writeError("tool_approval requires an approved field")
		return
	}

	stream, err := c.runner.ResumeDecision(ctx, c.sessionID, *msg.Approved, msg.Reason)
	if err != nil {
		c.writeTurnError(err)
		return
	}
	// Usually the same stream is already being forwarded; after a
	// reconnect it is not.
	c.forward(stream)
}

// forward pumps a turn stream to the connection. Idempotent per stream.
func (c *wsClient) forward(stream *events.Stream) {
	c.mu.Lock()
	if c.current == stream {
		c.mu.Unlock()
		return
	}
	c.current = stream
	c.mu.Unlock()

	c.done.Add(1)
	go func() {
		defer c.done.Done()
		for ev := range stream.Events() {
			if err := c.writeJSON(ev); err != nil {
				return
			}
		}
		c.mu.Lock()
		if c.current == stream {
			c.current = nil
		}
		c.mu.Unlock()
	}()
}

func (c *wsClient) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(v)
}

func (c *wsClient) writeError(msg string) {
	_ = c.writeJSON(events.Event{
		Kind:        events.KindError,
		ErrorKind:   events.ErrorKindInternal,
		Message:     msg,
		Recoverable: true,
	})
}

func (c *wsClient) writeTurnError(err error) {
	switch {
	case errors.Is(err, agent.ErrTurnInProgress),
		errors.Is(err, agent.ErrNoPendingApproval),
		errors.Is(err, agent.ErrTurnNotResumable):
		c.writeError(err.Error())
	case errors.Is(err, session.ErrNotFound):
		c.writeError("session not found")
	default:
		slog.Error("turn failed to start", "session", c.sessionID, "error", err)
		c.writeError("failed to process the request")
	}
}
