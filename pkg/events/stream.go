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

package events

import (
	"context"
	"sync"
	"time"
)

// Stream is the single-producer ordered event stream for one turn.
//
// Emission is backpressured: the producer blocks until the consumer is
// ready, so events can never be observed out of execution order and a slow
// observer slows the turn instead of dropping events.
type Stream struct {
	ch chan Event

	closeOnce sync.Once
	done      chan struct{}
}

// NewStream creates an unbuffered stream.
func NewStream() *Stream {
	return &Stream{
		ch:   make(chan Event),
		done: make(chan struct{}),
	}
}

// Emit delivers one event, stamping the timestamp if unset. It returns
// ctx.Err() if the context is cancelled before the consumer accepts, and
// nil silently after Close (late emissions from an abandoned turn are
// dropped).
func (s *Stream) Emit(ctx context.Context, ev Event) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	select {
	case <-s.done:
		return nil
	default:
	}
	select {
	case s.ch <- ev:
		return nil
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Events returns the consumer side. The channel closes when the producer
// calls Close after its final Emit.
func (s *Stream) Events() <-chan Event { return s.ch }

// Close ends the stream. Only the producer goroutine may call it, and only
// after its last Emit. Safe to call more than once.
func (s *Stream) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		close(s.ch)
	})
}
