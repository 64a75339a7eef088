// Package broadcast encodes outbound envelopes and writes them, one line per
// call, to the outbound channel.
package broadcast

import (
	"errors"
	"fmt"
	"sync"

	"example.com/clueless_bridge/internal/protocol"
	"go.uber.org/zap"
)

// ErrClosed is returned by sends after Close.
var ErrClosed = errors.New("broadcast: closed")

// Outbound accepts one encoded line for a target. The line carries no
// trailing newline; implementations frame it and flush before returning.
type Outbound interface {
	Send(target string, line []byte) error
}

// Recorder receives a copy of every envelope that was written.
type Recorder interface {
	Record(direction string, env protocol.Envelope) error
}

// DirectionOut is the direction passed to Recorder for sent envelopes.
const DirectionOut = "out"

type Option func(*Broadcaster)

func WithRecorder(r Recorder) Option {
	return func(b *Broadcaster) { b.recorder = r }
}

func WithLogger(l *zap.Logger) Option {
	return func(b *Broadcaster) {
		if l != nil {
			b.logger = l
		}
	}
}

// Broadcaster is safe for concurrent use; lines from concurrent callers are
// never interleaved.
type Broadcaster struct {
	mu       sync.Mutex
	out      Outbound
	recorder Recorder
	logger   *zap.Logger
	closed   bool
	sent     uint64
}

func New(out Outbound, opts ...Option) *Broadcaster {
	b := &Broadcaster{out: out, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// SendToPlayer writes one envelope addressed to playerID.
func (b *Broadcaster) SendToPlayer(playerID, event string, payload map[string]any) error {
	return b.Send(protocol.Envelope{PlayerID: playerID, EventName: event, Payload: payload})
}

// SendToAll is SendToPlayer with protocol.TargetAll.
func (b *Broadcaster) SendToAll(event string, payload map[string]any) error {
	return b.SendToPlayer(protocol.TargetAll, event, payload)
}

// Send encodes env and writes it. An encoding failure wraps
// protocol.ErrMalformed and writes nothing; any other error comes from the
// outbound channel.
func (b *Broadcaster) Send(env protocol.Envelope) error {
	line, err := protocol.Encode(env)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	if err := b.out.Send(env.PlayerID, line); err != nil {
		return fmt.Errorf("send %s to %s: %w", env.EventName, env.PlayerID, err)
	}
	b.sent++

	if b.recorder != nil {
		if err := b.recorder.Record(DirectionOut, env); err != nil {
			b.logger.Warn("journal write failed",
				zap.String("event", env.EventName),
				zap.Error(err),
			)
		}
	}
	return nil
}

// SendEach sends envs in order. Envelopes that fail to encode are logged and
// skipped; the first channel error stops the batch and is returned.
func (b *Broadcaster) SendEach(envs []protocol.Envelope) error {
	for _, env := range envs {
		err := b.Send(env)
		switch {
		case err == nil:
		case errors.Is(err, protocol.ErrMalformed):
			b.logger.Warn("dropping unencodable envelope",
				zap.String("player", env.PlayerID),
				zap.String("event", env.EventName),
				zap.Error(err),
			)
		default:
			return err
		}
	}
	return nil
}

// Sent reports how many lines have been written.
func (b *Broadcaster) Sent() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sent
}

// Close makes further sends fail with ErrClosed. It does not close the
// underlying channel.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
}
