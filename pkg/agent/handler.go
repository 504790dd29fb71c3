// Package agent implements the agent side of SPOP: per-connection
// handshake negotiation, stream demultiplexing, NOTIFY dispatch to
// application logic, and ACK emission, over TCP or Unix sockets.
package agent

import (
	"context"

	"github.com/spop-protocol/spop/pkg/protocol"
)

// Handler processes one completed offload stream. It receives the stream's
// messages in arrival order and records its decisions on the AckWriter;
// the agent turns them into the correlated ACK frame.
//
// Returning an error does not close the connection: the agent fails open,
// sending an ACK with an empty action list for that stream.
type Handler interface {
	HandleNotify(ctx context.Context, messages []protocol.Message, ack *AckWriter) error
}

// HandlerFunc is an adapter to allow use of ordinary functions as Handlers.
type HandlerFunc func(ctx context.Context, messages []protocol.Message, ack *AckWriter) error

// HandleNotify calls f(ctx, messages, ack).
func (f HandlerFunc) HandleNotify(ctx context.Context, messages []protocol.Message, ack *AckWriter) error {
	return f(ctx, messages, ack)
}

// AckWriter is the action sink handed to a Handler. Actions accumulate in
// the order recorded and travel back in the stream's ACK frame.
type AckWriter struct {
	actions []protocol.Action
}

// SetVar records a SET-VAR action.
func (w *AckWriter) SetVar(scope protocol.Scope, name string, value protocol.Value) {
	w.actions = append(w.actions, protocol.SetVar(scope, name, value))
}

// UnsetVar records an UNSET-VAR action.
func (w *AckWriter) UnsetVar(scope protocol.Scope, name string) {
	w.actions = append(w.actions, protocol.UnsetVar(scope, name))
}

// Actions returns the recorded actions.
func (w *AckWriter) Actions() []protocol.Action {
	return w.actions
}
