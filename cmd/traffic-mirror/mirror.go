package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/spop-protocol/spop/pkg/agent"
	"github.com/spop-protocol/spop/pkg/protocol"
)

// mirrorHandler replays requests described by SPOE messages against a
// shadow backend and reports the outcome back through a transaction
// variable. The proxy is expected to send a message per request carrying
// at least "method" and "path" arguments; "body" and "host" are optional.
type mirrorHandler struct {
	target  string
	client  *http.Client
	log     zerolog.Logger
	message string
}

func newMirrorHandler(target, message string, timeout time.Duration, log zerolog.Logger) *mirrorHandler {
	return &mirrorHandler{
		target:  strings.TrimRight(target, "/"),
		client:  &http.Client{Timeout: timeout},
		log:     log,
		message: message,
	}
}

// HandleNotify mirrors each matching message and records the shadow
// status code in txn.mirror_status. Messages with other names are left
// un-acted, which yields an empty ACK for them.
func (h *mirrorHandler) HandleNotify(ctx context.Context, messages []protocol.Message, ack *agent.AckWriter) error {
	for _, msg := range messages {
		if msg.Name != h.message {
			continue
		}
		status, err := h.mirror(ctx, msg)
		if err != nil {
			h.log.Warn().Err(err).Str("message", msg.Name).Msg("mirror request failed")
			ack.SetVar(protocol.ScopeTransaction, "mirror_error", protocol.String(err.Error()))
			continue
		}
		ack.SetVar(protocol.ScopeTransaction, "mirror_status", protocol.Int32(status))
	}
	return nil
}

// mirror issues the shadow request and drains the response body so the
// connection can be reused.
func (h *mirrorHandler) mirror(ctx context.Context, msg protocol.Message) (int32, error) {
	method, ok := argString(msg, "method")
	if !ok {
		return 0, fmt.Errorf("message %q missing method argument", msg.Name)
	}
	path, ok := argString(msg, "path")
	if !ok {
		return 0, fmt.Errorf("message %q missing path argument", msg.Name)
	}

	var body io.Reader
	if b, ok := msg.Arg("body").(protocol.Binary); ok {
		body = strings.NewReader(string(b))
	}

	req, err := http.NewRequestWithContext(ctx, method, h.target+path, body)
	if err != nil {
		return 0, err
	}
	if host, ok := argString(msg, "host"); ok {
		req.Host = host
	}
	req.Header.Set("X-Mirrored-By", "traffic-mirror")

	resp, err := h.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	h.log.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Msg("mirrored request")
	return int32(resp.StatusCode), nil
}

func argString(msg protocol.Message, key string) (string, bool) {
	s, ok := msg.Arg(key).(protocol.String)
	return string(s), ok
}
