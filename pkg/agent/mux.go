package agent

import (
	"fmt"
	"sync"

	"github.com/spop-protocol/spop/pkg/protocol"
)

// unitKey identifies one logical offload unit. Fragments of a unit share
// both identifiers; the ACK echoes them back.
type unitKey struct {
	streamID uint64
	frameID  uint64
}

// unit accumulates the messages of one logical NOTIFY unit until FIN.
type unit struct {
	key      unitKey
	messages []protocol.Message
}

// mux demultiplexes NOTIFY frames onto logical units and enforces the
// in-flight limit. The units map is touched only by the connection's frame
// intake goroutine, so it needs no lock; the outstanding set is shared
// with dispatch goroutines and carries its own mutex.
type mux struct {
	limit int

	// units holds fragmented streams still accumulating messages.
	// Owned exclusively by the read loop.
	units map[unitKey]*unit

	// outstanding tracks units handed to the dispatcher and not yet
	// ACKed, keyed by stream id. Written by the read loop and by
	// dispatch goroutines on completion.
	mu          sync.Mutex
	outstanding map[uint64]int
}

func newMux(limit int) *mux {
	return &mux{
		limit:       limit,
		units:       make(map[unitKey]*unit),
		outstanding: make(map[uint64]int),
	}
}

// inFlight counts open fragmented units plus dispatched, un-ACKed ones.
func (m *mux) inFlight() int {
	m.mu.Lock()
	n := len(m.outstanding)
	m.mu.Unlock()
	return len(m.units) + n
}

// onNotify folds one NOTIFY frame into its unit. It returns the completed
// unit when the frame carries FIN, nil when the unit is still accumulating
// or was aborted. Errors are connection-fatal.
func (m *mux) onNotify(n *protocol.Notify, caps *Negotiated) (*unit, error) {
	key := unitKey{streamID: n.StreamID, frameID: n.FrameID}

	u, open := m.units[key]
	if !open {
		if n.Aborted {
			// Nothing accumulated to cancel; never count a phantom
			// unit against the in-flight limit.
			return nil, nil
		}
		if n.Fragmented && !caps.HasCapability(protocol.CapFragmentation) {
			return nil, fmt.Errorf("%w: fragmented NOTIFY: %w",
				ErrProtocolViolation, protocol.StatusFragNotSupport)
		}
		if m.streamBusy(n.StreamID) && !caps.HasCapability(protocol.CapPipelining) {
			return nil, fmt.Errorf("%w: NOTIFY on stream %d ahead of its ACK without pipelining",
				ErrProtocolViolation, n.StreamID)
		}
		if m.inFlight() >= m.limit {
			return nil, fmt.Errorf("%w: limit %d", ErrTooManyStreams, m.limit)
		}
		u = &unit{key: key}
		m.units[key] = u
	}

	if n.Aborted {
		delete(m.units, key)
		return nil, nil
	}

	u.messages = append(u.messages, n.Messages...)

	if n.Fragmented {
		return nil, nil
	}
	delete(m.units, key)
	m.markOutstanding(n.StreamID)
	return u, nil
}

// abortAll drops every accumulating unit. Called on teardown.
func (m *mux) abortAll() {
	for key := range m.units {
		delete(m.units, key)
	}
}

func (m *mux) streamBusy(streamID uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.outstanding[streamID] > 0
}

func (m *mux) markOutstanding(streamID uint64) {
	m.mu.Lock()
	m.outstanding[streamID]++
	m.mu.Unlock()
}

// completed is called by a dispatch goroutine once the unit's ACK has been
// queued (or its processing cancelled).
func (m *mux) completed(streamID uint64) {
	m.mu.Lock()
	if m.outstanding[streamID] > 1 {
		m.outstanding[streamID]--
	} else {
		delete(m.outstanding, streamID)
	}
	m.mu.Unlock()
}
