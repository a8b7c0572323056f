package ipc

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/pithecene-io/vigil/log"
	"github.com/pithecene-io/vigil/types"
)

// FrameEncoder writes Run Events as frames. It is safe for concurrent use.
type FrameEncoder struct {
	sessionID string
	logger    *log.Logger

	mu  sync.Mutex
	w   io.Writer
	seq uint64
}

// NewFrameEncoder creates an encoder writing to w. logger may be nil.
func NewFrameEncoder(w io.Writer, sessionID string, logger *log.Logger) *FrameEncoder {
	return &FrameEncoder{w: w, sessionID: sessionID, logger: logger}
}

// Encode writes one event. The prefix and payload go out in a single
// Write so readers never observe a torn frame from this encoder.
func (e *FrameEncoder) Encode(event types.RunEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.seq++
	payload, err := msgpack.Marshal(&EventFrame{
		ContractVersion: types.ContractVersion,
		SessionID:       e.sessionID,
		Seq:             e.seq,
		Event:           event,
	})
	if err != nil {
		return fmt.Errorf("encode event frame: %w", err)
	}
	if len(payload) > MaxPayloadSize {
		return &FrameError{
			Kind: FrameErrorTooLarge,
			Msg:  fmt.Sprintf("payload size %d exceeds maximum %d", len(payload), MaxPayloadSize),
		}
	}

	buf := make([]byte, LengthPrefixSize+len(payload))
	binary.BigEndian.PutUint32(buf[:LengthPrefixSize], uint32(len(payload)))
	copy(buf[LengthPrefixSize:], payload)
	if _, err := e.w.Write(buf); err != nil {
		return fmt.Errorf("write event frame: %w", err)
	}
	return nil
}

// Handle encodes event, logging failures. It is a bus.Handler.
func (e *FrameEncoder) Handle(event types.RunEvent) {
	if err := e.Encode(event); err != nil {
		e.logger.Warn("event frame write failed", map[string]any{
			"process_id": event.ProcessID,
			"error":      err.Error(),
		})
	}
}
