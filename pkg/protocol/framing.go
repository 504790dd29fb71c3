package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

// ReadFrame reads one length-prefixed frame from r and decodes it.
// maxFrameSize bounds the declared frame length; a larger declaration
// fails with ErrFrameTooLarge before any payload is read. Returns io.EOF
// when the reader is exhausted cleanly at a frame boundary.
func ReadFrame(r io.Reader, maxFrameSize uint32) (Frame, error) {
	var hdr [frameLengthSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("spop: read frame length: %w", err)
	}
	length := binary.BigEndian.Uint32(hdr[:])
	if length > maxFrameSize {
		return nil, fmt.Errorf("%w: declared %d bytes, negotiated max %d",
			ErrFrameTooLarge, length, maxFrameSize)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("spop: read frame body: %w", err)
	}
	return DecodeFrame(body)
}

// WriteFrame encodes f and writes it to w as one length-prefixed frame.
func WriteFrame(w io.Writer, f Frame, maxFrameSize uint32) error {
	wire, err := EncodeFrame(f, maxFrameSize)
	if err != nil {
		return err
	}
	if _, err := w.Write(wire); err != nil {
		return fmt.Errorf("spop: write frame: %w", err)
	}
	return nil
}
