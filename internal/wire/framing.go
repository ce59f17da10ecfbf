package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MaxFrameSize bounds a single length-prefixed frame, comfortably above
// recordstore.MaxPacketSize (5 MiB) to leave room for envelope overhead.
const MaxFrameSize = 8 * 1024 * 1024

// WriteFrame writes a 4-byte big-endian length prefix followed by data,
// matching the length-prefixed CBOR framing required by §6.
func WriteFrame(w io.Writer, data []byte) error {
	if len(data) > MaxFrameSize {
		return fmt.Errorf("wire: frame of %d bytes exceeds max %d", len(data), MaxFrameSize)
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("wire: write length prefix: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("wire: write frame: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed frame, rejecting sizes above
// MaxFrameSize before allocating a buffer for them.
func ReadFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > MaxFrameSize {
		return nil, fmt.Errorf("wire: frame of %d bytes exceeds max %d", n, MaxFrameSize)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("wire: read frame body: %w", err)
	}
	return buf, nil
}

// WriteEnvelope encodes and frames a typed message in one step.
func WriteEnvelope(w io.Writer, t MessageType, body any) error {
	data, err := Encode(t, body)
	if err != nil {
		return fmt.Errorf("wire: encode envelope: %w", err)
	}
	return WriteFrame(w, data)
}

// ReadEnvelope reads one frame and decodes its outer Envelope.
func ReadEnvelope(r io.Reader) (*Envelope, error) {
	data, err := ReadFrame(r)
	if err != nil {
		return nil, err
	}
	return DecodeEnvelope(data)
}

// WriteRawEnvelope frames and writes an already-built Envelope without
// re-wrapping its Body, the counterpart to WriteEnvelope for callers that
// hold a decoded *Envelope rather than a typed body.
func WriteRawEnvelope(w io.Writer, env *Envelope) error {
	data, err := EncodeEnvelope(env)
	if err != nil {
		return fmt.Errorf("wire: encode envelope: %w", err)
	}
	return WriteFrame(w, data)
}
