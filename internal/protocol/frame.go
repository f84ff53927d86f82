package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Wire format, identical in both directions:
//
//	byte[0]     command tag
//	byte[1..4]  payload length, uint32 big-endian
//	byte[5..]   payload (exactly length bytes)
//
// Payload-less commands (frame request, stream start/stop) are sent as the tag byte alone.
const (
	HeaderSize = 5

	DefaultMaxPayload uint32 = 32 * 1024 * 1024
)

type Message struct {
	Tag     byte
	Payload []byte
}

// ProtocolError reports a header that cannot be honoured, such as a declared
// length above the configured maximum.
type ProtocolError struct {
	Tag    byte
	Length uint32
	Max    uint32
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol: tag %d declares %d payload bytes, max %d", e.Tag, e.Length, e.Max)
}

// Encode frames payload behind tag and a big-endian length.
func Encode(tag byte, payload []byte) []byte {
	buf := make([]byte, HeaderSize+len(payload))
	buf[0] = tag
	binary.BigEndian.PutUint32(buf[1:HeaderSize], uint32(len(payload)))
	copy(buf[HeaderSize:], payload)
	return buf
}

// EncodeBare returns the single-byte form used by commands without a payload.
func EncodeBare(tag byte) []byte {
	return []byte{tag}
}

// DecodeHeader parses a message header and rejects lengths above max.
// A max of zero means DefaultMaxPayload.
func DecodeHeader(header [HeaderSize]byte, max uint32) (byte, uint32, error) {
	if max == 0 {
		max = DefaultMaxPayload
	}
	tag := header[0]
	length := binary.BigEndian.Uint32(header[1:])
	if length > max {
		return tag, length, &ProtocolError{Tag: tag, Length: length, Max: max}
	}
	return tag, length, nil
}

// ReadMessage reads exactly one framed message from r. A clean EOF before the
// first header byte is returned as io.EOF; a stream that ends anywhere later
// yields io.ErrUnexpectedEOF and no partial payload.
func ReadMessage(r io.Reader, max uint32) (Message, error) {
	var header [HeaderSize]byte
	if _, err := io.ReadFull(r, header[:1]); err != nil {
		return Message{}, err
	}
	if _, err := io.ReadFull(r, header[1:]); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return Message{}, fmt.Errorf("reading length: %w", err)
	}

	tag, length, err := DecodeHeader(header, max)
	if err != nil {
		return Message{}, err
	}

	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return Message{}, fmt.Errorf("reading %d byte payload: %w", length, err)
		}
	}
	return Message{Tag: tag, Payload: payload}, nil
}

// ReadPayload reads the length-prefixed remainder of a message whose tag has
// already been consumed, as servers do after switching on a command tag.
func ReadPayload(r io.Reader, max uint32) ([]byte, error) {
	if max == 0 {
		max = DefaultMaxPayload
	}
	var size [4]byte
	if _, err := io.ReadFull(r, size[:]); err != nil {
		return nil, fmt.Errorf("reading length: %w", err)
	}
	length := binary.BigEndian.Uint32(size[:])
	if length > max {
		return nil, &ProtocolError{Length: length, Max: max}
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("reading %d byte payload: %w", length, err)
	}
	return payload, nil
}

// WriteFull writes buf to w, retrying short writes until everything is
// flushed or w reports an error.
func WriteFull(w io.Writer, buf []byte) error {
	for len(buf) > 0 {
		n, err := w.Write(buf)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		buf = buf[n:]
	}
	return nil
}
