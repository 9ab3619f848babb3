package protocol

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
)

// MaxFrameSize is the ceiling on a declared frame length. A frame whose
// declared length exceeds this is fatal for the connection (spec.md §4.1).
const MaxFrameSize = 16 * 1024 * 1024

// ErrNeedMoreData signals that buf does not yet contain a complete frame.
// Callers should read more bytes and retry; zero bytes are consumed.
var ErrNeedMoreData = errors.New("protocol: need more data")

// ErrFrameTooLarge is returned when a frame's declared length exceeds
// MaxFrameSize. The connection must be torn down on this error.
var ErrFrameTooLarge = errors.New("protocol: frame exceeds maximum size")

// Encode serialises a Message as a 4-byte big-endian length prefix followed
// by its JSON encoding, in one contiguous buffer.
func Encode(msg Message) ([]byte, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal message: %w", err)
	}
	if len(payload) > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}

	out := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(out[:4], uint32(len(payload)))
	copy(out[4:], payload)
	return out, nil
}

// Decode attempts to parse one frame from the front of buf. On success it
// returns the decoded message and the number of bytes consumed. If buf does
// not yet hold a complete frame, it returns ErrNeedMoreData and consumes
// nothing. A frame declaring a length beyond MaxFrameSize is reported via
// ErrFrameTooLarge and is fatal for the connection; any other malformed
// frame (bad JSON) is reported as a plain error so the caller can discard
// just that frame and continue.
func Decode(buf []byte) (Message, int, error) {
	if len(buf) < 4 {
		return Message{}, 0, ErrNeedMoreData
	}

	length := binary.BigEndian.Uint32(buf[:4])
	if length > MaxFrameSize {
		return Message{}, 0, ErrFrameTooLarge
	}

	total := 4 + int(length)
	if len(buf) < total {
		return Message{}, 0, ErrNeedMoreData
	}

	var msg Message
	if err := json.Unmarshal(buf[4:total], &msg); err != nil {
		return Message{}, total, fmt.Errorf("protocol: unmarshal frame: %w", err)
	}
	return msg, total, nil
}

// DecodePayload unmarshals a single frame's JSON body, already stripped of
// its 4-byte length prefix. Used by callers (like the control server) that
// read the exact declared length themselves via io.ReadFull rather than
// feeding an accumulating buffer through Decode.
func DecodePayload(payload []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Message{}, fmt.Errorf("protocol: unmarshal frame: %w", err)
	}
	return msg, nil
}
