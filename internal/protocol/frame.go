package protocol

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
)

// headerLen is the size in bytes of the big-endian length prefix.
const headerLen = 4

// ErrFramingBroken is returned by TryDecode when a complete,
// length-delimited payload fails to parse as JSON. Unlike an incomplete
// frame, this is not recoverable by reading more bytes — the caller
// should drop the connection.
var ErrFramingBroken = errors.New("protocol: framing broken")

// Serialize encodes msg to JSON and prepends a 4-byte big-endian length
// header, producing one complete frame ready to write to a stream.
func Serialize(msg Envelope) ([]byte, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal frame: %w", err)
	}
	out := make([]byte, headerLen+len(body))
	binary.BigEndian.PutUint32(out, uint32(len(body)))
	copy(out[headerLen:], body)
	return out, nil
}

// TryDecode attempts to pull one complete frame off the front of buf. It
// returns the decoded message and the unconsumed remainder. If buf does
// not yet contain a full frame it returns (nil, buf, nil) unchanged so
// the caller can keep buffering. If the length-delimited payload fails
// to parse as JSON, framing is considered broken: TryDecode returns
// (nil, buf, ErrFramingBroken), and the caller should drop the
// connection rather than retry — the bad frame cannot be skipped over,
// since its own length is the one piece of the stream still trustworthy.
func TryDecode(buf []byte) (*Envelope, []byte, error) {
	if len(buf) < headerLen {
		return nil, buf, nil
	}
	n := binary.BigEndian.Uint32(buf)
	total := headerLen + int(n)
	if len(buf) < total {
		return nil, buf, nil
	}
	var msg Envelope
	if err := json.Unmarshal(buf[headerLen:total], &msg); err != nil {
		return nil, buf, fmt.Errorf("%w: %v", ErrFramingBroken, err)
	}
	return &msg, buf[total:], nil
}
