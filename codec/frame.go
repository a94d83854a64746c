package codec

import (
	"encoding/binary"
	"io"

	"github.com/juju/errors"
	"github.com/temoto/wearable/reading"
)

// Frame binary representation: tag:1 payload:4 (int32 big endian).
// tag=reading.TagDisconnect carries no meaningful payload.
const FrameSize = 1 + 4

func MarshalFrame(m reading.Message) []byte {
	var buf [FrameSize]byte
	buf[0] = byte(m.Kind)
	binary.BigEndian.PutUint32(buf[1:], uint32(m.Payload))
	return buf[:]
}

func DisconnectFrame() []byte {
	return []byte{reading.TagDisconnect, 0, 0, 0, 0}
}

// UnmarshalFrame does not validate kind, dispatcher handles unknown tags.
func UnmarshalFrame(b []byte) (m reading.Message, disconnect bool, err error) {
	if len(b) != FrameSize {
		return m, false, errors.Annotatef(io.ErrUnexpectedEOF, "frame length=%d expected=%d", len(b), FrameSize)
	}
	if b[0] == reading.TagDisconnect {
		return m, true, nil
	}
	m.Kind = reading.Kind(b[0])
	m.Payload = int32(binary.BigEndian.Uint32(b[1:]))
	return m, false, nil
}
