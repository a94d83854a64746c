package mqtt

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/256dpi/gomqtt/packet"
)

// PacketString includes PUBLISH message, see MessageString.
func PacketString(p packet.Generic) string {
	switch pt := p.(type) {
	case nil:
		return "(nil)"
	case *packet.Publish:
		return fmt.Sprintf("<Publish ID=%d Dup=%t %s>", pt.ID, pt.Dup, MessageString(&pt.Message))
	default:
		return p.String()
	}
}

// MessageString shows UTF-8 (JSON) payload as quoted text, binary (protobuf) as hex.
func MessageString(m *packet.Message) string {
	if m == nil {
		return "message=nil"
	}
	payload := fmt.Sprintf("%x", m.Payload)
	if utf8.Valid(m.Payload) {
		payload = fmt.Sprintf("%q", m.Payload)
	}
	return fmt.Sprintf("Topic=%q QOS=%d Retain=%t Payload=%s", m.Topic, m.QOS, m.Retain, payload)
}

func addrString(a net.Addr) string {
	if a == nil {
		return ""
	}
	return a.String()
}

func defaultString(main, def string) string {
	if main == "" {
		return def
	}
	return main
}

// transport may hide net.ErrClosed behind own error type
func isClosedConn(e error) bool {
	return e != nil && (errors.Is(e, net.ErrClosed) || strings.HasSuffix(e.Error(), net.ErrClosed.Error()))
}

func keepaliveAndHalf(sec uint16) time.Duration {
	d := time.Duration(sec) * time.Second
	return d + d/2
}
