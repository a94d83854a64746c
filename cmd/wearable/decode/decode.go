// Interactive decoder for wire frames and protobuf events,
// useful with mosquitto_sub or hexdump output.
package decode

import (
	"context"
	"encoding/hex"
	"os"
	"strings"
	"time"

	"github.com/c-bata/go-prompt"
	"github.com/golang/protobuf/proto"
	"github.com/juju/errors"
	"github.com/temoto/wearable/cmd/wearable/subcmd"
	"github.com/temoto/wearable/codec"
	"github.com/temoto/wearable/helpers/cli"
	"github.com/temoto/wearable/internal/config"
	"github.com/temoto/wearable/internal/sink"
	"github.com/temoto/wearable/internal/state"
	"github.com/temoto/wearable/reading"
)

const modName = "decode"

var Mod = subcmd.Mod{Name: modName, Usage: "decode hex frames (frame HEX) or protobuf events (pb HEX) from stdin", Main: Main}

func Main(ctx context.Context, cfg *config.Config) error {
	d := NewDecoder(state.NewCodec(cfg), time.Now)
	return cli.MainLoop(modName, os.Stdin, newExecutor(ctx, d), newCompleter())
}

func newCompleter() func(d prompt.Document) []prompt.Suggest {
	suggests := []prompt.Suggest{
		{Text: "frame", Description: "frame 6300000048 - tag:1 payload:4 big endian"},
		{Text: "pb", Description: "pb 0863... - protobuf event"},
	}
	return func(d prompt.Document) []prompt.Suggest {
		return prompt.FilterHasPrefix(suggests, d.GetWordBeforeCursor(), true)
	}
}

func newExecutor(ctx context.Context, d *Decoder) func(string) {
	g := state.GetGlobal(ctx)
	return func(line string) {
		s, err := d.Line(line)
		if err != nil {
			g.Log.Errorf("decode line='%s' err=%v", line, err)
			return
		}
		g.Log.Info(s)
	}
}

type Decoder struct {
	codec *codec.Codec
	now   func() time.Time
}

func NewDecoder(c *codec.Codec, now func() time.Time) *Decoder {
	return &Decoder{codec: c, now: now}
}

// Line accepts "[frame] HEX" or "pb HEX". Spaces inside HEX are ignored.
func (d *Decoder) Line(line string) (string, error) {
	cmd, arg := "frame", strings.TrimSpace(line)
	if i := strings.IndexByte(arg, ' '); i > 0 {
		switch arg[:i] {
		case "frame", "pb":
			cmd, arg = arg[:i], arg[i+1:]
		}
	}
	b, err := parseHex(arg)
	if err != nil {
		return "", err
	}
	switch cmd {
	case "pb":
		return d.proto(b)
	default:
		return d.frame(b)
	}
}

func (d *Decoder) frame(b []byte) (string, error) {
	m, disconnect, err := codec.UnmarshalFrame(b)
	if err != nil {
		return "", err
	}
	if disconnect {
		return "disconnect", nil
	}
	values, err := d.codec.Decode(m)
	if err != nil {
		return "", err
	}
	e, err := reading.NewEvent(m.Kind, d.now().Unix(), values)
	if err != nil {
		return "", errors.Annotatef(err, "frame %s", m.String())
	}
	return sink.FormatText(e), nil
}

func (d *Decoder) proto(b []byte) (string, error) {
	var p reading.EventProto
	if err := proto.Unmarshal(b, &p); err != nil {
		return "", errors.Annotate(err, "proto.Unmarshal")
	}
	e, err := reading.EventFromProto(&p)
	if err != nil {
		return "", errors.Annotatef(err, "event %s", strings.TrimSpace(proto.MarshalTextString(&p)))
	}
	return sink.FormatText(e), nil
}

func parseHex(s string) ([]byte, error) {
	s = strings.Join(strings.Fields(s), "")
	// mosquitto_sub wrongly strips leading zero in hex format
	if len(s)%2 == 1 {
		s = "0" + s
	}
	b, err := hex.DecodeString(s)
	return b, errors.Annotate(err, "hex.Decode")
}
