package decode_test

import (
	"encoding/hex"
	"testing"
	"time"

	"github.com/golang/protobuf/proto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/wearable/cmd/wearable/decode"
	"github.com/temoto/wearable/internal/config"
	"github.com/temoto/wearable/internal/state"
	"github.com/temoto/wearable/log2"
	"github.com/temoto/wearable/reading"
)

func TestLine(t *testing.T) {
	t.Parallel()

	cfg, err := config.ReadConfig(log2.NewTest(t, log2.LDebug), config.NewMockFullReader(nil))
	require.NoError(t, err)
	d := decode.NewDecoder(state.NewCodec(cfg), func() time.Time { return time.Unix(1670000000, 0) })

	e, err := reading.NewEvent(reading.KindGps, 1600000000, []int{12, 34})
	require.NoError(t, err)
	pb, err := proto.Marshal(e.Proto())
	require.NoError(t, err)
	bad, err := proto.Marshal(&reading.EventProto{Kind: 42})
	require.NoError(t, err)

	cases := []struct {
		name      string
		input     string
		expect    string
		expectErr string
	}{
		{"heart-rate", "6300000048", "heartRate heartRate=72 timestamp=1670000000", ""},
		{"spaces-and-prefix", "frame 63 00 00 00 48", "heartRate heartRate=72 timestamp=1670000000", ""},
		{"body-temperature", "frame 4d00000062", "bodyTemperature bodyTemperature=98 timestamp=1670000000", ""},
		{"leading-zero-stripped", "a00000001", "", "kind=kind(10)"},
		{"blood-pressure", "5800030dcc", "bloodPressure bloodPressureSystolic=200 bloodPressureDiastolic=140 timestamp=1670000000", ""},
		{"disconnect", "ff00000000", "disconnect", ""},
		{"unknown-kind", "2a00000001", "", "unknown kind"},
		{"short", "6300", "", "frame length=2"},
		{"not-hex", "zz", "", "hex.Decode"},
		{"protobuf", "pb " + hex.EncodeToString(pb), "gps longitude=12 latitude=34 timestamp=1600000000", ""},
		{"protobuf-invalid-kind", "pb " + hex.EncodeToString(bad), "", "kind(42)"},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			s, err := d.Line(c.input)
			if c.expectErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), c.expectErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, c.expect, s)
		})
	}
}
