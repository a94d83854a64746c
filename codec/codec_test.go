package codec_test

import (
	"encoding/hex"
	"math"
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/wearable/codec"
	"github.com/temoto/wearable/reading"
)

func defaultCodec() *codec.Codec {
	return codec.New(map[reading.Kind]codec.Packer{
		reading.KindHeartRate:       codec.Scalar{},
		reading.KindBloodPressure:   codec.Composite{Multiplier: 1000},
		reading.KindBodyTemperature: codec.Scalar{},
		reading.KindStepCount:       codec.Scalar{},
		reading.KindGps:             codec.Composite{Multiplier: 10000},
	})
}

func TestRoundTripExamples(t *testing.T) {
	t.Parallel()

	c := defaultCodec()
	cases := []struct {
		name    string
		kind    reading.Kind
		fields  []int
		payload int32
	}{
		{"blood-pressure", reading.KindBloodPressure, []int{200, 140}, 200140},
		{"gps", reading.KindGps, []int{999, 1}, 9990001},
		{"gps-zero-secondary", reading.KindGps, []int{5, 0}, 50000},
		{"gps-max-secondary", reading.KindGps, []int{5, 9999}, 59999},
		{"blood-pressure-max-secondary", reading.KindBloodPressure, []int{90, 999}, 90999},
		{"heart-rate", reading.KindHeartRate, []int{72}, 72},
	}
	for _, c2 := range cases {
		c2 := c2
		t.Run(c2.name, func(t *testing.T) {
			m, err := c.Encode(c2.kind, c2.fields)
			require.NoError(t, err)
			assert.Equal(t, c2.payload, m.Payload)
			assert.Equal(t, c2.kind, m.Kind)
			fields, err := c.Decode(m)
			require.NoError(t, err)
			assert.Equal(t, c2.fields, fields)
		})
	}
}

func TestCompositeRoundTripDomain(t *testing.T) {
	t.Parallel()

	// systolic [90,200], diastolic [60,140], multiplier 1000
	p := codec.Composite{Multiplier: 1000}
	for systolic := 90; systolic <= 200; systolic++ {
		for diastolic := 60; diastolic <= 140; diastolic++ {
			payload, err := p.Pack([]int{systolic, diastolic})
			require.NoError(t, err)
			fields, err := p.Unpack(payload)
			require.NoError(t, err)
			if fields[0] != systolic || fields[1] != diastolic {
				t.Fatalf("round trip (%d,%d) -> %d -> %v", systolic, diastolic, payload, fields)
			}
		}
	}
}

func TestScalarIdentity(t *testing.T) {
	t.Parallel()

	c := defaultCodec()
	domains := map[reading.Kind]codec.Bounds{
		reading.KindHeartRate:       {Min: 60 - 38, Max: 200 + 38},
		reading.KindBodyTemperature: {Min: 95, Max: 105},
		reading.KindStepCount:       {Min: 0, Max: 500},
	}
	for kind, b := range domains {
		for x := b.Min; x <= b.Max; x++ {
			m, err := c.Encode(kind, []int{x})
			require.NoError(t, err)
			assert.Equal(t, int32(x), m.Payload)
			fields, err := c.Decode(m)
			require.NoError(t, err)
			require.Equal(t, []int{x}, fields)
		}
	}
}

func TestCheckDomain(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		packer codec.Packer
		bounds []codec.Bounds
		ok     bool
	}{
		{"bp-default", codec.Composite{Multiplier: 1000}, []codec.Bounds{{90, 200}, {60, 140}}, true},
		{"gps-default", codec.Composite{Multiplier: 10000}, []codec.Bounds{{1, 999}, {1, 999}}, true},
		{"secondary-max-equals-multiplier-minus-1", codec.Composite{Multiplier: 141}, []codec.Bounds{{90, 200}, {60, 140}}, true},
		{"secondary-max-equals-multiplier", codec.Composite{Multiplier: 140}, []codec.Bounds{{90, 200}, {60, 140}}, false},
		{"secondary-max-over-multiplier", codec.Composite{Multiplier: 100}, []codec.Bounds{{90, 200}, {60, 140}}, false},
		{"negative-secondary", codec.Composite{Multiplier: 1000}, []codec.Bounds{{90, 200}, {-1, 140}}, false},
		{"negative-primary", codec.Composite{Multiplier: 1000}, []codec.Bounds{{-5, 200}, {0, 140}}, false},
		{"zero-multiplier", codec.Composite{Multiplier: 0}, []codec.Bounds{{0, 1}, {0, 0}}, false},
		{"int32-overflow", codec.Composite{Multiplier: 1 << 20}, []codec.Bounds{{0, 1 << 12}, {0, 1}}, false},
		{"int64-overflow", codec.Composite{Multiplier: math.MaxInt32}, []codec.Bounds{{0, 1 << 33}, {0, 5}}, false},
		{"min-over-max", codec.Composite{Multiplier: 1000}, []codec.Bounds{{200, 90}, {0, 1}}, false},
		{"scalar", codec.Scalar{}, []codec.Bounds{{0, 500}}, true},
		{"scalar-wide", codec.Scalar{}, []codec.Bounds{{0, math.MaxInt32 + 1}}, false},
		{"scalar-two-bounds", codec.Scalar{}, []codec.Bounds{{0, 1}, {0, 1}}, false},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			err := c.packer.CheckDomain(c.bounds)
			if c.ok {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.True(t, errors.IsNotValid(err), errors.ErrorStack(err))
			}
		})
	}
}

func TestEncodingOverflow(t *testing.T) {
	t.Parallel()

	c := defaultCodec()
	cases := []struct {
		name   string
		kind   reading.Kind
		fields []int
	}{
		{"secondary-equals-multiplier", reading.KindBloodPressure, []int{120, 1000}},
		{"secondary-negative", reading.KindGps, []int{1, -1}},
		{"primary-negative", reading.KindGps, []int{-1, 1}},
		{"payload-int32", reading.KindGps, []int{math.MaxInt32/10000 + 1, 0}},
		{"field-count", reading.KindHeartRate, []int{1, 2}},
	}
	for _, c2 := range cases {
		c2 := c2
		t.Run(c2.name, func(t *testing.T) {
			_, err := c.Encode(c2.kind, c2.fields)
			require.Error(t, err)
			assert.Equal(t, codec.ErrEncodingOverflow, errors.Cause(err))
		})
	}

	// product exceeds int64 before int32 range check
	huge := codec.Composite{Multiplier: math.MaxInt32}
	for _, fields := range [][]int{{1 << 33, 5}, {math.MaxInt32, 0}, {1, 1}} {
		_, err := huge.Pack(fields)
		assert.Equal(t, codec.ErrEncodingOverflow, errors.Cause(err), "fields=%v", fields)
	}
	p, err := huge.Pack([]int{0, math.MaxInt32 - 1})
	require.NoError(t, err)
	assert.Equal(t, int32(math.MaxInt32-1), p)
}

func TestDecodeErrors(t *testing.T) {
	t.Parallel()

	c := defaultCodec()
	_, err := c.Decode(reading.Message{Kind: reading.Kind(42), Payload: 1})
	assert.Equal(t, codec.ErrUnknownKind, errors.Cause(err))
	_, err = c.Decode(reading.Message{Kind: reading.KindBloodPressure, Payload: -1})
	assert.Equal(t, codec.ErrDecode, errors.Cause(err))
	_, err = c.Encode(reading.Kind(42), []int{1})
	assert.Equal(t, codec.ErrUnknownKind, errors.Cause(err))
}

func TestFrame(t *testing.T) {
	t.Parallel()

	cases := []struct {
		m      reading.Message
		expect string
	}{
		{reading.Message{Kind: reading.KindHeartRate, Payload: 72}, "6300000048"},
		{reading.Message{Kind: reading.KindBloodPressure, Payload: 200140}, "5800030dcc"},
		{reading.Message{Kind: reading.KindGps, Payload: -1}, "37ffffffff"},
	}
	for _, c := range cases {
		c := c
		t.Run(c.m.String(), func(t *testing.T) {
			b := codec.MarshalFrame(c.m)
			assert.Equal(t, c.expect, hex.EncodeToString(b))
			m, disconnect, err := codec.UnmarshalFrame(b)
			require.NoError(t, err)
			assert.False(t, disconnect)
			assert.Equal(t, c.m, m)
		})
	}

	_, disconnect, err := codec.UnmarshalFrame(codec.DisconnectFrame())
	require.NoError(t, err)
	assert.True(t, disconnect)

	_, _, err = codec.UnmarshalFrame([]byte{0x63, 0})
	assert.Error(t, err)
}
