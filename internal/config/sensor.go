package config

import (
	"fmt"
	"math"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/wearable/codec"
	"github.com/temoto/wearable/reading"
)

const (
	DefaultChannelCapacity = 64
	DefaultLogMaxSizeMB    = 10
	DefaultSendTimeout     = 500 * time.Millisecond
	DefaultSinkTimeout     = 5 * time.Second
	DefaultTopicPrefix     = "wearable"
)

// Sensor is resolved immutable schedule of one producer.
type Sensor struct {
	Kind     reading.Kind
	Disabled bool
	// Higher value runs first.
	Priority int
	Period   time.Duration

	Primary   codec.Bounds
	Secondary codec.Bounds // composite kinds only
	// payload = primary*Multiplier + secondary, composite kinds only
	Multiplier int

	// Drift generator: baseline redrawn every ResyncTicks ticks,
	// other ticks move by uniform [-DriftStep, +DriftStep].
	// ResyncTicks=0 means uniform generator. Scalar kinds only.
	ResyncTicks int
	DriftStep   int
}

// DefaultSensor returns device defaults.
func DefaultSensor(kind reading.Kind) Sensor {
	s := Sensor{Kind: kind}
	switch kind {
	case reading.KindHeartRate:
		s.Priority, s.Period = 9, 1*time.Second
		s.Primary = codec.Bounds{Min: 60, Max: 200}
		s.ResyncTicks, s.DriftStep = 20, 2
	case reading.KindBloodPressure:
		s.Priority, s.Period = 8, 5*time.Second
		s.Primary = codec.Bounds{Min: 90, Max: 200}
		s.Secondary = codec.Bounds{Min: 60, Max: 140}
		s.Multiplier = 1000
	case reading.KindBodyTemperature:
		s.Priority, s.Period = 7, 10*time.Second
		s.Primary = codec.Bounds{Min: 95, Max: 105}
	case reading.KindStepCount:
		s.Priority, s.Period = 6, 10*time.Second
		s.Primary = codec.Bounds{Min: 0, Max: 500}
	case reading.KindGps:
		s.Priority, s.Period = 5, 30*time.Second
		s.Primary = codec.Bounds{Min: 1, Max: 999}
		s.Secondary = codec.Bounds{Min: 1, Max: 999}
		s.Multiplier = 10000
	}
	return s
}

func (s Sensor) Name() string { return s.Kind.Name() }

func (s Sensor) String() string {
	return fmt.Sprintf("sensor=%s priority=%d period=%v", s.Kind, s.Priority, s.Period)
}

func (s Sensor) Drift() bool { return s.ResyncTicks > 0 }

// Bounds are configured generation ranges, one per field.
func (s Sensor) Bounds() []codec.Bounds {
	if s.Kind.Composite() {
		return []codec.Bounds{s.Primary, s.Secondary}
	}
	return []codec.Bounds{s.Primary}
}

// Domain is the set of values generator may produce, one Bounds per field.
// Drift is not clamped, so drifting kind reaches (ResyncTicks-1)*DriftStep
// beyond configured range at most.
func (s Sensor) Domain() []codec.Bounds {
	bs := s.Bounds()
	if s.Drift() && !s.Kind.Composite() {
		reach := (s.ResyncTicks - 1) * s.DriftStep
		bs[0] = codec.Bounds{Min: bs[0].Min - reach, Max: bs[0].Max + reach}
	}
	return bs
}

// Packer must be called only after Validate.
func (s Sensor) Packer() codec.Packer {
	if s.Kind.Composite() {
		return codec.Composite{Multiplier: int32(s.Multiplier)}
	}
	return codec.Scalar{}
}

func (s Sensor) Validate() error {
	prefix := "sensor=" + s.Kind.String()
	switch {
	case !s.Kind.Valid():
		return errors.NotValidf("%s kind", prefix)
	case s.Period <= 0:
		return errors.NotValidf("%s period=%v", prefix, s.Period)
	case s.Primary.Min > s.Primary.Max:
		return errors.NotValidf("%s min=%d > max=%d", prefix, s.Primary.Min, s.Primary.Max)
	}
	if s.Kind.Composite() {
		if s.Multiplier <= 0 || s.Multiplier > math.MaxInt32 {
			return errors.NotValidf("%s multiplier=%d", prefix, s.Multiplier)
		}
		if s.Drift() {
			return errors.NotValidf("%s drift generator for composite kind", prefix)
		}
	}
	if s.ResyncTicks < 0 || s.DriftStep < 0 {
		return errors.NotValidf("%s resync_ticks=%d drift_step=%d", prefix, s.ResyncTicks, s.DriftStep)
	}
	if err := s.Packer().CheckDomain(s.Domain()); err != nil {
		return errors.Annotate(err, prefix)
	}
	return nil
}
