package sensor

import (
	"fmt"

	"github.com/temoto/wearable/codec"
	"github.com/temoto/wearable/internal/config"
)

var ErrGeneration = fmt.Errorf("generation error")

type Generator interface {
	// Next returns one value per field. tick starts at 0.
	Next(tick uint64) []int
}

// uniform in [min,max] inclusive
func uniform(r Rand, b codec.Bounds) int {
	return b.Min + r.Intn(b.Max-b.Min+1)
}

// Uniform draws each field independently.
type Uniform struct {
	Bounds []codec.Bounds
	Rand   Rand
}

func (u *Uniform) Next(uint64) []int {
	fields := make([]int, len(u.Bounds))
	for i, b := range u.Bounds {
		fields[i] = uniform(u.Rand, b)
	}
	return fields
}

// Drift redraws baseline on ticks 0, Resync, 2*Resync...
// and moves by uniform [-Step, Step] on other ticks. Not clamped.
type Drift struct {
	Bounds  codec.Bounds
	Resync  uint64
	Step    int
	Rand    Rand
	current int
}

func (d *Drift) Next(tick uint64) []int {
	if d.Resync <= 1 || tick%d.Resync == 0 {
		d.current = uniform(d.Rand, d.Bounds)
	} else if d.Step > 0 {
		d.current += uniform(d.Rand, codec.Bounds{Min: -d.Step, Max: d.Step})
	}
	return []int{d.current}
}

func NewGenerator(s config.Sensor, r Rand) Generator {
	if s.Drift() && !s.Kind.Composite() {
		return &Drift{Bounds: s.Primary, Resync: uint64(s.ResyncTicks), Step: s.DriftStep, Rand: r}
	}
	return &Uniform{Bounds: s.Bounds(), Rand: r}
}
