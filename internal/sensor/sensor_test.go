package sensor_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/alive/v2"
	"github.com/temoto/wearable/codec"
	"github.com/temoto/wearable/internal/channel"
	"github.com/temoto/wearable/internal/config"
	"github.com/temoto/wearable/internal/sched"
	"github.com/temoto/wearable/internal/sensor"
	"github.com/temoto/wearable/internal/stat"
	"github.com/temoto/wearable/log2"
	"github.com/temoto/wearable/reading"
)

func TestDriftBound(t *testing.T) {
	t.Parallel()

	s := config.DefaultSensor(reading.KindHeartRate)
	policy := sensor.NewRandPolicy(false, 42)
	for round := 0; round < 50; round++ {
		g := sensor.NewGenerator(s, policy.Source())
		domain := s.Domain()[0]
		prev := 0
		for tick := uint64(0); tick < 200; tick++ {
			x := g.Next(tick)[0]
			require.True(t, domain.Contains(x), "tick=%d value=%d domain=%s", tick, x, domain)
			if tick%uint64(s.ResyncTicks) == 0 {
				require.True(t, s.Primary.Contains(x), "resync tick=%d value=%d", tick, x)
			} else {
				d := x - prev
				require.True(t, d >= -s.DriftStep && d <= s.DriftStep, "tick=%d prev=%d value=%d", tick, prev, x)
			}
			prev = x
		}
	}
}

func TestUniformWithinBounds(t *testing.T) {
	t.Parallel()

	policy := sensor.NewRandPolicy(false, 7)
	for _, kind := range reading.AllKinds {
		s := config.DefaultSensor(kind)
		s.ResyncTicks = 0
		g := sensor.NewGenerator(s, policy.Source())
		bounds := s.Bounds()
		seen := make([]map[int]bool, len(bounds))
		for i := range seen {
			seen[i] = make(map[int]bool)
		}
		for tick := uint64(0); tick < 5000; tick++ {
			fields := g.Next(tick)
			require.Len(t, fields, kind.FieldCount())
			for i, x := range fields {
				require.True(t, bounds[i].Contains(x), "kind=%s field=%d value=%d", kind, i, x)
				seen[i][x] = true
			}
		}
		// endpoints are reachable
		if b := bounds[0]; b.Max-b.Min < 20 {
			assert.True(t, seen[0][b.Min], "kind=%s min=%d never drawn", kind, b.Min)
			assert.True(t, seen[0][b.Max], "kind=%s max=%d never drawn", kind, b.Max)
		}
	}
}

func TestRandPolicy(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		shared bool
	}{
		{"shared", true},
		{"independent", false},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			policy := sensor.NewRandPolicy(c.shared, 0)
			assert.Equal(t, c.shared, policy.Shared())
			a, b := policy.Source(), policy.Source()
			if c.shared {
				assert.True(t, a == b)
			} else {
				assert.False(t, a == b)
			}
			wg := sync.WaitGroup{}
			for _, r := range []sensor.Rand{a, b, a, b} {
				r := r
				wg.Add(1)
				go func() {
					defer wg.Done()
					for i := 0; i < 1000; i++ {
						x := r.Intn(10)
						if x < 0 || x >= 10 {
							t.Errorf("Intn(10)=%d", x)
							return
						}
					}
				}()
			}
			wg.Wait()
		})
	}
}

// fakeChannel accepts everything except blocked kinds,
// those time out after full send timeout.
type fakeChannel struct {
	sync.Mutex
	blocked map[reading.Kind]bool
	sent    []reading.Message
}

func (c *fakeChannel) Send(m reading.Message, timeout time.Duration) error {
	c.Lock()
	blocked := c.blocked[m.Kind]
	if !blocked {
		c.sent = append(c.sent, m)
	}
	c.Unlock()
	if blocked {
		time.Sleep(timeout)
		return channel.ErrSendTimeout
	}
	return nil
}
func (c *fakeChannel) Receive() (reading.Message, error) { select {} }
func (c *fakeChannel) Disconnect() error                 { return nil }
func (c *fakeChannel) Len() int                          { return 0 }
func (c *fakeChannel) Close() error                      { return nil }

func (c *fakeChannel) count(kind reading.Kind) int {
	c.Lock()
	defer c.Unlock()
	n := 0
	for _, m := range c.sent {
		if m.Kind == kind {
			n++
		}
	}
	return n
}

type env struct {
	codec  *codec.Codec
	runner *sched.Run
	parent *alive.Alive
	policy *sensor.RandPolicy
	stat   *stat.Stat
}

func newEnv(t testing.TB) *env {
	packers := make(map[reading.Kind]codec.Packer)
	for _, kind := range reading.AllKinds {
		packers[kind] = config.DefaultSensor(kind).Packer()
	}
	e := &env{
		codec:  codec.New(packers),
		runner: sched.NewRunner(sched.Options{Log: log2.NewTest(t, log2.LDebug), Workers: 1}),
		parent: alive.NewAlive(),
		policy: sensor.NewRandPolicy(false, 1),
		stat:   stat.New(),
	}
	e.parent.Add(1)
	go func() {
		defer e.parent.Done()
		e.runner.Loop(e.parent)
	}()
	return e
}

func (e *env) stop() {
	e.parent.Stop()
	e.parent.Wait()
}

func (e *env) producer(t testing.TB, s config.Sensor, ch channel.Channel, gen sensor.Generator) *sensor.Producer {
	p, err := sensor.NewProducer(sensor.Options{
		Sensor:      s,
		Codec:       e.codec,
		Channel:     ch,
		Scheduler:   e.runner,
		Rand:        e.policy.Source(),
		SendTimeout: 50 * time.Millisecond,
		Log:         log2.NewTest(t, log2.LDebug),
		Stat:        e.stat,
		Generator:   gen,
	})
	require.NoError(t, err)
	return p
}

func waitFor(t testing.TB, what string, f func() bool) {
	deadline := time.Now().Add(5 * time.Second)
	for !f() {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestProducerStop(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	defer e.stop()

	ch := &fakeChannel{}
	s := config.DefaultSensor(reading.KindBodyTemperature)
	s.Period = time.Hour
	p := e.producer(t, s, ch, nil)
	assert.Equal(t, sensor.StateIdle, p.State())

	errch := make(chan error, 1)
	go func() { errch <- p.Run(context.Background()) }()
	waitFor(t, "first tick", func() bool { return p.State() == sensor.StateWaiting })
	assert.Equal(t, uint64(1), p.Ticks())
	assert.Equal(t, 1, ch.count(reading.KindBodyTemperature))

	p.Stop()
	require.NoError(t, <-errch)
	p.Wait()
	assert.Equal(t, sensor.StateStopped, p.State())
	assert.Equal(t, "stopped", p.State().String())

	// stopped producer does not start again
	require.NoError(t, p.Run(context.Background()))
	assert.Equal(t, uint64(1), p.Ticks())
}

func TestProducerContextDone(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	defer e.stop()

	s := config.DefaultSensor(reading.KindStepCount)
	s.Period = 5 * time.Millisecond
	p := e.producer(t, s, &fakeChannel{}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, p.Run(ctx))
	assert.Equal(t, sensor.StateStopped, p.State())
	assert.True(t, p.Ticks() >= 2, "ticks=%d", p.Ticks())
}

type constGenerator []int

func (g constGenerator) Next(uint64) []int { return []int(g) }

func TestProducerFatal(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		kind   reading.Kind
		gen    sensor.Generator
		expect error
	}{
		{"out-of-domain", reading.KindHeartRate, constGenerator{500}, sensor.ErrGeneration},
		{"field-count", reading.KindGps, constGenerator{5}, sensor.ErrGeneration},
		{"negative-secondary", reading.KindBloodPressure, constGenerator{120, -1}, sensor.ErrGeneration},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			e := newEnv(t)
			defer e.stop()

			ch := &fakeChannel{}
			s := config.DefaultSensor(c.kind)
			s.Period = time.Millisecond
			p := e.producer(t, s, ch, c.gen)
			err := p.Run(context.Background())
			require.Error(t, err)
			assert.Equal(t, c.expect, errors.Cause(err))
			assert.Equal(t, sensor.StateStopped, p.State())
			assert.Equal(t, 0, ch.count(c.kind))
		})
	}
}

// Blocked low priority send must not hold scheduler slot.
func TestProducerIsolation(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	defer e.stop()

	ch := &fakeChannel{blocked: map[reading.Kind]bool{reading.KindGps: true}}
	hrs := config.DefaultSensor(reading.KindHeartRate)
	hrs.Period = 10 * time.Millisecond
	gpss := config.DefaultSensor(reading.KindGps)
	gpss.Period = 10 * time.Millisecond
	hr := e.producer(t, hrs, ch, nil)
	gps := e.producer(t, gpss, ch, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	wg := sync.WaitGroup{}
	for _, p := range []*sensor.Producer{gps, hr} {
		p := p
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, p.Run(ctx))
		}()
	}
	waitFor(t, "gps blocked on send", func() bool { return gps.Ticks() >= 1 })
	waitFor(t, "heart rate keeps ticking", func() bool { return ch.count(reading.KindHeartRate) >= 10 })
	hr.Stop()
	gps.Stop()
	wg.Wait()
	assert.Equal(t, 0, ch.count(reading.KindGps))
	assert.True(t, gps.LastSent().IsZero())
	assert.WithinDuration(t, time.Now(), hr.LastSent(), 5*time.Second)
}

func TestProducerDropsOnDisconnect(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	defer e.stop()

	ch := channel.NewMemory(4)
	require.NoError(t, ch.Disconnect())
	s := config.DefaultSensor(reading.KindHeartRate)
	s.Period = time.Hour
	p := e.producer(t, s, ch, nil)
	go func() {
		assert.NoError(t, p.Run(context.Background()))
	}()
	waitFor(t, "tick", func() bool { return p.State() == sensor.StateWaiting })
	p.Stop()
	p.Wait()
	_, err := ch.Receive()
	assert.Equal(t, channel.ErrDisconnected, err)
}

func TestNewProducerInvalid(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	defer e.stop()

	s := config.DefaultSensor(reading.KindBloodPressure)
	s.Multiplier = 100
	_, err := sensor.NewProducer(sensor.Options{Sensor: s, Codec: e.codec, Channel: &fakeChannel{}, Scheduler: e.runner, Rand: e.policy.Source()})
	assert.True(t, errors.IsNotValid(err))

	_, err = sensor.NewProducer(sensor.Options{Sensor: config.DefaultSensor(reading.KindGps)})
	assert.True(t, errors.IsNotValid(err))
}

// Both producers become runnable while single worker is busy,
// channel must see priority 9 reading before priority 5.
func TestProducerPriorityOrder(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	defer e.stop()

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = e.runner.ScheduleSync(context.Background(), 0, func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	ch := channel.NewMemory(4)
	low := config.DefaultSensor(reading.KindGps)
	high := config.DefaultSensor(reading.KindHeartRate)
	require.Equal(t, 5, low.Priority)
	require.Equal(t, 9, high.Priority)
	producers := make([]*sensor.Producer, 0, 2)
	for i, s := range []config.Sensor{low, high} {
		s.Period = time.Hour
		p := e.producer(t, s, ch, nil)
		producers = append(producers, p)
		go func() { _ = p.Run(context.Background()) }()
		n := i + 1
		waitFor(t, "producer queued", func() bool { return e.runner.Pending() == n })
	}
	close(release)

	for _, expect := range []reading.Kind{reading.KindHeartRate, reading.KindGps} {
		m, err := ch.Receive()
		require.NoError(t, err)
		assert.Equal(t, expect, m.Kind)
	}
	for _, p := range producers {
		p.Stop()
		p.Wait()
	}
}
