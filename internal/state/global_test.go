package state_test

import (
	"context"
	"fmt"
	"io/ioutil"
	"net/http"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/wearable/internal/sensor"
	"github.com/temoto/wearable/internal/sink"
	"github.com/temoto/wearable/internal/state"
	state_new "github.com/temoto/wearable/internal/state/new"
	"github.com/temoto/wearable/reading"
)

const testTimeout = 5 * time.Second

const fastSensors = `
sensor "heart_rate" { period_ms = 5 }
sensor "blood_pressure" { period_ms = 7 }
sensor "body_temperature" { period_ms = 9 }
sensor "step_count" { period_ms = 11 }
sensor "gps" { period_ms = 13 }
`

type collector struct {
	sync.Mutex
	events []reading.Event
}

func (c *collector) sink() sink.Sink {
	return sink.Func(func(ctx context.Context, e reading.Event) error {
		c.Lock()
		c.events = append(c.events, e)
		c.Unlock()
		return nil
	})
}

func (c *collector) kinds() map[reading.Kind]int {
	c.Lock()
	defer c.Unlock()
	m := make(map[reading.Kind]int)
	for _, e := range c.events {
		m[e.Kind]++
	}
	return m
}

func waitFor(t testing.TB, what string, f func() bool) {
	deadline := time.Now().Add(testTimeout)
	for !f() {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestRunPipeline(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		conf string
	}{
		{"memory", ""},
		{"spq", `channel { backend = "spq" capacity = 8 }`},
		{"shared-rand-two-workers", `rand { shared = true seed = 3 } scheduler { workers = 2 }`},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			col := &collector{}
			ctx, g := state_new.NewTestContext(t, fastSensors+c.conf, col.sink())
			require.Len(t, g.Producers, 5)

			errch := make(chan error, 1)
			go func() { errch <- g.Run(ctx) }()
			waitFor(t, "every kind delivered", func() bool {
				return len(col.kinds()) == len(reading.AllKinds)
			})
			g.Stop()
			require.NoError(t, <-errch)

			for _, p := range g.Producers {
				assert.Equal(t, sensor.StateStopped, p.State(), p.Kind().String())
			}
			select {
			case <-g.Dispatcher.Done():
			default:
				t.Fatal("dispatcher must be done after Run")
			}
			assert.Equal(t, 0, g.Dispatcher.Dropped())

			now := time.Now().Unix()
			col.Lock()
			defer col.Unlock()
			for _, e := range col.events {
				s, ok := g.Config.Sensor(e.Kind)
				require.True(t, ok)
				domain := s.Domain()
				require.Len(t, e.Fields, len(domain))
				for i, f := range e.Fields {
					assert.True(t, domain[i].Contains(f.Value), "event=%v field=%s", e, f.Name)
				}
				assert.InDelta(t, now, e.Timestamp, 10)
			}
		})
	}
}

func sentTotal(t testing.TB, g *state.Global) int {
	families, err := g.Stat.Registry().Gather()
	require.NoError(t, err)
	n := 0
	for _, f := range families {
		if f.GetName() != "wearable_producer_sent_total" {
			continue
		}
		for _, m := range f.GetMetric() {
			n += int(m.GetCounter().GetValue())
		}
	}
	return n
}

// Run ctx cancel is shutdown trigger, queued messages still reach sink.
func TestContextCancelDrainsChannel(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		conf string
	}{
		{"memory", ""},
		{"spq", `channel { backend = "spq" capacity = 16 }`},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			var mu sync.Mutex
			received := 0
			slow := sink.Func(func(ctx context.Context, e reading.Event) error {
				select {
				case <-time.After(2 * time.Millisecond):
				case <-ctx.Done():
					return ctx.Err()
				}
				mu.Lock()
				received++
				mu.Unlock()
				return nil
			})
			ctx, g := state_new.NewTestContext(t, fastSensors+c.conf, slow)
			ctx, cancel := context.WithCancel(ctx)
			defer cancel()

			errch := make(chan error, 1)
			go func() { errch <- g.Run(ctx) }()
			waitFor(t, "channel backlog", func() bool { return g.Channel.Len() > 3 })
			cancel()
			require.NoError(t, <-errch)

			sent := sentTotal(t, g)
			require.True(t, sent > 0)
			mu.Lock()
			defer mu.Unlock()
			assert.Equal(t, sent, received)
			assert.Equal(t, uint64(sent), g.Dispatcher.Delivered())
			assert.Equal(t, 0, g.Dispatcher.Dropped())
		})
	}
}

func TestShutdownWithoutRun(t *testing.T) {
	t.Parallel()

	_, g := state_new.NewTestContext(t, "", (&collector{}).sink())
	done := make(chan struct{})
	go func() {
		g.Shutdown(time.Second)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(testTimeout):
		t.Fatal("shutdown blocked")
	}
	// second call is no-op
	g.Shutdown(time.Second)
}

func TestMetricsAndEmbeddedBroker(t *testing.T) {
	t.Parallel()

	conf := fastSensors + `
metrics { listen = "127.0.0.1:0" }
sink {
  log { enable = true }
  mqtt { enable = true broker = "" listen = "tcp://127.0.0.1:0" }
}`
	ctx, g := state_new.NewTestContext(t, conf, nil)
	require.NotNil(t, g.Broker)
	addrs := g.Broker.Addrs()
	require.Len(t, addrs, 1)

	got := make(chan string, 64)
	opts := paho.NewClientOptions().
		AddBroker("tcp://" + addrs[0]).
		SetClientID("monitor").
		SetAutoReconnect(false)
	sub := paho.NewClient(opts)
	tok := sub.Connect()
	require.True(t, tok.WaitTimeout(testTimeout))
	require.NoError(t, tok.Error())
	defer sub.Disconnect(10)
	tok = sub.Subscribe("wearable/heartRate", 0, func(_ paho.Client, m paho.Message) {
		select {
		case got <- m.Topic():
		default:
		}
	})
	require.True(t, tok.WaitTimeout(testTimeout))
	require.NoError(t, tok.Error())

	errch := make(chan error, 1)
	go func() { errch <- g.Run(ctx) }()
	select {
	case topic := <-got:
		assert.Equal(t, "wearable/heartRate", topic)
	case <-time.After(testTimeout):
		t.Fatal("no event from embedded broker")
	}

	resp, err := http.Get(fmt.Sprintf("http://%s/metrics", g.MetricsAddr()))
	require.NoError(t, err)
	body, err := ioutil.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), `wearable_dispatcher_delivered_total{kind="heart_rate"}`)
	assert.Contains(t, string(body), `wearable_producer_generated_total{kind="heart_rate"}`)
	assert.Contains(t, string(body), "wearable_log_errors_total")

	g.Stop()
	require.NoError(t, <-errch)
}
