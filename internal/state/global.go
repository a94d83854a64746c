// Package state wires configuration into running pipeline:
// producers -> channel -> dispatcher -> sink.
package state

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/256dpi/gomqtt/packet"
	"github.com/google/uuid"
	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/wearable/codec"
	"github.com/temoto/wearable/helpers"
	"github.com/temoto/wearable/helpers/actionlist"
	"github.com/temoto/wearable/internal/channel"
	"github.com/temoto/wearable/internal/config"
	"github.com/temoto/wearable/internal/dispatch"
	"github.com/temoto/wearable/internal/sched"
	"github.com/temoto/wearable/internal/sensor"
	"github.com/temoto/wearable/internal/sink"
	"github.com/temoto/wearable/internal/stat"
	"github.com/temoto/wearable/log2"
	"github.com/temoto/wearable/mqtt"
	"github.com/temoto/wearable/reading"
)

const ContextKey = "run/state-global"

const DefaultShutdownTimeout = 10 * time.Second

type Global struct {
	Alive        *alive.Alive
	BuildVersion string
	Config       *config.Config
	Log          *log2.Log
	Stat         *stat.Stat

	Codec      *codec.Codec
	Channel    channel.Channel
	Scheduler  *sched.Run
	Producers  []*sensor.Producer
	Dispatcher *dispatch.Dispatcher
	// Test code may set Sink before Init.
	Sink   sink.Sink
	Broker *mqtt.Server

	schedAlive *alive.Alive
	// dispatcher drains channel after Run ctx is done,
	// canceled by shutdown after drain or timeout
	dispatchCtx    context.Context
	dispatchCancel context.CancelFunc
	metrics        *http.Server
	metricsLn      net.Listener
	fatalch        chan error
	started        uint32
	shutdown       sync.Once

	_copy_guard sync.Mutex //nolint:unused
}

func NewGlobal(log *log2.Log) *Global {
	if log == nil {
		panic("code error NewGlobal() log=nil")
	}
	g := &Global{
		Alive:      alive.NewAlive(),
		Log:        log,
		Stat:       stat.New(),
		schedAlive: alive.NewAlive(),
		fatalch:    make(chan error, 1),
	}
	log.SetErrorFunc(g.Stat.LogError)
	return g
}

func GetGlobal(ctx context.Context) *Global {
	v := ctx.Value(ContextKey)
	if v == nil {
		panic(fmt.Sprintf("context['%s'] is nil", ContextKey))
	}
	if g, ok := v.(*Global); ok {
		return g
	}
	panic(fmt.Sprintf("context['%s'] expected type *Global actual=%#v", ContextKey, v))
}

// NewCodec maps every enabled sensor kind to its packer.
func NewCodec(cfg *config.Config) *codec.Codec {
	packers := make(map[reading.Kind]codec.Packer, len(cfg.Sensors))
	for _, s := range cfg.Sensors {
		packers[s.Kind] = s.Packer()
	}
	return codec.New(packers)
}

// If `Init` fails, consider `Global` is in broken state.
func (g *Global) Init(ctx context.Context, cfg *config.Config) error {
	g.Config = cfg
	g.Log.Infof("build version=%s", g.BuildVersion)
	if cfg.LogDebug {
		g.Log.SetLevel(log2.LDebug)
	}
	if cfg.Sink.DeviceID == "" {
		cfg.Sink.DeviceID = uuid.New().String()
		g.Log.Debugf("config: sink.device_id=empty generated=%s", cfg.Sink.DeviceID)
	}

	// Codec construction validates nothing, config.Validate did.
	g.Codec = NewCodec(cfg)

	var err error
	g.Channel, err = channel.New(cfg.Channel.Backend, cfg.Channel.Capacity, cfg.Channel.SpoolDir)
	if err != nil {
		return errors.Annotate(err, "channel init")
	}
	g.Scheduler = sched.NewRunner(sched.Options{
		Log:            g.Log.Fork("sched: "),
		Workers:        cfg.Scheduler.Workers,
		OsPriorityHint: cfg.Scheduler.OsPriorityHint,
	})

	l := new(actionlist.List)
	l.Append(g.initBroker, "broker")
	l.Append(g.initMetrics, "metrics")
	if errs := l.Do(ctx); len(errs) != 0 {
		return errors.Annotate(helpers.FoldErrors(errs), "init")
	}
	// mqtt sink may publish into embedded broker
	if g.Sink == nil {
		if g.Sink, err = g.newSink(); err != nil {
			return errors.Annotate(err, "sink init")
		}
	}

	if err = g.initProducers(); err != nil {
		return errors.Annotate(err, "producers init")
	}
	g.dispatchCtx, g.dispatchCancel = context.WithCancel(context.Background())
	g.Dispatcher = dispatch.New(dispatch.Options{
		Channel:     g.Channel,
		Codec:       g.Codec,
		Sink:        g.Sink,
		Log:         g.Log,
		Stat:        g.Stat,
		SinkTimeout: cfg.SinkTimeout(),
	})
	return nil
}

func (g *Global) MustInit(ctx context.Context, cfg *config.Config) {
	if err := g.Init(ctx, cfg); err != nil {
		g.Fatal(err)
	}
}

func (g *Global) initProducers() error {
	policy := sensor.NewRandPolicy(g.Config.Rand.Shared, g.Config.Rand.Seed)
	g.Producers = make([]*sensor.Producer, 0, len(g.Config.Sensors))
	for _, s := range g.Config.Sensors {
		p, err := sensor.NewProducer(sensor.Options{
			Sensor:      s,
			Codec:       g.Codec,
			Channel:     g.Channel,
			Scheduler:   g.Scheduler,
			Rand:        policy.Source(),
			SendTimeout: g.Config.SendTimeout(),
			Log:         g.Log,
			Stat:        g.Stat,
		})
		if err != nil {
			return err
		}
		g.Producers = append(g.Producers, p)
	}
	return nil
}

func (g *Global) initBroker(ctx context.Context) error {
	listen := g.Config.Sink.MQTT.Listen
	if listen == "" {
		return nil
	}
	g.Broker = mqtt.NewServer(mqtt.ServerOptions{
		Log:            g.Log.Fork("broker: "),
		NetworkTimeout: g.Config.SinkTimeout(),
	})
	return errors.Annotate(g.Broker.Listen(listen), "mqtt broker")
}

func (g *Global) initMetrics(ctx context.Context) error {
	addr := g.Config.Metrics.Listen
	if addr == "" {
		return nil
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Annotatef(err, "metrics listen=%s", addr)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", g.Stat.Handler())
	g.metricsLn = ln
	g.metrics = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	g.Log.Debugf("metrics listen=%s", ln.Addr())
	return nil
}

// MetricsAddr is actual metrics listen address, empty when disabled.
func (g *Global) MetricsAddr() string {
	if g.metricsLn == nil {
		return ""
	}
	return g.metricsLn.Addr().String()
}

func (g *Global) newSink() (sink.Sink, error) {
	cfg := &g.Config.Sink
	sinks := make(sink.Multi, 0, 4)
	if cfg.Log.Enable {
		sinks = append(sinks, sink.NewLog(g.Log.Fork("event: ")))
	}
	if cfg.HTTP.Enable {
		s, err := sink.NewHTTP(sink.HTTPOptions{
			URL:        cfg.HTTP.URL,
			DeviceID:   cfg.DeviceID,
			RetryCount: cfg.HTTP.RetryCount,
			Log:        g.Log,
		})
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s)
	}
	if cfg.MQTT.Enable {
		var pub sink.Publisher
		if cfg.MQTT.Broker == "" && g.Broker != nil {
			pub = g.Broker
		} else {
			c, err := mqtt.NewClient(mqtt.ClientOptions{
				BrokerURL:      cfg.MQTT.Broker,
				ClientID:       cfg.DeviceID,
				Username:       cfg.MQTT.Username,
				Password:       cfg.MQTT.Password,
				NetworkTimeout: g.Config.SinkTimeout(),
				Log:            g.Log.Fork("mqtt: "),
			})
			if err != nil {
				return nil, err
			}
			pub = c
		}
		s, err := sink.NewMQTT(pub, sink.MQTTOptions{
			TopicPrefix: cfg.MQTT.TopicPrefix,
			Format:      cfg.MQTT.Format,
			QOS:         packet.QOS(cfg.MQTT.QOS),
		})
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s)
	}
	if cfg.Redis.Enable {
		s, err := sink.NewRedis(sink.RedisOptions{
			Addr:         cfg.Redis.Addr,
			StreamPrefix: cfg.Redis.StreamPrefix,
			DeviceID:     cfg.DeviceID,
			MaxLen:       cfg.Redis.MaxLen,
		})
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s)
	}
	if len(sinks) == 0 {
		g.Log.Infof("config: all sinks disabled, events are discarded")
	}
	return sinks, nil
}

// Run starts pipeline and blocks until Stop, ctx done or fatal error.
// Messages queued before shutdown are delivered regardless of ctx.
// Returned error is fatal: ErrGeneration or ErrEncodingOverflow.
func (g *Global) Run(ctx context.Context) error {
	if !g.Alive.Add(1) {
		return nil
	}
	defer g.Alive.Done()
	atomic.StoreUint32(&g.started, 1)

	if g.metrics != nil {
		go func() {
			if err := g.metrics.Serve(g.metricsLn); err != nil && err != http.ErrServerClosed {
				g.Log.Errorf("metrics serve err=%v", err)
			}
		}()
	}

	g.schedAlive.Add(1)
	go func() {
		defer g.schedAlive.Done()
		g.Scheduler.Loop(g.schedAlive)
	}()
	go g.Dispatcher.Run(g.dispatchCtx)

	for _, p := range g.Producers {
		p := p
		go func() {
			if err := p.Run(ctx); err != nil {
				select {
				case g.fatalch <- errors.Annotatef(err, "producer=%s", p.Kind()):
				default:
				}
			}
		}()
	}
	g.Log.Infof("running producers=%d", len(g.Producers))

	var err error
	select {
	case <-g.Alive.StopChan():
	case <-ctx.Done():
	case err = <-g.fatalch:
	}
	g.Shutdown(DefaultShutdownTimeout)
	return err
}

// Shutdown order: stop producers, disconnect channel, drain dispatcher,
// stop scheduler, close sinks and servers. Safe to call many times.
func (g *Global) Shutdown(timeout time.Duration) {
	g.shutdown.Do(func() { g.doShutdown(timeout) })
}

func (g *Global) doShutdown(timeout time.Duration) {
	g.Alive.Stop()
	g.Log.Debugf("shutdown")
	for _, p := range g.Producers {
		p.Stop()
	}
	for _, p := range g.Producers {
		p.Wait()
	}
	if g.Channel != nil {
		if err := g.Channel.Disconnect(); err != nil {
			g.Log.Errorf("channel disconnect err=%v", err)
		}
	}
	if g.Dispatcher != nil && atomic.LoadUint32(&g.started) == 1 {
		select {
		case <-g.Dispatcher.Done():
		case <-time.After(timeout):
			g.Log.Errorf("dispatcher did not finish within %v", timeout)
		}
	}
	if g.dispatchCancel != nil {
		g.dispatchCancel()
	}
	g.schedAlive.Stop()
	g.schedAlive.Wait()

	errs := make([]error, 0)
	if g.Sink != nil {
		errs = append(errs, errors.Annotate(g.Sink.Close(), "sink close"))
	}
	if g.Broker != nil {
		errs = append(errs, errors.Annotate(g.Broker.Close(), "broker close"))
	}
	if g.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		errs = append(errs, errors.Annotate(g.metrics.Shutdown(ctx), "metrics close"))
		cancel()
		_ = g.metricsLn.Close()
	}
	if g.Channel != nil {
		errs = append(errs, errors.Annotate(g.Channel.Close(), "channel close"))
	}
	if err := helpers.FoldErrors(errs); err != nil {
		g.Log.Errorf("shutdown err=%v", err)
	}
}

func (g *Global) Error(err error, args ...interface{}) {
	if err != nil {
		if len(args) != 0 {
			msg := args[0].(string)
			args = args[1:]
			err = errors.Annotatef(err, msg, args...)
		}
		g.Log.Error(err)
	}
}

func (g *Global) Fatal(err error, args ...interface{}) {
	if err != nil {
		g.Error(err, args...)
		g.Shutdown(5 * time.Second)
		g.Log.Fatal(err)
		os.Exit(1)
	}
}

func (g *Global) Stop() {
	g.Alive.Stop()
}

func (g *Global) StopWait(timeout time.Duration) bool {
	g.Alive.Stop()
	select {
	case <-g.Alive.WaitChan():
		return true
	case <-time.After(timeout):
		return false
	}
}
