// Subscribe to event topics on MQTT broker and print decoded events.
package monitor

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/golang/protobuf/proto"
	"github.com/google/uuid"
	"github.com/juju/errors"
	"github.com/temoto/wearable/cmd/wearable/subcmd"
	"github.com/temoto/wearable/internal/config"
	"github.com/temoto/wearable/internal/sink"
	"github.com/temoto/wearable/internal/state"
	"github.com/temoto/wearable/log2"
	"github.com/temoto/wearable/reading"
)

const modName = "monitor"

var Mod = subcmd.Mod{Name: modName, Usage: "print events published to sink.mqtt broker", Main: Main}

const DefaultConnectTimeout = 10 * time.Second

type Options struct {
	Broker      string
	Username    string
	Password    string
	TopicPrefix string
	Format      string
	Log         *log2.Log
	// Out receives one line per message.
	Out func(line string)
}

func Main(ctx context.Context, cfg *config.Config) error {
	g := state.GetGlobal(ctx)
	mc := cfg.Sink.MQTT
	broker := mc.Broker
	if broker == "" {
		// embedded broker of `run` on the same config
		broker = mc.Listen
	}
	if broker == "" {
		return errors.NotValidf("sink mqtt broker and listen are empty")
	}

	paho.ERROR = g.Log
	paho.CRITICAL = g.Log
	if cfg.LogDebug {
		paho.DEBUG = g.Log
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)
	go func() {
		select {
		case <-sigs:
			cancel()
		case <-g.Alive.StopChan():
			cancel()
		case <-ctx.Done():
		}
	}()

	return Run(ctx, Options{
		Broker:      broker,
		Username:    mc.Username,
		Password:    mc.Password,
		TopicPrefix: mc.TopicPrefix,
		Format:      mc.Format,
		Log:         g.Log,
		Out:         func(line string) { g.Log.Info(line) },
	})
}

// Run blocks until ctx is done.
func Run(ctx context.Context, opt Options) error {
	pattern := "#"
	if opt.TopicPrefix != "" {
		pattern = opt.TopicPrefix + "/#"
	}
	handler := func(_ paho.Client, m paho.Message) {
		line, err := Render(opt.Format, m.Topic(), m.Payload())
		if err != nil {
			opt.Log.Errorf("monitor topic=%s err=%v", m.Topic(), err)
			return
		}
		opt.Out(line)
	}

	popt := paho.NewClientOptions().
		AddBroker(opt.Broker).
		SetClientID(modName + "-" + uuid.New().String()).
		SetUsername(opt.Username).
		SetPassword(opt.Password).
		SetCleanSession(true).
		SetConnectTimeout(DefaultConnectTimeout).
		SetAutoReconnect(true).
		SetOnConnectHandler(func(c paho.Client) {
			// resubscribe after reconnect, clean session forgets subscriptions
			tok := c.Subscribe(pattern, 1, handler)
			if tok.WaitTimeout(DefaultConnectTimeout) && tok.Error() == nil {
				opt.Log.Debugf("monitor subscribed pattern=%s", pattern)
			} else {
				opt.Log.Errorf("monitor subscribe pattern=%s err=%v", pattern, tok.Error())
			}
		}).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			opt.Log.Errorf("monitor connection lost err=%v", err)
		})
	client := paho.NewClient(popt)
	tok := client.Connect()
	if !tok.WaitTimeout(DefaultConnectTimeout) {
		return errors.Timeoutf("monitor connect broker=%s", opt.Broker)
	}
	if err := tok.Error(); err != nil {
		return errors.Annotatef(err, "monitor connect broker=%s", opt.Broker)
	}
	defer client.Disconnect(250)

	<-ctx.Done()
	return nil
}

// Render formats message as "topic event".
func Render(format string, topic string, payload []byte) (string, error) {
	switch format {
	case sink.FormatProtobuf:
		var p reading.EventProto
		if err := proto.Unmarshal(payload, &p); err != nil {
			return "", errors.Annotate(err, "proto.Unmarshal")
		}
		e, err := reading.EventFromProto(&p)
		if err != nil {
			return "", errors.Trace(err)
		}
		return topic + " " + sink.FormatText(e), nil
	case sink.FormatJSON, "":
		return topic + " " + strings.TrimSpace(string(payload)), nil
	default:
		return "", errors.NotSupportedf("format=%s", format)
	}
}
