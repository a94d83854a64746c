package config

import (
	"net/url"

	"github.com/256dpi/gomqtt/packet"
	"github.com/juju/errors"
	"github.com/temoto/wearable/helpers"
)

// Validate reports every problem at once. Any error is fatal at startup.
func (c *Config) Validate() error {
	errs := make([]error, 0)
	add := func(e error) {
		if e != nil {
			errs = append(errs, e)
		}
	}

	if c.Scheduler.Workers < 1 {
		add(errors.NotValidf("scheduler workers=%d", c.Scheduler.Workers))
	}
	switch c.Channel.Backend {
	case ChannelMemory, ChannelSpq:
	default:
		add(errors.NotValidf("channel backend=%s", c.Channel.Backend))
	}
	if c.Channel.Capacity < 1 {
		add(errors.NotValidf("channel capacity=%d", c.Channel.Capacity))
	}
	if c.Channel.SendTimeoutMs < 0 {
		add(errors.NotValidf("channel send_timeout_ms=%d", c.Channel.SendTimeoutMs))
	}
	if len(c.Sensors) == 0 {
		add(errors.NotValidf("all sensors disabled"))
	}

	priorities := make(map[int]string, len(c.Sensors))
	for _, s := range c.Sensors {
		add(s.Validate())
		if ex, ok := priorities[s.Priority]; ok && !c.Scheduler.AllowSharedPriority {
			add(errors.NotValidf("sensor=%s priority=%d same as sensor=%s (scheduler.allow_shared_priority=false)", s.Kind, s.Priority, ex))
		}
		priorities[s.Priority] = s.Kind.String()
	}

	if c.Sink.HTTP.Enable {
		if _, err := url.ParseRequestURI(c.Sink.HTTP.URL); err != nil {
			add(errors.NotValidf("sink http url=%s", c.Sink.HTTP.URL))
		}
	}
	if c.Sink.MQTT.Enable {
		switch c.Sink.MQTT.Format {
		case FormatJSON, FormatProtobuf:
		default:
			add(errors.NotValidf("sink mqtt format=%s", c.Sink.MQTT.Format))
		}
		if c.Sink.MQTT.QOS < int(packet.QOSAtMostOnce) || c.Sink.MQTT.QOS > int(packet.QOSAtLeastOnce) {
			add(errors.NotValidf("sink mqtt qos=%d", c.Sink.MQTT.QOS))
		}
		// empty broker publishes into embedded one
		if c.Sink.MQTT.Broker == "" && c.Sink.MQTT.Listen == "" {
			add(errors.NotValidf("sink mqtt broker and listen empty"))
		} else if c.Sink.MQTT.Broker != "" {
			if _, err := url.ParseRequestURI(c.Sink.MQTT.Broker); err != nil {
				add(errors.NotValidf("sink mqtt broker=%s", c.Sink.MQTT.Broker))
			}
		}
	}
	if c.Sink.Redis.Enable && c.Sink.Redis.Addr == "" {
		add(errors.NotValidf("sink redis addr empty"))
	}
	return helpers.FoldErrors(errs)
}
