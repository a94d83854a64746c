package sink

import (
	"context"

	"github.com/256dpi/gomqtt/packet"
	"github.com/juju/errors"
	"github.com/temoto/wearable/mqtt"
	"github.com/temoto/wearable/reading"
)

// Publisher is satisfied by *mqtt.Client and *mqtt.Server.
type Publisher interface {
	Publish(ctx context.Context, msg *packet.Message) error
}

type MQTTOptions struct {
	TopicPrefix string
	Format      string
	QOS         packet.QOS
}

// MQTT publishes each event to TopicPrefix/<kind slug>.
type MQTT struct {
	opt MQTTOptions
	pub Publisher
	// closed with sink, nil for borrowed publisher
	client *mqtt.Client
}

func NewMQTT(pub Publisher, opt MQTTOptions) (*MQTT, error) {
	if pub == nil {
		return nil, errors.NotValidf("code error sink mqtt publisher=nil")
	}
	switch opt.Format {
	case "":
		opt.Format = FormatJSON
	case FormatJSON, FormatProtobuf:
	default:
		return nil, errors.NotSupportedf("sink mqtt format=%s", opt.Format)
	}
	if opt.QOS > packet.QOSAtLeastOnce {
		return nil, errors.NotSupportedf("sink mqtt qos=%d", opt.QOS)
	}
	s := &MQTT{opt: opt, pub: pub}
	if c, ok := pub.(*mqtt.Client); ok {
		s.client = c
	}
	return s, nil
}

func (s *MQTT) Topic(kind reading.Kind) string {
	if s.opt.TopicPrefix == "" {
		return kind.Slug()
	}
	return s.opt.TopicPrefix + "/" + kind.Slug()
}

func (s *MQTT) Deliver(ctx context.Context, e reading.Event) error {
	payload, err := Marshal(s.opt.Format, e)
	if err != nil {
		return err
	}
	msg := &packet.Message{
		Topic:   s.Topic(e.Kind),
		Payload: payload,
		QOS:     s.opt.QOS,
	}
	switch err = s.pub.Publish(ctx, msg); err {
	case nil, mqtt.ErrNoSubscribers:
		return nil
	default:
		return errors.Annotatef(err, "sink mqtt topic=%s", msg.Topic)
	}
}

func (s *MQTT) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}
