package sink

import (
	"context"
	"strconv"

	"github.com/go-redis/redis/v8"
	"github.com/juju/errors"
	"github.com/temoto/wearable/reading"
)

type RedisOptions struct {
	Addr         string
	StreamPrefix string
	DeviceID     string
	// Stream length cap, 0 = unbounded.
	MaxLen int64
}

// Redis appends events to per kind stream StreamPrefix:<kind slug>.
// Entry fields are event field names, timestamp and optional device.
type Redis struct {
	client *redis.Client
	opt    RedisOptions
}

func NewRedis(opt RedisOptions) (*Redis, error) {
	if opt.Addr == "" {
		return nil, errors.NotValidf("sink redis addr empty")
	}
	return &Redis{
		client: redis.NewClient(&redis.Options{Addr: opt.Addr}),
		opt:    opt,
	}, nil
}

func (s *Redis) Stream(kind reading.Kind) string {
	if s.opt.StreamPrefix == "" {
		return kind.Slug()
	}
	return s.opt.StreamPrefix + ":" + kind.Slug()
}

func (s *Redis) Deliver(ctx context.Context, e reading.Event) error {
	values := make(map[string]interface{}, len(e.Fields)+2)
	for _, f := range e.Fields {
		values[f.Name] = strconv.Itoa(f.Value)
	}
	values["timestamp"] = strconv.FormatInt(e.Timestamp, 10)
	if s.opt.DeviceID != "" {
		values["device"] = s.opt.DeviceID
	}
	stream := s.Stream(e.Kind)
	err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: s.opt.MaxLen,
		Values: values,
	}).Err()
	return errors.Annotatef(err, "sink redis stream=%s", stream)
}

func (s *Redis) Close() error { return s.client.Close() }
