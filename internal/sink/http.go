package sink

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/juju/errors"
	"github.com/temoto/wearable/log2"
	"github.com/temoto/wearable/reading"
)

type HTTPOptions struct {
	// Events are posted to URL + "/" + kind slug, e.g. http://host/api/heartRate
	URL        string
	DeviceID   string
	RetryCount int
	RetryWait  time.Duration
	Log        *log2.Log
	// Optional, tests replace transport.
	Transport http.RoundTripper
}

// HTTP posts JSON events to per kind endpoint.
type HTTP struct {
	base   string
	client *resty.Client
	log    *log2.Log
}

func NewHTTP(opt HTTPOptions) (*HTTP, error) {
	if opt.URL == "" {
		return nil, errors.NotValidf("sink http url empty")
	}
	if opt.RetryWait == 0 {
		opt.RetryWait = 100 * time.Millisecond
	}
	client := resty.New().
		SetRetryCount(opt.RetryCount).
		SetRetryWaitTime(opt.RetryWait).
		SetRetryMaxWaitTime(opt.RetryWait*10).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= http.StatusInternalServerError
		}).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if opt.DeviceID != "" {
		client.SetHeader("X-Device-Id", opt.DeviceID)
	}
	if opt.Transport != nil {
		client.SetTransport(opt.Transport)
	}
	return &HTTP{
		base:   strings.TrimRight(opt.URL, "/"),
		client: client,
		log:    opt.Log,
	}, nil
}

func (s *HTTP) Endpoint(kind reading.Kind) string { return s.base + "/" + kind.Slug() }

func (s *HTTP) Deliver(ctx context.Context, e reading.Event) error {
	body, err := e.MarshalJSON()
	if err != nil {
		return errors.Annotate(err, "sink http")
	}
	url := s.Endpoint(e.Kind)
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(body).
		Post(url)
	if err != nil {
		return errors.Annotatef(err, "sink http url=%s", url)
	}
	if resp.IsError() {
		return errors.Errorf("sink http url=%s status=%s body=%q", url, resp.Status(), truncate(resp.Body()))
	}
	s.log.Debugf("sink http url=%s status=%d", url, resp.StatusCode())
	return nil
}

func (s *HTTP) Close() error { return nil }

func truncate(b []byte) []byte {
	const max = 200
	if len(b) > max {
		return b[:max]
	}
	return b
}
