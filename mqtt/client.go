// Package mqtt is telemetry specific MQTT 3.1.1 client and embedded broker
// on top of github.com/256dpi/gomqtt packet and transport layers.
package mqtt

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/256dpi/gomqtt/client"
	"github.com/256dpi/gomqtt/client/future"
	"github.com/256dpi/gomqtt/packet"
	"github.com/256dpi/gomqtt/transport"
	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/wearable/helpers"
	"github.com/temoto/wearable/helpers/atomic_clock"
	"github.com/temoto/wearable/log2"
)

const DefaultNetworkTimeout = 30 * time.Second
const DefaultReconnectDelay = 3 * time.Second

var ErrClientClosing = fmt.Errorf("MQTT client is closing")

type ClientOptions struct {
	BrokerURL      string
	TLS            *tls.Config
	ReconnectDelay time.Duration
	NetworkTimeout time.Duration
	KeepaliveSec   uint16
	ClientID       string
	Username       string
	Password       string
	Log            *log2.Log

	connect *packet.Connect
	dialer  *transport.Dialer
}

// Client publishes events to single broker.
// NewClient returns only configuration errors, connection is made by
// background supervisor and reestablished after ReconnectDelay until Close.
// Clean session, QOS 0 and 1, one PUBLISH in flight.
type Client struct {
	alive  *alive.Alive
	opt    ClientOptions
	lastID uint32

	mu      sync.Mutex
	current *session
	changed chan struct{} // closed and replaced on every current change

	// serializes Publish
	pubmu sync.Mutex
	ack   struct {
		sync.Mutex
		id packet.ID
		fu *future.Future
	}
}

func NewClient(opt ClientOptions) (*Client, error) {
	if opt.NetworkTimeout == 0 {
		opt.NetworkTimeout = DefaultNetworkTimeout
	}
	if opt.ReconnectDelay == 0 {
		opt.ReconnectDelay = DefaultReconnectDelay
	}
	u, err := url.ParseRequestURI(opt.BrokerURL)
	if err != nil {
		return nil, errors.Annotatef(err, "config error mqtt broker=%s", opt.BrokerURL)
	}
	if u.User != nil && opt.Username == "" && opt.Password == "" {
		opt.Username = u.User.Username()
		opt.Password, _ = u.User.Password()
	}
	opt.connect = packet.NewConnect()
	opt.connect.ClientID = defaultString(opt.ClientID, opt.Username)
	opt.connect.KeepAlive = opt.KeepaliveSec
	opt.connect.CleanSession = true
	opt.connect.Username = opt.Username
	opt.connect.Password = opt.Password
	opt.dialer = transport.NewDialer(transport.DialConfig{
		TLSConfig: opt.TLS,
		Timeout:   opt.NetworkTimeout,
	})

	c := &Client{
		alive:   alive.NewAlive(),
		opt:     opt,
		lastID:  uint32(time.Now().UnixNano()),
		changed: make(chan struct{}),
	}
	c.alive.Add(1)
	go c.supervise()
	return c, nil
}

// Close sends DISCONNECT if connected and waits for background goroutines.
func (c *Client) Close() error {
	var err error
	if s := c.session(); s != nil {
		err = s.send(packet.NewDisconnect())
		s.close(ErrClientClosing)
	}
	c.alive.Stop()
	c.alive.Wait()
	return err
}

// Publish blocks until PUBACK for QOS 1, until written for QOS 0.
func (c *Client) Publish(ctx context.Context, msg *packet.Message) error {
	if msg.QOS >= packet.QOSExactlyOnce {
		return errors.NotSupportedf("mqtt publish qos=%d", msg.QOS)
	}

	c.pubmu.Lock()
	defer c.pubmu.Unlock()
	s, err := c.waitSession(ctx)
	if err != nil {
		return err
	}

	publish := packet.NewPublish()
	publish.Message = *msg
	var fu *future.Future
	if msg.QOS == packet.QOSAtLeastOnce {
		publish.ID = c.nextID()
		fu = future.New()
		c.expectAck(publish.ID, fu)
		defer c.expectAck(0, nil)
	}
	if err = s.send(publish); err != nil {
		return errors.Annotate(err, "mqtt send PUBLISH")
	}
	if fu == nil {
		return nil
	}

	timeout := c.opt.NetworkTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d < timeout {
			timeout = d
		}
	}
	switch err = fu.Wait(timeout); err {
	case nil:
		return nil

	case future.ErrCanceled:
		if err, _ = fu.Result().(error); err == nil {
			err = ErrClientClosing
		}
		return err

	case future.ErrTimeout:
		err = errors.Timeoutf("mqtt PUBACK id=%d", publish.ID)
		s.close(err)
		return err

	default:
		return errors.Errorf("code error future.Wait()=%v", err)
	}
}

// WaitReady returns nil when connected,
// ErrClientClosing after Close, context.Canceled when ctx is done first.
func (c *Client) WaitReady(ctx context.Context) error {
	_, err := c.waitSession(ctx)
	return err
}

func (c *Client) waitSession(ctx context.Context) (*session, error) {
	stopch := c.alive.StopChan()
	for {
		if !c.alive.IsRunning() {
			return nil, ErrClientClosing
		}
		c.mu.Lock()
		s, changed := c.current, c.changed
		c.mu.Unlock()
		if s != nil && s.alive.IsRunning() {
			return s, nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return nil, context.Canceled
		case <-stopch:
			return nil, ErrClientClosing
		}
	}
}

func (c *Client) session() *session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *Client) setSession(s *session) {
	c.mu.Lock()
	c.current = s
	close(c.changed)
	c.changed = make(chan struct{})
	c.mu.Unlock()
}

func (c *Client) supervise() {
	defer c.alive.Done()
	stopch := c.alive.StopChan()
	for c.alive.IsRunning() {
		s, err := dial(c.opt, c.onPuback)
		if err != nil {
			c.opt.Log.Errorf("mqtt connect broker=%s err=%v", c.opt.BrokerURL, err)
		} else {
			c.setSession(s)
			select {
			case <-s.alive.WaitChan():
			case <-stopch:
				s.close(ErrClientClosing)
				s.alive.Wait()
			}
			c.setSession(nil)
			c.cancelAck(s.err())
		}

		c.opt.Log.Debugf("mqtt wait reconnect=%v", c.opt.ReconnectDelay)
		select {
		case <-time.After(c.opt.ReconnectDelay):
		case <-stopch:
			return
		}
	}
}

func (c *Client) nextID() packet.ID {
	u32 := atomic.AddUint32(&c.lastID, 1)
	id := packet.ID(u32 % (1 << 16))
	if id == 0 {
		id = 1
	}
	return id
}

func (c *Client) expectAck(id packet.ID, fu *future.Future) {
	c.ack.Lock()
	c.ack.id, c.ack.fu = id, fu
	c.ack.Unlock()
}

func (c *Client) cancelAck(err error) {
	c.ack.Lock()
	fu := c.ack.fu
	c.ack.Unlock()
	if fu != nil {
		fu.Cancel(err)
	}
}

// called from session reader goroutine
func (c *Client) onPuback(id packet.ID) error {
	c.ack.Lock()
	fu, expect := c.ack.fu, c.ack.id
	c.ack.Unlock()
	if fu == nil {
		return errors.Errorf("unexpected PUBACK id=%d", id)
	}
	if expect != id {
		return errors.Errorf("PUBACK id=%d expected=%d", id, expect)
	}
	fu.Complete(id)
	return nil
}

// session is one accepted broker connection.
type session struct {
	alive   *alive.Alive
	conn    transport.Conn
	opt     ClientOptions
	onAck   func(packet.ID) error
	cause   helpers.AtomicError
	lastOut atomic_clock.Clock
	lastIn  atomic_clock.Clock
}

// dial returns session after CONNACK, starts keepalive and reader.
func dial(opt ClientOptions, onAck func(packet.ID) error) (*session, error) {
	conn, err := opt.dialer.Dial(opt.BrokerURL)
	if err != nil {
		return nil, errors.Annotate(err, "dial")
	}
	s := &session{alive: alive.NewAlive(), conn: conn, opt: opt, onAck: onAck}
	if err = s.send(opt.connect); err != nil {
		return nil, err
	}
	conn.SetReadTimeout(opt.NetworkTimeout)
	pkt, err := conn.Receive()
	if err != nil {
		return nil, s.close(errors.Annotate(err, "expect CONNACK"))
	}
	connack, ok := pkt.(*packet.Connack)
	if !ok {
		return nil, s.close(errors.Annotatef(client.ErrClientExpectedConnack, "received=%s", PacketString(pkt)))
	}
	if connack.ReturnCode != packet.ConnectionAccepted {
		return nil, s.close(errors.Annotate(client.ErrClientConnectionDenied, connack.ReturnCode.String()))
	}
	conn.SetReadTimeout(0)
	opt.Log.Debugf("mqtt connected broker=%s", opt.BrokerURL)
	s.lastIn.SetNow()
	s.alive.Add(2)
	go s.keepalive()
	go s.reader()
	return s, nil
}

// close is idempotent, returns e.
func (s *session) close(e error) error {
	if e == nil {
		e = ErrClientClosing
	}
	if _, closed := s.cause.StoreOnce(e); closed {
		return e
	}
	s.opt.Log.Debugf("mqtt connection closed: %v", e)
	s.alive.Stop()
	_ = s.conn.Close()
	return e
}

func (s *session) err() error {
	if e, _ := s.cause.Load(); e != nil {
		return e
	}
	return ErrClientClosing
}

func (s *session) send(p packet.Generic) error {
	if err := s.conn.Send(p, false); err != nil {
		return s.close(errors.Annotatef(err, "mqtt send %s", p.Type().String()))
	}
	s.lastOut.SetNow()
	s.opt.Log.Debugf("mqtt sent %s", PacketString(p))
	return nil
}

// keepalive sends PINGREQ after half keepalive of outgoing silence.
// [MQTT-3.1.2-24] incoming control packets must arrive at most keepalive*1.5 apart.
func (s *session) keepalive() {
	defer s.alive.Done()
	if s.opt.KeepaliveSec == 0 {
		return
	}
	idle := time.Duration(s.opt.KeepaliveSec) * time.Second / 2
	limit := keepaliveAndHalf(s.opt.KeepaliveSec)
	tick := time.NewTicker(idle / 2)
	defer tick.Stop()
	stopch := s.alive.StopChan()
	for {
		select {
		case <-tick.C:
		case <-stopch:
			return
		}
		if atomic_clock.Since(&s.lastIn) > limit {
			s.close(client.ErrClientMissingPong)
			return
		}
		if atomic_clock.Since(&s.lastOut) >= idle {
			if err := s.send(packet.NewPingreq()); err != nil {
				return
			}
		}
	}
}

func (s *session) reader() {
	defer s.alive.Done()
	for {
		pkt, err := s.conn.Receive()
		if !s.alive.IsRunning() {
			return
		}
		switch err {
		case nil:
		case io.EOF:
			s.opt.Log.Errorf("mqtt server closed connection")
			s.close(nil)
			return
		default:
			s.close(errors.Annotate(err, "mqtt receive"))
			return
		}
		s.opt.Log.Debugf("mqtt received=%s", PacketString(pkt))
		s.lastIn.SetNow()

		switch pt := pkt.(type) {
		case *packet.Pingresp:

		case *packet.Puback:
			if err := s.onAck(pt.ID); err != nil {
				s.close(err)
				return
			}

		default:
			s.close(errors.Errorf("mqtt unexpected packet %s", PacketString(pkt)))
			return
		}
	}
}
