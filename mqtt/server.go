package mqtt

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/256dpi/gomqtt/broker"
	"github.com/256dpi/gomqtt/packet"
	"github.com/256dpi/gomqtt/transport"
	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/wearable/helpers"
	"github.com/temoto/wearable/log2"
)

var (
	ErrSameClient    = fmt.Errorf("clientid overtake")
	ErrClosing       = fmt.Errorf("server is closing")
	ErrNoSubscribers = fmt.Errorf("no subscribers")
)

type ServerOptions struct {
	Log *log2.Log
	// Username -> password. Empty map allows anonymous clients.
	Credentials    map[string]string
	NetworkTimeout time.Duration
	// Optional observer of every accepted PUBLISH, called before routing.
	OnPublish func(*packet.Message)
}

// Server is small embedded broker for local event consumers and tests.
// QOS 0 and 1 only. No retained messages, wills or persistent sessions.
type Server struct {
	alive  *alive.Alive
	log    *log2.Log
	opt    ServerOptions
	router *router
	lastID uint32

	mu      sync.Mutex
	listens []*transport.NetServer
}

func NewServer(opt ServerOptions) *Server {
	if opt.NetworkTimeout == 0 {
		opt.NetworkTimeout = DefaultNetworkTimeout
	}
	return &Server{
		alive:  alive.NewAlive(),
		log:    opt.Log,
		opt:    opt,
		router: newRouter(),
	}
}

// Listen accepts tcp://host:port or unix:///path URLs.
// Port 0 picks free port, see Addrs.
func (s *Server) Listen(urls ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	errs := make([]error, 0)
	for _, u := range urls {
		ns, err := netServer(u)
		if err != nil {
			errs = append(errs, errors.Annotatef(err, "mqtt listen url=%s", u))
			continue
		}
		if !s.alive.Add(1) {
			_ = ns.Close()
			errs = append(errs, errors.Errorf("Listen after Close"))
			break
		}
		s.log.Debugf("mqtt listen url=%s addr=%s", u, ns.Addr())
		s.listens = append(s.listens, ns)
		go s.serve(ns)
	}
	return helpers.FoldErrors(errs)
}

func (s *Server) Addrs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	addrs := make([]string, len(s.listens))
	for i, ns := range s.listens {
		addrs[i] = ns.Addr().String()
	}
	return addrs
}

func (s *Server) Close() error {
	s.alive.Stop()
	s.mu.Lock()
	errs := make([]error, 0, len(s.listens))
	for _, ns := range s.listens {
		if err := ns.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.listens = nil
	s.mu.Unlock()
	s.router.each(func(p *peer) { _ = p.kill(ErrClosing) })
	s.alive.Wait()
	return helpers.FoldErrors(errs)
}

// Publish routes message to matching subscribers concurrently.
// Message QOS is lowered to subscription QOS.
func (s *Server) Publish(ctx context.Context, msg *packet.Message) error {
	ds := s.router.match(msg.Topic, msg.QOS)
	if len(ds) == 0 {
		return ErrNoSubscribers
	}
	id := packet.ID(atomic.AddUint32(&s.lastID, 1)%0xffff + 1)
	errch := make(chan error, len(ds))
	wg := sync.WaitGroup{}
	for _, d := range ds {
		d := d
		m := *msg.Copy()
		m.QOS = d.qos
		wg.Add(1)
		go helpers.WrapErrChan(&wg, errch, func() error { return d.peer.deliver(id, m) })
	}
	wg.Wait()
	close(errch)
	return helpers.FoldErrChan(errch)
}

func netServer(rawurl string) (*transport.NetServer, error) {
	u, err := url.ParseRequestURI(rawurl)
	if err != nil {
		return nil, errors.Annotate(err, "parse url")
	}
	address := u.Host
	switch u.Scheme {
	case "tcp":
	case "unix":
		address = u.Path
	default:
		return nil, errors.NotSupportedf("listen scheme=%s", u.Scheme)
	}
	ln, err := net.Listen(u.Scheme, address)
	if err != nil {
		return nil, errors.Annotatef(err, "net.Listen network=%s address=%s", u.Scheme, address)
	}
	return transport.NewNetServer(ln), nil
}

func (s *Server) serve(ns *transport.NetServer) {
	defer s.alive.Done()
	for {
		conn, err := ns.Accept()
		if !s.alive.IsRunning() || !s.alive.Add(1) {
			if conn != nil {
				_ = conn.Close()
			}
			return
		}
		if err != nil {
			s.alive.Done()
			s.log.Errorf("mqtt accept addr=%s err=%v", ns.Addr(), err)
			return
		}
		go s.handle(conn)
	}
}

// handshake reads CONNECT, checks credentials and answers CONNACK.
func (s *Server) handshake(conn transport.Conn) (*peer, error) {
	addr := addrString(conn.RemoteAddr())
	conn.SetReadTimeout(s.opt.NetworkTimeout)
	pkt, err := conn.Receive()
	if err != nil {
		return nil, errors.Annotatef(err, "addr=%s", addr)
	}
	connect, ok := pkt.(*packet.Connect)
	if !ok {
		return nil, errors.Annotatef(broker.ErrUnexpectedPacket, "addr=%s pkt=%s", addr, PacketString(pkt))
	}

	connack := packet.NewConnack()
	reject := func(code packet.ConnackCode, format string, args ...interface{}) (*peer, error) {
		connack.ReturnCode = code
		_ = conn.Send(connack, false)
		return nil, errors.Annotatef(broker.ErrNotAuthorized, "addr=%s "+format, append([]interface{}{addr}, args...)...)
	}
	if connect.ClientID == "" {
		return reject(packet.IdentifierRejected, "empty clientid")
	}
	if len(s.opt.Credentials) != 0 {
		if secret, ok := s.opt.Credentials[connect.Username]; !ok || secret != connect.Password {
			return reject(packet.NotAuthorized, "username=%s", connect.Username)
		}
	}
	s.log.Debugf("mqtt CONNECT addr=%s client=%s keepalive=%d", addr, connect.ClientID, connect.KeepAlive)

	// client silent for 1.5 keepalive is dead, server caps keepalive at network timeout
	keepalive := connect.KeepAlive
	if limit := uint16(s.opt.NetworkTimeout / time.Second); keepalive == 0 || keepalive > limit {
		keepalive = limit
	}
	conn.SetReadTimeout(keepaliveAndHalf(keepalive))
	connack.ReturnCode = packet.ConnectionAccepted
	if err = conn.Send(connack, false); err != nil {
		return nil, errors.Annotatef(err, "addr=%s", addr)
	}
	return newPeer(conn, connect, s.log, s.opt.NetworkTimeout), nil
}

func (s *Server) handle(conn transport.Conn) {
	defer s.alive.Done()

	p, err := s.handshake(conn)
	if err != nil {
		s.log.Infof("mqtt handshake err=%v", err)
		_ = conn.Close()
		return
	}
	if prev := s.router.attach(p); prev != nil {
		s.log.Infof("mqtt client overtake id=%s old=%s new=%s", p.id, prev.addr, p.addr)
		_ = prev.kill(ErrSameClient)
	}

	wg := sync.WaitGroup{}
	for s.alive.IsRunning() {
		pkt, err := p.receive()
		if err != nil {
			break
		}
		// PUBLISH handling waits for subscribers, receive must go on for PUBACKs
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.dispatch(p, pkt); err != nil {
				_ = p.kill(err)
			}
		}()
	}
	wg.Wait()
	_ = p.kill(ErrClosing)
	p.alive.Wait()
	s.router.detach(p)
}

func (s *Server) dispatch(p *peer, pkt packet.Generic) error {
	switch pt := pkt.(type) {
	case *packet.Pingreq:
		return p.send(packet.NewPingresp())

	case *packet.Publish:
		return s.onPublish(p, pt)

	case *packet.Puback:
		return p.acked(pt.ID)

	case *packet.Subscribe:
		// [MQTT-3.8.3-3] at least one topic filter
		if len(pt.Subscriptions) == 0 {
			return errors.Errorf("%s SUBSCRIBE without filters", p)
		}
		suback := packet.NewSuback()
		suback.ID = pt.ID
		suback.ReturnCodes = make([]packet.QOS, len(pt.Subscriptions))
		for i, sub := range pt.Subscriptions {
			suback.ReturnCodes[i] = s.router.subscribe(p, sub.Topic, sub.QOS)
		}
		return errors.Annotate(p.send(suback), "SUBACK")

	case *packet.Disconnect:
		_ = p.kill(nil)
		return nil
	}
	return errors.NotSupportedf("mqtt %s packet=%s", p, PacketString(pkt))
}

func (s *Server) onPublish(p *peer, pub *packet.Publish) error {
	msg := &pub.Message
	if msg.QOS > packet.QOSAtLeastOnce {
		return errors.NotSupportedf("qos=%d", msg.QOS)
	}
	if s.opt.OnPublish != nil {
		s.opt.OnPublish(msg)
	}
	if err := s.Publish(context.Background(), msg); err != nil && err != ErrNoSubscribers {
		s.log.Errorf("mqtt route %s msg=%s err=%v", p, MessageString(msg), err)
	}
	if msg.QOS == packet.QOSAtMostOnce {
		return nil
	}
	puback := packet.NewPuback()
	puback.ID = pub.ID
	return p.send(puback)
}
