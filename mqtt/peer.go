package mqtt

import (
	"io"
	"sync"
	"time"

	"github.com/256dpi/gomqtt/client/future"
	"github.com/256dpi/gomqtt/packet"
	"github.com/256dpi/gomqtt/transport"
	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/wearable/helpers"
	"github.com/temoto/wearable/log2"
)

// peer is broker side of one subscriber or publisher connection.
type peer struct {
	id     string
	addr   string
	log    *log2.Log
	ackTTL time.Duration

	alive   *alive.Alive
	cause   helpers.AtomicError
	pending *future.Store
	sendmu  sync.Mutex
	connmu  sync.RWMutex
	conn    transport.Conn
}

func newPeer(conn transport.Conn, connect *packet.Connect, log *log2.Log, ackTTL time.Duration) *peer {
	return &peer{
		id:      connect.ClientID,
		addr:    addrString(conn.RemoteAddr()),
		log:     log,
		ackTTL:  ackTTL,
		alive:   alive.NewAlive(),
		pending: future.NewStore(),
		conn:    conn,
	}
}

func (p *peer) String() string { return "client=" + p.id + " addr=" + p.addr }

// deliver sends routed message, for QOS 1 blocks until PUBACK or ackTTL.
func (p *peer) deliver(id packet.ID, msg packet.Message) error {
	if !p.alive.Add(1) {
		return ErrClosing
	}
	defer p.alive.Done()

	pub := packet.NewPublish()
	pub.Message = msg
	if msg.QOS == packet.QOSAtMostOnce {
		return p.send(pub)
	}
	pub.ID = id
	f := future.New()
	if stale := p.pending.Get(id); stale != nil {
		stale.Cancel(errors.Errorf("packet id=%d reused", id))
	}
	p.pending.Put(id, f)
	defer p.pending.Delete(id)
	if err := p.send(pub); err != nil {
		return err
	}
	err := f.Wait(p.ackTTL)
	switch err {
	case nil:
		return nil
	case future.ErrTimeout:
		return p.kill(errors.Timeoutf("%s PUBACK id=%d", p, id))
	}
	if cause, ok := f.Result().(error); ok && cause != nil {
		err = cause
	}
	return p.kill(errors.Annotatef(err, "%s PUBACK id=%d", p, id))
}

func (p *peer) acked(id packet.ID) error {
	f := p.pending.Get(id)
	if f == nil {
		return errors.Errorf("%s unexpected PUBACK id=%d", p, id)
	}
	f.Complete(nil)
	return nil
}

func (p *peer) receive() (packet.Generic, error) {
	conn := p.getConn()
	if conn == nil {
		return nil, ErrClosing
	}
	pkt, err := conn.Receive()
	if err == nil {
		p.log.Debugf("mqtt %s recv %s", p, PacketString(pkt))
		return pkt, nil
	}
	if err != io.EOF && !p.alive.IsRunning() && isClosedConn(err) {
		return nil, ErrClosing
	}
	return nil, p.kill(err)
}

func (p *peer) send(pkt packet.Generic) error {
	conn := p.getConn()
	if conn == nil {
		return ErrClosing
	}
	p.log.Debugf("mqtt %s send %s", p, PacketString(pkt))
	p.sendmu.Lock()
	err := conn.Send(pkt, false)
	p.sendmu.Unlock()
	if err == nil {
		return nil
	}
	if !p.alive.IsRunning() && isClosedConn(err) {
		return ErrClosing
	}
	return p.kill(errors.Annotate(err, p.String()))
}

// kill closes connection once, later calls return first cause.
func (p *peer) kill(cause error) error {
	if first, found := p.cause.StoreOnce(cause); found {
		return first
	}
	p.log.Debugf("mqtt %s closed: %v", p, cause)
	p.alive.Stop()
	p.connmu.Lock()
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
	p.connmu.Unlock()
	return cause
}

func (p *peer) getConn() transport.Conn {
	p.connmu.RLock()
	defer p.connmu.RUnlock()
	return p.conn
}
