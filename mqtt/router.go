package mqtt

import (
	"sync"

	"github.com/256dpi/gomqtt/packet"
	"github.com/256dpi/gomqtt/topic"
)

type route struct {
	filter string
	peer   string
	qos    packet.QOS
}

type delivery struct {
	peer *peer
	qos  packet.QOS
}

// router owns connected peers by client id and their topic filters.
type router struct {
	mu    sync.RWMutex
	peers map[string]*peer
	tree  *topic.Tree // *route
}

func newRouter() *router {
	return &router{
		peers: make(map[string]*peer),
		tree:  topic.NewStandardTree(),
	}
}

// attach registers p and returns previous peer with same client id, if any.
func (r *router) attach(p *peer) *peer {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.peers[p.id]
	r.peers[p.id] = p
	return prev
}

// detach forgets p and its filters unless client id was taken over.
func (r *router) detach(p *peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.peers[p.id] != p {
		return
	}
	delete(r.peers, p.id)
	for _, v := range r.tree.All() {
		if rt := v.(*route); rt.peer == p.id {
			r.tree.Remove(rt.filter, v)
		}
	}
}

// subscribe caps qos at 1 and returns granted value.
func (r *router) subscribe(p *peer, filter string, qos packet.QOS) packet.QOS {
	if qos > packet.QOSAtLeastOnce {
		qos = packet.QOSAtLeastOnce
	}
	r.tree.Add(filter, &route{filter: filter, peer: p.id, qos: qos})
	return qos
}

// match returns one delivery per peer, overlapping filters do not duplicate.
func (r *router) match(name string, qos packet.QOS) []delivery {
	r.mu.RLock()
	defer r.mu.RUnlock()
	values := r.tree.Match(name)
	ds := make([]delivery, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		rt := v.(*route)
		if _, ok := seen[rt.peer]; ok {
			continue
		}
		seen[rt.peer] = struct{}{}
		p, ok := r.peers[rt.peer]
		if !ok {
			continue
		}
		d := delivery{peer: p, qos: qos}
		if rt.qos < d.qos {
			d.qos = rt.qos
		}
		ds = append(ds, d)
	}
	return ds
}

func (r *router) each(f func(*peer)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.peers {
		f(p)
	}
}
