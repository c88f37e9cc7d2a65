// Package nameserver implements the single well-known bootstrap registry
// peers contact on boot, grounded in the original's
// src/nameserver/server.py + src/nameserver/main.py and, in Go, the
// teacher's 02-lock-centralizado/coordinator.
package nameserver

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/LucaCantagallo/DS-Cinema/internal/directory"
	"github.com/LucaCantagallo/DS-Cinema/internal/metrics"
	"github.com/LucaCantagallo/DS-Cinema/internal/protocol"
)

// pusher is the subset of the transport the name server needs to gossip
// SYNC to every registered peer.
type pusher interface {
	SendTo(id string, msg protocol.Envelope) bool
}

// NameServer maintains the peer directory and re-broadcasts it to every
// registered peer after each registration.
type NameServer struct {
	dir       *directory.Directory
	transport pusher
	metric    *metrics.Metrics
	log       *logrus.Entry

	mu sync.Mutex
}

// New builds a name server over dir, pushing updates via transport.
func New(dir *directory.Directory, transport pusher, m *metrics.Metrics, log *logrus.Entry) *NameServer {
	return &NameServer{
		dir:       dir,
		transport: transport,
		metric:    m,
		log:       log.WithField("component", "nameserver"),
	}
}

// HandleMessage processes an inbound frame. Only REGISTER is meaningful
// here; anything else is ignored.
func (n *NameServer) HandleMessage(msg protocol.Envelope) {
	if msg.Type != protocol.TypeRegister {
		return
	}
	n.Register(msg.NodeID, "127.0.0.1", msg.ListeningPort)
}

// Register adds or updates a peer entry and pushes SYNC to every
// registered peer, including the new one. A push failure is logged and
// does not roll back the registration.
func (n *NameServer) Register(nodeID, host string, port int) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.dir.Put(nodeID, protocol.PeerAddr{Host: host, Port: port})
	n.log.WithFields(logrus.Fields{"node_id": nodeID, "host": host, "port": port}).Info("registered peer")
	if n.metric != nil {
		n.metric.Registrations.Inc()
		n.metric.DirectorySize.Set(float64(n.dir.Len()))
	}
	n.broadcastSync()
}

// RemovePeer is an explicit, operator-triggered removal (spec.md §9's
// open question is left as "no automatic push on disappearance"; this is
// a deliberate administrative action, never invoked by the failure-
// detection path, which stays local-only per spec.md §4.3/§4.4).
func (n *NameServer) RemovePeer(nodeID string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.dir.Remove(nodeID)
	n.log.WithField("node_id", nodeID).Info("removed peer by operator request")
	if n.metric != nil {
		n.metric.DirectorySize.Set(float64(n.dir.Len()))
	}
	n.broadcastSync()
}

// Peers returns a snapshot of the directory.
func (n *NameServer) Peers() map[string]protocol.PeerAddr {
	return n.dir.Snapshot()
}

func (n *NameServer) broadcastSync() {
	peers := n.dir.Snapshot()
	msg := protocol.Sync(peers)
	n.log.WithField("count", len(peers)).Info("pushing SYNC to all registered peers")

	for id := range peers {
		if !n.transport.SendTo(id, msg) {
			n.log.WithField("peer", id).Warn("failed to push SYNC; registration stands")
		}
	}
	if n.metric != nil {
		n.metric.SyncPushes.Inc()
	}
}
