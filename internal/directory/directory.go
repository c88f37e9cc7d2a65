// Package directory holds the shared peer-id -> address map used by the
// transport, the mutex engine's reply-count calculation, and the name
// server's registry.
package directory

import (
	"sync"

	"github.com/LucaCantagallo/DS-Cinema/internal/protocol"
)

// Directory is a peer_id -> address map guarded by a single lock. It
// never contains more than one entry per id.
type Directory struct {
	mu    sync.RWMutex
	peers map[string]protocol.PeerAddr
}

// New returns an empty directory.
func New() *Directory {
	return &Directory{peers: make(map[string]protocol.PeerAddr)}
}

// Replace atomically swaps the whole directory for a fresher one, as
// happens when a SYNC arrives.
func (d *Directory) Replace(next map[string]protocol.PeerAddr) {
	cp := make(map[string]protocol.PeerAddr, len(next))
	for k, v := range next {
		cp[k] = v
	}
	d.mu.Lock()
	d.peers = cp
	d.mu.Unlock()
}

// Put adds or updates a single entry, used by the name server on
// REGISTER.
func (d *Directory) Put(id string, addr protocol.PeerAddr) {
	d.mu.Lock()
	d.peers[id] = addr
	d.mu.Unlock()
}

// Remove deletes an entry, used when a send to it fails, or by an
// operator-triggered administrative removal on the name server.
func (d *Directory) Remove(id string) {
	d.mu.Lock()
	delete(d.peers, id)
	d.mu.Unlock()
}

// Lookup returns a peer's address and whether it is known.
func (d *Directory) Lookup(id string) (protocol.PeerAddr, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	addr, ok := d.peers[id]
	return addr, ok
}

// Peers is an alias for Snapshot, satisfying admin.PeerView so both the
// name server and a peer's transport-owned directory can back the same
// introspection endpoint.
func (d *Directory) Peers() map[string]protocol.PeerAddr {
	return d.Snapshot()
}

// Snapshot returns a copy of the full directory.
func (d *Directory) Snapshot() map[string]protocol.PeerAddr {
	d.mu.RLock()
	defer d.mu.RUnlock()
	cp := make(map[string]protocol.PeerAddr, len(d.peers))
	for k, v := range d.peers {
		cp[k] = v
	}
	return cp
}

// Ids returns a snapshot of known peer ids.
func (d *Directory) Ids() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ids := make([]string, 0, len(d.peers))
	for id := range d.peers {
		ids = append(ids, id)
	}
	return ids
}

// Len returns the current number of entries.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.peers)
}

// OthersCount returns the number of entries excluding self, the value
// the mutex engine needs as N.
func (d *Directory) OthersCount(self string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n := len(d.peers)
	if _, ok := d.peers[self]; ok {
		n--
	}
	return n
}
