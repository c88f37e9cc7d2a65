// Package replica owns the replicated seat array and bridges local user
// intents and inbound network events to the mutex engine, mirroring
// CinemaNode in the original src/node/main.py and its Go analogue in
// main.go's Server/handleReservarAsiento.
package replica

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/LucaCantagallo/DS-Cinema/internal/clock"
	"github.com/LucaCantagallo/DS-Cinema/internal/mutex"
	"github.com/LucaCantagallo/DS-Cinema/internal/observer"
	"github.com/LucaCantagallo/DS-Cinema/internal/protocol"
)

// requester is the subset of the peer transport the coordinator needs to
// send and broadcast announcements and state-sync messages.
type requester interface {
	SendTo(id string, msg protocol.Envelope) bool
	Broadcast(msg protocol.Envelope, excludeSelf bool) []string
	UpdateDirectory(peers map[string]protocol.PeerAddr)
}

// engine is the subset of the mutex engine the coordinator drives.
type engine interface {
	Acquire() (*mutex.Entry, bool)
	Release()
}

// Intent is the local action a GUI/CLI click requests on a seat.
type Intent int

const (
	IntentBook Intent = iota
	IntentFree
)

// Coordinator owns seats[] and routes every inbound protocol message.
type Coordinator struct {
	selfID    string
	clk       *clock.Clock
	transport requester
	engine    engine
	obs       observer.Observer
	log       *logrus.Entry

	mu          sync.Mutex
	seats       []string // "" means free, else owner node id
	sawAnyPeers bool
}

// New builds a coordinator with numSeats free seats.
func New(selfID string, numSeats int, clk *clock.Clock, transport requester, eng engine, obs observer.Observer, log *logrus.Entry) *Coordinator {
	if obs == nil {
		obs = observer.Noop{}
	}
	return &Coordinator{
		selfID:    selfID,
		clk:       clk,
		transport: transport,
		engine:    eng,
		obs:       obs,
		log:       log.WithField("component", "replica"),
		seats:     make([]string, numSeats),
	}
}

// Seats returns a snapshot of the replicated seat array ("" == free).
func (c *Coordinator) Seats() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.seats))
	copy(out, c.seats)
	return out
}

// handleSync replaces the directory and, the first time a non-empty
// directory arrives, sends STATE_REQUEST to one other peer. Inbound
// frames reach this and the other handlers through Wire below, the
// single entry point a transport handler should actually call.
func (c *Coordinator) handleSync(peers map[string]protocol.PeerAddr) {
	c.transport.UpdateDirectory(peers)

	c.mu.Lock()
	first := !c.sawAnyPeers && len(peers) > 0
	c.sawAnyPeers = c.sawAnyPeers || len(peers) > 0
	c.mu.Unlock()

	if !first {
		return
	}

	var target string
	for id := range peers {
		if id != c.selfID {
			target = id
			break
		}
	}
	if target == "" {
		return
	}
	c.log.WithField("target", target).Info("first directory seen, requesting state sync")
	c.transport.SendTo(target, protocol.StateRequest(c.selfID))
}

func (c *Coordinator) handleStateRequest(sender string) {
	c.transport.SendTo(sender, protocol.StateReply(c.selfID, c.Seats()))
}

func (c *Coordinator) handleStateReply(seats []string) {
	c.mu.Lock()
	if len(seats) == len(c.seats) {
		copy(c.seats, seats)
	}
	c.mu.Unlock()
	c.log.Info("overwrote local seats from state sync")
	c.obs.Log("seats synchronized from peer")
}

func (c *Coordinator) handleAcquire(seatID int, owner string, ts uint64) {
	c.clk.Observe(ts)
	c.mu.Lock()
	if seatID >= 0 && seatID < len(c.seats) {
		c.seats[seatID] = owner
	}
	c.mu.Unlock()
	c.obs.UpdateSeat(seatID, observer.ColorTomato)
	c.obs.Log(fmt.Sprintf("seat %d taken by %s", seatID, owner))
}

func (c *Coordinator) handleRelease(seatID int, ts uint64) {
	c.clk.Observe(ts)
	c.mu.Lock()
	if seatID >= 0 && seatID < len(c.seats) {
		c.seats[seatID] = ""
	}
	c.mu.Unlock()
	c.obs.UpdateSeat(seatID, observer.ColorAvailable)
	c.obs.Log(fmt.Sprintf("seat %d released", seatID))
}

// Wire returns a handler suitable for passing straight to the transport:
// it routes SYNC/STATE_*/ACQUIRE/RELEASE to the coordinator and
// REQUEST/REPLY to onMutexMessage (normally engine.OnMessage).
func Wire(c *Coordinator, onMutexMessage func(protocol.Envelope)) func(protocol.Envelope) {
	return func(msg protocol.Envelope) {
		switch msg.Type {
		case protocol.TypeSync:
			c.handleSync(msg.Peers)
		case protocol.TypeStateRequest:
			c.handleStateRequest(msg.Sender)
		case protocol.TypeStateReply:
			c.handleStateReply(msg.Seats)
		case protocol.TypeAcquire:
			c.handleAcquire(msg.SeatID, msg.Owner, msg.Timestamp)
		case protocol.TypeRelease:
			c.handleRelease(msg.SeatID, msg.Timestamp)
		case protocol.TypeRequest, protocol.TypeReply:
			onMutexMessage(msg)
		}
	}
}

// RequestIntent performs the local-intent algorithm from spec.md §4.5: a
// seat already owned by someone else is rejected without any protocol
// traffic; otherwise the mutex is acquired, the intent applied inside
// the critical section, and the mutex released.
func (c *Coordinator) RequestIntent(seatID int, intent Intent) (bool, error) {
	c.mu.Lock()
	owner := ""
	if seatID >= 0 && seatID < len(c.seats) {
		owner = c.seats[seatID]
	}
	c.mu.Unlock()

	if owner != "" && owner != c.selfID {
		c.obs.Log(fmt.Sprintf("seat %d already taken by %s", seatID, owner))
		return false, nil
	}

	entry, ok := c.engine.Acquire()
	if !ok {
		c.obs.Log("system busy, please wait")
		return false, nil
	}

	c.obs.UpdateSeat(seatID, observer.ColorGold)
	<-entry.Granted()

	c.applyIntentInCS(seatID, intent)
	c.engine.Release()
	return true, nil
}

// applyIntentInCS runs inside the critical section: it re-checks the
// local seat state (the race may have been lost while waiting for
// entry), mutates the replica, and broadcasts the authoritative
// announcement.
func (c *Coordinator) applyIntentInCS(seatID int, intent Intent) {
	c.mu.Lock()
	current := ""
	if seatID >= 0 && seatID < len(c.seats) {
		current = c.seats[seatID]
	}
	c.mu.Unlock()

	switch {
	case intent == IntentBook && current == "":
		ts := c.clk.Tick()
		c.mu.Lock()
		c.seats[seatID] = c.selfID
		c.mu.Unlock()
		c.obs.UpdateSeat(seatID, observer.ColorGreen)
		c.obs.Log(fmt.Sprintf("booked seat %d", seatID))
		c.transport.Broadcast(protocol.Acquire(c.selfID, seatID, c.selfID, ts), true)

	case intent == IntentFree && current == c.selfID:
		ts := c.clk.Tick()
		c.mu.Lock()
		c.seats[seatID] = ""
		c.mu.Unlock()
		c.obs.UpdateSeat(seatID, observer.ColorAvailable)
		c.obs.Log(fmt.Sprintf("released seat %d", seatID))
		c.transport.Broadcast(protocol.Release(c.selfID, seatID, ts), true)

	default:
		c.obs.Log(fmt.Sprintf("lost the race for seat %d", seatID))
		c.obs.UpdateSeat(seatID, observer.ColorTomato)
	}
}
