// Package mutex implements the Ricart-Agrawala distributed mutual
// exclusion engine: request/reply bookkeeping gated by a Lamport clock,
// driven over a peer transport.
//
// The state machine mirrors the teacher's Node type in
// ricart_agrawala.go (State, RequestTime, RepliesNeeded, DeferredReplies,
// handleRequest/handleReply) and the original Python
// RicartAgrawala/algorithm.py it was itself adapted from, generalized
// here to hand back a channel-based entry ticket instead of invoking a
// bare callback (see spec.md §9's re-architecture guidance).
package mutex

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/LucaCantagallo/DS-Cinema/internal/clock"
	"github.com/LucaCantagallo/DS-Cinema/internal/directory"
	"github.com/LucaCantagallo/DS-Cinema/internal/metrics"
	"github.com/LucaCantagallo/DS-Cinema/internal/protocol"
)

// State is a value from {Released, Wanted, Held}.
type State int

const (
	Released State = iota
	Wanted
	Held
)

func (s State) String() string {
	switch s {
	case Released:
		return "released"
	case Wanted:
		return "wanted"
	case Held:
		return "held"
	default:
		return "unknown"
	}
}

// sender abstracts the peer transport methods the engine needs, so tests
// can substitute an in-process fake network bus.
type sender interface {
	SendTo(id string, msg protocol.Envelope) bool
	Broadcast(msg protocol.Envelope, excludeSelf bool) []string
}

// Entry is the one-shot ticket returned by Acquire. The caller blocks on
// Granted() until the engine transitions to Held, does its critical
// section work, then calls the engine's Release.
type Entry struct {
	granted chan struct{}
}

// Granted returns a channel that closes once this request has entered
// the critical section.
func (e *Entry) Granted() <-chan struct{} {
	return e.granted
}

// Engine is the Ricart-Agrawala state machine for one peer.
type Engine struct {
	selfID    string
	clk       *clock.Clock
	dir       *directory.Directory
	transport sender
	log       *logrus.Entry
	metric    *metrics.Metrics

	mu              sync.Mutex
	state           State
	requestTS       uint64
	repliesReceived int
	deferred        []string
	entry           *Entry
}

// New builds an engine for selfID. dir is used to compute N (directory
// size excluding self) both at request time and, crucially, again on
// every REPLY — re-evaluating N rather than caching it is what forgives
// a peer that died mid-round (spec.md §4.4).
func New(selfID string, clk *clock.Clock, dir *directory.Directory, transport sender, m *metrics.Metrics, log *logrus.Entry) *Engine {
	return &Engine{
		selfID:    selfID,
		clk:       clk,
		dir:       dir,
		transport: transport,
		metric:    m,
		log:       log.WithField("component", "mutex"),
		state:     Released,
	}
}

// State returns the engine's current state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Acquire requests entry to the critical section. It refuses concurrent
// requests: only one may be outstanding per peer at a time. On success
// it returns an Entry whose Granted() channel closes when the engine
// reaches Held.
func (e *Engine) Acquire() (*Entry, bool) {
	e.mu.Lock()
	if e.state != Released {
		e.mu.Unlock()
		e.log.Warn("acquire called while not released; refusing")
		return nil, false
	}

	e.state = Wanted
	e.requestTS = e.clk.Tick()
	e.repliesReceived = 0
	ent := &Entry{granted: make(chan struct{})}
	e.entry = ent
	n := e.dir.OthersCount(e.selfID)
	ts := e.requestTS
	e.mu.Unlock()

	e.reportState(Wanted)
	e.log.WithField("ts", ts).WithField("n", n).Info("requesting critical section")

	if n == 0 {
		e.mu.Lock()
		e.enterLocked()
		e.mu.Unlock()
		return ent, true
	}

	e.transport.Broadcast(protocol.Request(e.selfID, ts), true)
	return ent, true
}

// OnMessage dispatches an inbound REQUEST or REPLY. The clock is
// advanced via the receive rule before any state-machine logic runs.
func (e *Engine) OnMessage(msg protocol.Envelope) {
	e.clk.Observe(msg.Timestamp)
	e.reportClock()

	switch msg.Type {
	case protocol.TypeRequest:
		e.handleRequest(msg.Sender, msg.Timestamp)
	case protocol.TypeReply:
		e.handleReply()
	}
}

// handleRequest applies the decision table from spec.md §4.4: defer if
// HELD, or if WANTED and our own (requestTS, selfID) sorts before the
// incoming (ts, sender); reply immediately otherwise.
func (e *Engine) handleRequest(sender string, ts uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	defer_ := false
	switch e.state {
	case Held:
		defer_ = true
	case Wanted:
		if e.requestTS < ts || (e.requestTS == ts && e.selfID < sender) {
			defer_ = true
		}
	}

	if defer_ {
		e.deferred = append(e.deferred, sender)
		e.reportDeferred()
		e.log.WithField("peer", sender).Debug("deferring reply")
		return
	}

	e.sendReplyLocked(sender)
}

// handleReply records a REPLY and, once enough have arrived, enters the
// critical section.
func (e *Engine) handleReply() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.repliesReceived++
	n := e.dir.OthersCount(e.selfID)
	e.reportRepliesWaiting(n)

	if e.state == Wanted && e.repliesReceived >= n {
		e.enterLocked()
	}
}

// enterLocked transitions Wanted -> Held and releases the caller waiting
// on Entry.Granted(). Must be called with mu held.
func (e *Engine) enterLocked() {
	if e.state != Wanted {
		return
	}
	e.state = Held
	e.log.Info("entered critical section")
	ent := e.entry
	go func() {
		defer func() {
			if r := recover(); r != nil {
				e.log.WithField("panic", r).Error("recovered notifying entry grant")
			}
		}()
		close(ent.granted)
	}()
	// Report the state we just set directly, rather than through
	// reportState -> State(), which would re-lock mu and deadlock: this
	// is always called with mu held.
	if e.metric != nil {
		e.metric.SetMutexState(Held.String())
	}
}

// Release exits the critical section, replying to every deferred
// requester and clearing the queue.
func (e *Engine) Release() {
	e.mu.Lock()
	e.state = Released
	pending := e.deferred
	e.deferred = nil
	e.entry = nil
	for _, id := range pending {
		e.sendReplyLocked(id)
	}
	e.mu.Unlock()

	e.reportState(Released)
	e.reportDeferred()
	e.log.Info("released critical section")
}

// sendReplyLocked sends a REPLY to target, stamped with the clock's
// current value (not a fresh tick — see DESIGN.md on the REPLY-timestamp
// open question).
func (e *Engine) sendReplyLocked(target string) {
	e.transport.SendTo(target, protocol.Reply(e.selfID, e.clk.Value()))
}

// reportState records s against the metric directly; callers must pass
// the state they just transitioned to rather than calling State(), which
// locks mu and would deadlock if called while mu is already held (as it
// is from enterLocked — see its own inline metric update instead).
func (e *Engine) reportState(s State) {
	if e.metric == nil {
		return
	}
	e.metric.SetMutexState(s.String())
}

func (e *Engine) reportClock() {
	if e.metric == nil {
		return
	}
	e.metric.ClockValue.Set(float64(e.clk.Value()))
}

func (e *Engine) reportRepliesWaiting(n int) {
	if e.metric == nil {
		return
	}
	remaining := n - e.repliesReceived
	if remaining < 0 {
		remaining = 0
	}
	e.metric.RepliesWaiting.Set(float64(remaining))
}

func (e *Engine) reportDeferred() {
	if e.metric == nil {
		return
	}
	e.metric.DeferredQueue.Set(float64(len(e.deferred)))
}
