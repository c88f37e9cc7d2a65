package transport

import (
	"encoding/binary"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/LucaCantagallo/DS-Cinema/internal/directory"
	"github.com/LucaCantagallo/DS-Cinema/internal/protocol"
)

type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }

func discardLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(noopWriter{})
	return logrus.NewEntry(l)
}

func newListening(t *testing.T, id string, dir *directory.Directory, handler Handler) *Transport {
	t.Helper()
	tr := New(id, dir, nil, discardLogger(), handler)
	require.NoError(t, tr.Start("127.0.0.1:0"))
	t.Cleanup(tr.Stop)
	return tr
}

func addrOf(t *testing.T, tr *Transport) protocol.PeerAddr {
	t.Helper()
	host, portStr, err := net.SplitHostPort(tr.listener.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return protocol.PeerAddr{Host: host, Port: port}
}

func TestSendToDeliversFrame(t *testing.T) {
	var mu sync.Mutex
	var got []protocol.Envelope

	dirB := directory.New()
	tb := newListening(t, "B", dirB, func(msg protocol.Envelope) {
		mu.Lock()
		got = append(got, msg)
		mu.Unlock()
	})

	dirA := directory.New()
	dirA.Put("B", addrOf(t, tb))
	ta := New("A", dirA, nil, discardLogger(), func(protocol.Envelope) {})

	ok := ta.SendTo("B", protocol.Request("A", 1))
	require.True(t, ok)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, protocol.TypeRequest, got[0].Type)
	require.Equal(t, "A", got[0].Sender)
}

func TestSendToUnknownPeerFails(t *testing.T) {
	dir := directory.New()
	tr := New("A", dir, nil, discardLogger(), func(protocol.Envelope) {})
	require.False(t, tr.SendTo("ghost", protocol.Request("A", 1)))
}

func TestBroadcastPrunesFailures(t *testing.T) {
	dir := directory.New()
	dir.Put("dead", protocol.PeerAddr{Host: "127.0.0.1", Port: 1})
	tr := New("A", dir, nil, discardLogger(), func(protocol.Envelope) {})

	successes := tr.Broadcast(protocol.Request("A", 1), true)
	require.Empty(t, successes)
	require.Equal(t, 0, dir.Len())
}

func TestServeConnDropsConnectionOnBrokenFraming(t *testing.T) {
	var mu sync.Mutex
	var got []protocol.Envelope

	dir := directory.New()
	tr := newListening(t, "B", dir, func(msg protocol.Envelope) {
		mu.Lock()
		got = append(got, msg)
		mu.Unlock()
	})

	conn, err := net.Dial("tcp", tr.listener.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	// A well-formed length header over garbage JSON bytes.
	payload := []byte("!!!not json!!!")
	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, uint32(len(payload)))
	_, err = conn.Write(append(header, payload...))
	require.NoError(t, err)

	// A valid frame sent right after on the same connection must never
	// be dispatched: the broken frame should have already closed it.
	valid, err := protocol.Serialize(protocol.Request("ghost", 1))
	require.NoError(t, err)
	_, _ = conn.Write(valid)

	require.Eventually(t, func() bool {
		_, readErr := conn.Read(make([]byte, 1))
		return readErr != nil
	}, 2*time.Second, 10*time.Millisecond, "server should close the connection on broken framing")

	mu.Lock()
	defer mu.Unlock()
	require.Empty(t, got, "no frame should be dispatched once framing is broken")
}

func TestBroadcastExcludesSelf(t *testing.T) {
	dirA := directory.New()
	dirB := directory.New()
	var received int32
	var mu sync.Mutex

	tb := newListening(t, "B", dirB, func(protocol.Envelope) {
		mu.Lock()
		received++
		mu.Unlock()
	})

	dirA.Put("A", protocol.PeerAddr{Host: "127.0.0.1", Port: 1})
	dirA.Put("B", addrOf(t, tb))
	ta := New("A", dirA, nil, discardLogger(), func(protocol.Envelope) {})

	successes := ta.Broadcast(protocol.Request("A", 1), true)
	require.Equal(t, []string{"B"}, successes)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return received == 1
	}, 2*time.Second, 10*time.Millisecond)
}
