package directory

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/LucaCantagallo/DS-Cinema/internal/protocol"
)

func TestPutAndLookup(t *testing.T) {
	d := New()
	d.Put("A", protocol.PeerAddr{Host: "127.0.0.1", Port: 5001})

	addr, ok := d.Lookup("A")
	require.True(t, ok)
	require.Equal(t, 5001, addr.Port)
}

func TestPutReplacesExistingEntry(t *testing.T) {
	d := New()
	d.Put("A", protocol.PeerAddr{Host: "127.0.0.1", Port: 5001})
	d.Put("A", protocol.PeerAddr{Host: "192.168.1.5", Port: 6000})

	addr, ok := d.Lookup("A")
	require.True(t, ok)
	require.Equal(t, "192.168.1.5", addr.Host)
	require.Equal(t, 6000, addr.Port)
	require.Equal(t, 1, d.Len())
}

func TestRemovePrunesEntry(t *testing.T) {
	d := New()
	d.Put("B", protocol.PeerAddr{Host: "127.0.0.1", Port: 5002})
	d.Remove("B")

	_, ok := d.Lookup("B")
	require.False(t, ok)
}

func TestReplaceSwapsWholeMap(t *testing.T) {
	d := New()
	d.Put("stale", protocol.PeerAddr{Host: "x", Port: 1})
	d.Replace(map[string]protocol.PeerAddr{
		"A": {Host: "127.0.0.1", Port: 5001},
		"B": {Host: "127.0.0.1", Port: 5002},
	})

	_, ok := d.Lookup("stale")
	require.False(t, ok)
	require.Equal(t, 2, d.Len())
}

func TestOthersCountExcludesSelf(t *testing.T) {
	d := New()
	d.Replace(map[string]protocol.PeerAddr{
		"A": {Port: 1}, "B": {Port: 2}, "C": {Port: 3},
	})
	require.Equal(t, 2, d.OthersCount("A"))
	require.Equal(t, 3, d.OthersCount("absent"))
}
