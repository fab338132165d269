package session_test

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/livequiz/internal/errors"
	"github.com/victornm/livequiz/internal/protocol"
	"github.com/victornm/livequiz/internal/session"
)

func TestConn_ConcurrentSendsDoNotInterleave(t *testing.T) {
	a, b := net.Pipe()
	sender := session.New(a, session.Config{})
	receiver := session.New(b, session.Config{})
	defer sender.Close()
	defer receiver.Close()

	const writers, perWriter = 8, 25

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				require.NoError(t, sender.Send(protocol.Timer{Remaining: i}))
			}
		}()
	}

	counts := make(map[int]int)
	for i := 0; i < writers*perWriter; i++ {
		m, err := receiver.Receive()
		require.NoError(t, err)
		counts[m.(protocol.Timer).Remaining]++
	}
	wg.Wait()

	for i := 0; i < perWriter; i++ {
		assert.Equal(t, writers, counts[i])
	}
}

func TestConn_ReceiveRecordsLiveness(t *testing.T) {
	clock := clockwork.NewFakeClock()
	a, b := net.Pipe()
	sender := session.New(a, session.Config{})
	receiver := session.New(b, session.Config{Clock: clock})
	defer sender.Close()
	defer receiver.Close()

	clock.Advance(10 * time.Second)
	assert.Equal(t, 10*time.Second, receiver.Idle())

	go func() { _ = sender.Send(protocol.KeepAlive{}) }()
	_, err := receiver.Receive()
	require.NoError(t, err)

	assert.Equal(t, time.Duration(0), receiver.Idle())
	assert.Equal(t, clock.Now(), receiver.LastSeen())
}

func TestConn_CloseUnblocksReceive(t *testing.T) {
	a, b := net.Pipe()
	c := session.New(a, session.Config{})
	defer b.Close()

	errc := make(chan error, 1)
	go func() {
		_, err := c.Receive()
		errc <- err
	}()

	require.NoError(t, c.Close())
	require.NoError(t, c.Close(), "second close is a no-op")

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, session.ErrClosed)
		assert.True(t, session.IsNormalClosure(err))
	case <-time.After(time.Second):
		t.Fatal("receive did not unblock")
	}

	assert.ErrorIs(t, c.Send(protocol.KeepAlive{}), session.ErrClosed)
}

func TestConn_PeerHangupIsConnectionError(t *testing.T) {
	a, b := net.Pipe()
	c := session.New(a, session.Config{})
	defer c.Close()

	require.NoError(t, b.Close())

	_, err := c.Receive()
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodeConnection))
	assert.True(t, session.IsNormalClosure(err))
}

func TestConn_ProtocolErrorPassesThrough(t *testing.T) {
	a, b := net.Pipe()
	c := session.New(a, session.Config{})
	defer c.Close()
	defer b.Close()

	go func() {
		body := []byte(`{"v":1,"type":"NOPE","data":{}}`)
		_, _ = b.Write(append([]byte{0, 0, 0, byte(len(body))}, body...))
	}()

	_, err := c.Receive()
	assert.True(t, errors.HasCode(err, errors.CodeProtocol))
	assert.False(t, session.IsNormalClosure(err))
}

func TestConn_ReceiveWithinTimesOut(t *testing.T) {
	a, b := net.Pipe()
	c := session.New(a, session.Config{})
	defer c.Close()
	defer b.Close()

	_, err := c.ReceiveWithin(20 * time.Millisecond)
	assert.True(t, errors.HasCode(err, errors.CodeConnection))
}
