package tcpserver

import (
	"context"
	"io"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startEcho(t *testing.T, cfg Config) (*Server, *atomic.Int64, *atomic.Int64) {
	t.Helper()
	cfg.Addr = "127.0.0.1:0"
	s := New(cfg, nil)
	var accepted, received atomic.Int64
	s.SetMetricsCallbacks(func() { accepted.Add(1) }, func(n int) { received.Add(int64(n)) })
	s.SetConnHandler(func(cc *ConnContext) {
		cc.SetOnRead(func(b []byte) { _ = cc.Write(b) })
	})
	require.NoError(t, s.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	})
	return s, &accepted, &received
}

func TestServer_Echo(t *testing.T) {
	s, accepted, received := startEcho(t, Config{})

	conn, err := net.Dial("tcp", s.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte{0x81, 0x01, 0x06})
	require.NoError(t, err)

	buf := make([]byte, 3)
	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	_, err = io.ReadFull(conn, buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x81, 0x01, 0x06}, buf)
	assert.Equal(t, int64(1), accepted.Load())
	assert.Equal(t, int64(3), received.Load())
}

func TestServer_ShutdownClosesConnections(t *testing.T) {
	s, _, _ := startEcho(t, Config{})

	conn, err := net.Dial("tcp", s.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool {
		n := 0
		s.conns.Range(func(_, _ any) bool { n++; return true })
		return n == 1
	}, time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))

	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	_, err = conn.Read(make([]byte, 1))
	assert.Error(t, err, "peer sees the connection closed")
}

func TestConnContext_WriteAfterClose(t *testing.T) {
	s := New(Config{Addr: "127.0.0.1:0"}, nil)
	ccC := make(chan *ConnContext, 1)
	s.SetConnHandler(func(cc *ConnContext) { ccC <- cc })
	require.NoError(t, s.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	})

	conn, err := net.Dial("tcp", s.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	var cc *ConnContext
	select {
	case cc = <-ccC:
	case <-time.After(time.Second):
		t.Fatal("no connection")
	}
	require.NoError(t, cc.Close())
	<-cc.Done()
	assert.ErrorIs(t, cc.Write([]byte{1}), ErrConnClosed)
}
