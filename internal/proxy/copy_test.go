package proxy

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCopyBidirectionalRelays(t *testing.T) {
	clientSide, left := net.Pipe()
	right, serverSide := net.Pipe()

	done := make(chan error, 1)
	go func() { done <- CopyBidirectional(context.Background(), left, right) }()

	go func() {
		buf := make([]byte, 5)
		if _, err := io.ReadFull(serverSide, buf); err != nil {
			return
		}
		_, _ = serverSide.Write(buf)
		_ = serverSide.Close()
	}()

	_, err := clientSide.Write([]byte("hello"))
	require.NoError(t, err)
	buf := make([]byte, 5)
	_, err = io.ReadFull(clientSide, buf)
	require.NoError(t, err)
	require.Equal(t, "hello", string(buf))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("copy did not finish after one side closed")
	}
	_ = clientSide.Close()
}

func TestCopyBidirectionalCancel(t *testing.T) {
	_, left := net.Pipe()
	right, _ := net.Pipe()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- CopyBidirectional(ctx, left, right) }()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("copy did not stop on cancel")
	}
}
