package proxy

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"

	"golang.org/x/sync/errgroup"
)

// CopyBidirectional copies between left and right until either side
// finishes or ctx is done, then closes both. Errors caused by the close
// itself are not reported.
func CopyBidirectional(ctx context.Context, left, right net.Conn) error {
	var g errgroup.Group

	var closeOnce sync.Once
	closeBoth := func() {
		closeOnce.Do(func() {
			_ = left.Close()
			_ = right.Close()
		})
	}
	defer closeBoth()

	// If the context is canceled, close both sides to unblock Copy.
	stop := context.AfterFunc(ctx, closeBoth)
	defer stop()

	pipe := func(dst, src net.Conn) func() error {
		return func() error {
			defer closeBoth()
			_, err := io.Copy(dst, src)
			if errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
				return nil
			}
			return err
		}
	}
	g.Go(pipe(left, right))
	g.Go(pipe(right, left))

	return g.Wait()
}
