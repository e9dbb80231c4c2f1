package lasterr

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Foundation-Devices/tor/internal/logging"
)

func TestTakeClears(t *testing.T) {
	c := New(func() uint64 { return 1 })

	require.NoError(t, c.Take())

	c.Record(errors.New("boom"))
	err := c.Take()
	require.EqualError(t, err, "boom")
	require.NoError(t, c.Take())
}

func TestRecordReplaces(t *testing.T) {
	c := New(func() uint64 { return 1 })

	c.Record(errors.New("first"))
	c.Record(errors.New("second"))
	require.EqualError(t, c.Take(), "second")
}

func TestRecordNilIgnored(t *testing.T) {
	c := New(func() uint64 { return 1 })

	c.Record(errors.New("kept"))
	c.Record(nil)
	require.EqualError(t, c.Take(), "kept")
}

func TestThreadsAreIsolated(t *testing.T) {
	var id uint64
	c := New(func() uint64 { return id })

	id = 1
	c.Record(errors.New("on one"))

	id = 2
	require.NoError(t, c.Take())

	id = 1
	require.EqualError(t, c.Take(), "on one")
}

func TestOSThreadsAreIsolated(t *testing.T) {
	c := New(nil)

	recorded := make(chan struct{})
	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()

		c.Record(errors.New("worker failure"))
		close(recorded)
		<-release
		if err := c.Take(); err == nil || err.Error() != "worker failure" {
			t.Errorf("worker thread lost its error: %v", err)
		}
	}()

	<-recorded
	runtime.LockOSThread()
	require.NoError(t, c.Take())
	runtime.UnlockOSThread()
	close(release)
	wg.Wait()
}

// onExitingThread runs fn on a goroutine locked to its OS thread and
// returns once fn is done. The goroutine exits still locked, so the runtime
// terminates the thread afterwards.
func onExitingThread(fn func()) {
	done := make(chan struct{})
	go func() {
		runtime.LockOSThread()
		fn()
		close(done)
	}()
	<-done
}

func TestSlotReleasedWhenThreadExits(t *testing.T) {
	c := New(nil)

	onExitingThread(func() {
		c.Record(errors.New("never read"))
	})

	require.Eventually(t, func() bool {
		return c.pending() == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestThreadIDsNotReused(t *testing.T) {
	c := New(nil)

	var first uint64
	onExitingThread(func() {
		first = threadID()
		c.Record(errors.New("from the first thread"))
	})
	require.Eventually(t, func() bool {
		return c.pending() == 0
	}, 5*time.Second, 10*time.Millisecond)

	onExitingThread(func() {
		if id := threadID(); id == first {
			t.Errorf("thread id %d reused", id)
		}
		if err := c.Take(); err != nil {
			t.Errorf("new thread inherited %v", err)
		}
	})
}

func TestRecordLogsCauseChain(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	logging.SetLogger(zap.New(core))
	defer logging.SetLogger(nil)

	root := errors.New("connection refused")
	mid := fmt.Errorf("dial guard: %w", root)
	top := fmt.Errorf("bootstrap: %w", mid)

	c := New(func() uint64 { return 7 })
	c.Record(top)

	entries := logs.All()
	require.Len(t, entries, 3)
	require.Equal(t, "setting last error", entries[0].Message)
	require.Equal(t, "caused by", entries[1].Message)
	require.Equal(t, mid.Error(), entries[1].ContextMap()["error"])
	require.Equal(t, root.Error(), entries[2].ContextMap()["error"])

	require.Same(t, top, c.Take())
}
