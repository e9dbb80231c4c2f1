// Package lasterr keeps the most recent failure of each calling OS thread so
// a C caller, which has no exceptions, can ask for it after a function
// returned a sentinel value.
//
// Every boundary call runs on the host's OS thread for its whole duration,
// so a failure recorded during the call is stored under the same thread the
// caller later queries from. Failures recorded on one thread are invisible to
// every other thread, and a thread's slot is dropped once the thread exits.
package lasterr

import (
	"errors"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/Foundation-Devices/tor/internal/logging"
)

// Channel maps thread ids to their most recent unread error.
type Channel struct {
	thread  func() uint64
	osKeyed bool

	mu    sync.Mutex
	slots map[uint64]error
}

// osChannels are the channels keyed by OS thread. Thread exits are
// delivered to all of them.
var (
	osMu       sync.Mutex
	osChannels []*Channel
)

// New returns a Channel keyed by thread. A nil thread uses the current OS
// thread, with slots released when their thread exits.
func New(thread func() uint64) *Channel {
	c := &Channel{thread: thread, slots: make(map[uint64]error)}
	if thread == nil {
		c.thread = threadID
		c.osKeyed = true
		osMu.Lock()
		osChannels = append(osChannels, c)
		osMu.Unlock()
	}
	return c
}

// reap drops the slots of OS threads that have exited, in every channel.
func (c *Channel) reap() {
	if !c.osKeyed {
		return
	}
	ids := exitedThreads()
	if len(ids) == 0 {
		return
	}

	osMu.Lock()
	chans := slices.Clone(osChannels)
	osMu.Unlock()
	for _, ch := range chans {
		ch.mu.Lock()
		for _, id := range ids {
			delete(ch.slots, id)
		}
		ch.mu.Unlock()
	}
}

// pending returns the number of unread errors held for live threads.
func (c *Channel) pending() int {
	c.reap()
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.slots)
}

// Record stores err as the calling thread's last error, replacing any
// unread one. The cause chain is logged; logging does not change what is
// stored. A nil err is ignored.
func (c *Channel) Record(err error) {
	if err == nil {
		return
	}

	log := logging.Logger()
	log.Error("setting last error", zap.Error(err))
	for cause := errors.Unwrap(err); cause != nil; cause = errors.Unwrap(cause) {
		log.Warn("caused by", zap.Error(cause))
	}

	c.reap()
	id := c.thread()
	c.mu.Lock()
	c.slots[id] = err
	c.mu.Unlock()
}

// Take returns and clears the calling thread's last error. It returns nil
// if nothing was recorded since the previous Take.
func (c *Channel) Take() error {
	c.reap()
	id := c.thread()
	c.mu.Lock()
	defer c.mu.Unlock()
	err, ok := c.slots[id]
	if !ok {
		return nil
	}
	delete(c.slots, id)
	return err
}

var std = New(nil)

// Default returns the process-wide channel used by the C boundary.
func Default() *Channel {
	return std
}

// Record stores err in the default channel.
func Record(err error) {
	std.Record(err)
}

// Take reads and clears the calling thread's error in the default channel.
func Take() error {
	return std.Take()
}
