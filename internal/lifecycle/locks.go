package lifecycle

import "sync"

// channelLocks hands out one mutex per channel and forgets it once nobody holds or waits on it.
type channelLocks struct {
	mu    sync.Mutex
	locks map[int64]*channelLock
}

type channelLock struct {
	mu   sync.Mutex
	refs int
}

func newChannelLocks() *channelLocks {
	return &channelLocks{locks: make(map[int64]*channelLock)}
}

// lock blocks until channel is free and returns the matching unlock.
func (c *channelLocks) lock(channel int64) func() {
	c.mu.Lock()
	l, ok := c.locks[channel]
	if !ok {
		l = &channelLock{}
		c.locks[channel] = l
	}
	l.refs++
	c.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		c.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(c.locks, channel)
		}
		c.mu.Unlock()
	}
}

func (c *channelLocks) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.locks)
}
