package infrastructure

import (
	"sync"
	"time"
)

const (
	defaultPollCacheSize = 1024
	pollCacheTTL         = 7 * 24 * time.Hour
)

// PollCache remembers the options of polls this process sent so that
// incoming votes can be mapped back to option names.
type PollCache struct {
	mu      sync.Mutex
	polls   map[string]*cachedPoll
	maxSize int
	now     func() time.Time
}

type cachedPoll struct {
	options []string
	created time.Time
}

func NewPollCache(maxSize int) *PollCache {
	if maxSize <= 0 {
		maxSize = defaultPollCacheSize
	}
	return &PollCache{
		polls:   make(map[string]*cachedPoll),
		maxSize: maxSize,
		now:     time.Now,
	}
}

func (c *PollCache) Put(messageID string, options []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.polls[messageID]; !ok && len(c.polls) >= c.maxSize {
		c.evictOldest()
	}
	c.polls[messageID] = &cachedPoll{
		options: append([]string(nil), options...),
		created: c.now(),
	}
}

func (c *PollCache) Options(messageID string) ([]string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	poll, ok := c.polls[messageID]
	if !ok {
		return nil, false
	}
	if c.now().Sub(poll.created) > pollCacheTTL {
		delete(c.polls, messageID)
		return nil, false
	}
	return append([]string(nil), poll.options...), true
}

func (c *PollCache) evictOldest() {
	var oldestID string
	var oldest time.Time
	for id, poll := range c.polls {
		if oldestID == "" || poll.created.Before(oldest) {
			oldestID, oldest = id, poll.created
		}
	}
	delete(c.polls, oldestID)
}
