package orchestrator

import (
	"context"
	"sync"
)

// ConversationLocker serializes mutation of a conversation within the
// process. Lock entries are dropped once nobody holds or waits for them.
type ConversationLocker struct {
	mu    sync.Mutex
	locks map[string]*conversationLock
}

type conversationLock struct {
	sem  chan struct{}
	refs int
}

// NewConversationLocker creates an empty locker.
func NewConversationLocker() *ConversationLocker {
	return &ConversationLocker{locks: make(map[string]*conversationLock)}
}

// Lock blocks until the conversation is free or ctx is done. The returned
// function releases the lock and must be called exactly once.
func (l *ConversationLocker) Lock(ctx context.Context, conversationID string) (func(), error) {
	l.mu.Lock()
	entry, ok := l.locks[conversationID]
	if !ok {
		entry = &conversationLock{sem: make(chan struct{}, 1)}
		l.locks[conversationID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	select {
	case entry.sem <- struct{}{}:
	case <-ctx.Done():
		l.release(conversationID, entry)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-entry.sem
			l.release(conversationID, entry)
		})
	}, nil
}

func (l *ConversationLocker) release(conversationID string, entry *conversationLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry.refs--
	if entry.refs == 0 {
		delete(l.locks, conversationID)
	}
}
