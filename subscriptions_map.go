package gobayeux

import (
	"fmt"
	"sync"
)

type subscriptionsMap struct {
	lock sync.RWMutex
	subs map[Channel]chan []Message
}

func newSubscriptionsMap() *subscriptionsMap {
	return &subscriptionsMap{subs: make(map[Channel]chan []Message)}
}

func (sm *subscriptionsMap) Add(channel Channel, ms chan []Message) error {
	sm.lock.Lock()
	defer sm.lock.Unlock()
	if _, ok := sm.subs[channel]; !ok {
		sm.subs[channel] = ms
		return nil
	}
	return fmt.Errorf("channel '%s' already subscribed", channel)
}

func (sm *subscriptionsMap) Remove(channel Channel) {
	sm.lock.Lock()
	defer sm.lock.Unlock()
	delete(sm.subs, channel)
}

// Route groups events by the subscriptions whose pattern matches their
// channel, preserving arrival order within each group. A receiver
// registered under several matching patterns gets each event once.
func (sm *subscriptionsMap) Route(events []Message) map[chan []Message][]Message {
	sm.lock.RLock()
	defer sm.lock.RUnlock()

	batches := make(map[chan []Message][]Message)
	for _, m := range events {
		seen := make(map[chan []Message]struct{}, len(sm.subs))
		for pattern, recv := range sm.subs {
			if _, ok := seen[recv]; ok || !pattern.Match(m.Channel) {
				continue
			}
			seen[recv] = struct{}{}
			batches[recv] = append(batches[recv], m)
		}
	}
	return batches
}
