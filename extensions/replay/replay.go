// Package replay implements the Bayeux replay extension, which lets a
// client resume a channel from the last event it saw.
//
// The server advertises support in its handshake reply. From then on the
// extension remembers the replayId of the newest event seen on each
// channel and sends the whole map with every /meta/subscribe.
package replay

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	bayeux "github.com/sioux-io/gobayeux"
)

const (
	// ExtensionName is the key the extension uses in a message's ext map
	ExtensionName string = "replay"
	eventKey      string = "event"
	replayIDKey   string = "replayId"

	unsupported int32 = iota
	supported
)

// Extension tracks whether the server supports replay and the newest
// replayId seen per channel
type Extension struct {
	supportedByServer *int32
	replayStore       IDStorer
	name              atomic.Value
}

// IDStorer stores and manages the channels and replay IDs for a bayeux
// server that supports the replay extension
type IDStorer interface {
	Set(channel string, replayID int)
	Get(channel string) (int, bool)
	Delete(channel string)
	AsMap() map[string]int
}

// New creates an extension backed by a MapStorage
func New() *Extension {
	return NewWithStorage(NewMapStorage())
}

// NewWithStorage creates an extension that keeps replay ids in store, so
// they can outlive the process
func NewWithStorage(store IDStorer) *Extension {
	defaultVal := unsupported
	return &Extension{supportedByServer: &defaultVal, replayStore: store}
}

// Outgoing attaches any additional metadata to a message
func (e *Extension) Outgoing(ms *bayeux.Message) {
	switch ms.Channel {
	case bayeux.MetaHandshake:
		ext := ms.GetExt(true)
		ext[ExtensionName] = true
	case bayeux.MetaSubscribe:
		if e.isSupported() {
			ext := ms.GetExt(true)
			ext[ExtensionName] = e.replayStore.AsMap()
		}
	}
}

// Incoming attaches any additional metadata to a message
func (e *Extension) Incoming(ms *bayeux.Message) {
	switch ms.Channel.Type() {
	case bayeux.MetaChannel:
		switch ms.Channel {
		case bayeux.MetaHandshake:
			ext := ms.GetExt(false)
			if ext != nil {
				isSupported, ok := ext[ExtensionName].(bool)
				if ok && isSupported {
					atomic.CompareAndSwapInt32(e.supportedByServer, unsupported, supported)
				}
			}
		case bayeux.MetaUnsubscribe:
			if ms.Successful {
				e.replayStore.Delete(string(ms.Subscription))
			}
		}
	case bayeux.BroadcastChannel:
		e.updateReplayID(ms)
	}
}

// Registered is called after an extension has been successfully registered
func (e *Extension) Registered(extensionName string, session *bayeux.Session) {
	e.name.Store(extensionName)
}

// Unregistered is called when an extension is unregistered. The stored
// replay ids are kept so a new session can resume from them.
func (e *Extension) Unregistered() {}

// Name returns the name the extension was last registered under
func (e *Extension) Name() string {
	name, _ := e.name.Load().(string)
	return name
}

// Store exposes the replay ids gathered so far
func (e *Extension) Store() IDStorer {
	return e.replayStore
}

func (e *Extension) updateReplayID(ms *bayeux.Message) {
	var data struct {
		Event struct {
			ReplayID *float64 `json:"replayId"`
		} `json:"event"`
	}
	if err := json.Unmarshal(ms.Data, &data); err != nil {
		return
	}
	if data.Event.ReplayID == nil {
		return
	}
	e.replayStore.Set(string(ms.Channel), int(*data.Event.ReplayID))
}

func (e *Extension) isSupported() bool {
	return atomic.LoadInt32(e.supportedByServer) == supported
}

// MapStorage implements the IDStorer interface over a regular map with a
// RWMutex protecting the access
type MapStorage struct {
	store map[string]int
	lock  sync.RWMutex
}

// NewMapStorage creates a new MapStorage instance
func NewMapStorage() *MapStorage {
	return &MapStorage{store: make(map[string]int)}
}

// Set implements the IDStorer interface
func (s *MapStorage) Set(channel string, replayID int) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.store[channel] = replayID
}

// Get implements the IDStorer interface
func (s *MapStorage) Get(channel string) (replayID int, ok bool) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	replayID, ok = s.store[channel]
	return
}

// Delete implements the IDStorer interface
func (s *MapStorage) Delete(channel string) {
	s.lock.Lock()
	defer s.lock.Unlock()
	delete(s.store, channel)
}

// AsMap implements the IDStorer interface
func (s *MapStorage) AsMap() map[string]int {
	s.lock.RLock()
	defer s.lock.RUnlock()
	replay := make(map[string]int)
	for k, v := range s.store {
		replay[k] = v
	}
	return replay
}
