package proctor

import (
	"encoding/json"
	"sync"
	"testing"
)

// fakeRealtime is an in-process Realtime for driving handlers directly.
type fakeRealtime struct {
	mu        sync.Mutex
	handlers  map[string][]func(json.RawMessage)
	onConnect []func(bool)
	emitted   []fakeEvent
	connected bool
}

type fakeEvent struct {
	Event string
	Data  json.RawMessage
}

func newFakeRealtime() *fakeRealtime {
	return &fakeRealtime{handlers: make(map[string][]func(json.RawMessage))}
}

func (f *fakeRealtime) Connect() error {
	f.mu.Lock()
	f.connected = true
	callbacks := append([]func(bool){}, f.onConnect...)
	f.mu.Unlock()
	for _, fn := range callbacks {
		fn(false)
	}
	return nil
}

func (f *fakeRealtime) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
}

func (f *fakeRealtime) Emit(event string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emitted = append(f.emitted, fakeEvent{Event: event, Data: payload})
	return nil
}

func (f *fakeRealtime) On(event string, handler func(data json.RawMessage)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[event] = append(f.handlers[event], handler)
}

func (f *fakeRealtime) OnConnect(fn func(reconnected bool)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onConnect = append(f.onConnect, fn)
}

// fire dispatches an event to registered handlers, as the server would.
func (f *fakeRealtime) fire(t *testing.T, event string, payload interface{}) {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal %s payload: %v", event, err)
	}
	f.mu.Lock()
	handlers := append([]func(json.RawMessage){}, f.handlers[event]...)
	f.mu.Unlock()
	for _, h := range handlers {
		h(data)
	}
}

// reconnect simulates a dropped and re-established connection.
func (f *fakeRealtime) reconnect() {
	f.mu.Lock()
	callbacks := append([]func(bool){}, f.onConnect...)
	f.mu.Unlock()
	for _, fn := range callbacks {
		fn(true)
	}
}

// emittedEvents returns a copy of everything sent through Emit.
func (f *fakeRealtime) emittedEvents() []fakeEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]fakeEvent{}, f.emitted...)
}

// countEmitted returns how many frames carried the given event name.
func (f *fakeRealtime) countEmitted(event string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.emitted {
		if e.Event == event {
			n++
		}
	}
	return n
}
