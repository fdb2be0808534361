package syncserver

import (
	"encoding/json"
	"sync"
)

// Awareness holds one room's ephemeral per-client presence state
// (cursors, names) — never persisted, cleared on disconnect.
type Awareness struct {
	mu     sync.Mutex
	states map[string]json.RawMessage
}

func newAwareness() *Awareness {
	return &Awareness{states: map[string]json.RawMessage{}}
}

// ApplyUpdate merges a client-id -> state bundle: a null state removes
// the client, any other value sets it. It takes no origin token:
// awareness carries no echo-suppression of its own — the server already
// broadcasts to every *other* connection in the room.
func (a *Awareness) ApplyUpdate(raw json.RawMessage) (clientIDs []string, removed []string, err error) {
	var bundle map[string]json.RawMessage
	if err := json.Unmarshal(raw, &bundle); err != nil {
		return nil, nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	for id, state := range bundle {
		if string(state) == "null" {
			delete(a.states, id)
			removed = append(removed, id)
			continue
		}
		a.states[id] = state
		clientIDs = append(clientIDs, id)
	}
	return clientIDs, removed, nil
}

// Remove drops every id in ids, used when a connection with those
// controlled client ids disconnects.
func (a *Awareness) Remove(ids []string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, id := range ids {
		delete(a.states, id)
	}
}

// HasStates reports whether any client currently has awareness state.
func (a *Awareness) HasStates() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.states) > 0
}

// Encode serializes the full current state bundle.
func (a *Awareness) Encode() ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return json.Marshal(a.states)
}
