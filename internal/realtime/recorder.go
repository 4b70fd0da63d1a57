package realtime

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
)

// Recorded is one event captured by a Recorder.
type Recorded struct {
	Topic    string
	DeviceID string
	Event    string
	Data     json.RawMessage
}

// Recorder is an Emitter that keeps every event in memory. Handy in tests and for dry runs.
type Recorder struct {
	mu     sync.Mutex
	events []Recorded
}

func (r *Recorder) Emit(topic, event string, payload any) {
	r.record(Recorded{Topic: topic, Event: event}, payload)
}

func (r *Recorder) EmitToDevice(userID uuid.UUID, deviceID, event string, payload any) {
	r.record(Recorded{Topic: UserTopic(userID), DeviceID: deviceID, Event: event}, payload)
}

func (r *Recorder) record(rec Recorded, payload any) {
	rec.Data, _ = json.Marshal(payload)
	r.mu.Lock()
	r.events = append(r.events, rec)
	r.mu.Unlock()
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Recorded, len(r.events))
	copy(out, r.events)
	return out
}

// Named returns the recorded events with the given name, in emission order.
func (r *Recorder) Named(event string) []Recorded {
	var out []Recorded
	for _, e := range r.Events() {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

// Reset forgets all recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

// Decode unmarshals a recorded payload into v.
func (e Recorded) Decode(v any) error {
	return json.Unmarshal(e.Data, v)
}
