package events

import (
	"encoding/json"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

type Type string

const (
	ProcessStarted Type = "process.started"
	ProcessExited  Type = "process.exited"
	StageReady     Type = "stage.ready"
	BackendReady   Type = "backend.ready"
	BackendFailed  Type = "backend.failed"
	ShutdownBegan  Type = "shutdown.began"
	ShutdownDone   Type = "shutdown.done"
)

// Event is the JSON payload published on TopicLifecycle.
type Event struct {
	Type    Type      `json:"type"`
	Process string    `json:"process,omitempty"`
	Role    string    `json:"role,omitempty"`
	PID     int       `json:"pid,omitempty"`
	Detail  string    `json:"detail,omitempty"`
	Time    time.Time `json:"time"`
}

// Publish sends ev on TopicLifecycle. A nil publisher is a no-op so the
// supervisor can run without a bus attached. Publish failures are dropped;
// lifecycle events are advisory.
func Publish(pub message.Publisher, ev Event) {
	if pub == nil {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return
	}
	_ = pub.Publish(TopicLifecycle, message.NewMessage(watermill.NewUUID(), b))
}

// Decode parses a lifecycle message payload.
func Decode(msg *message.Message) (Event, error) {
	var ev Event
	err := json.Unmarshal(msg.Payload, &ev)
	return ev, err
}
