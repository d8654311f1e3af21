package connector

import (
	"sync"

	"github.com/google/uuid"
)

// Event is a notification the connector emits toward its UI layer.
// Consumers type-switch on the concrete event structs below.
type Event interface {
	event()
}

// StateChanged is emitted after every connection-state recompute.
type StateChanged struct {
	State State
}

// ConnectionChanged reports a single device connecting or disconnecting.
type ConnectionChanged struct {
	Target    Target
	Port      string
	Connected bool
}

// ProgressUpdated reports capture progress in whole percent (1..100).
type ProgressUpdated struct {
	Percent int
}

// ConfigProgress reports camera-configuration progress in whole percent.
type ConfigProgress struct {
	Percent int
}

// ConfigFinished is the terminal event of a camera-configuration job.
type ConfigFinished struct {
	OK    bool
	Error string
}

// LogLine is a human-readable progress line from a session or job.
type LogLine struct {
	Text string
}

// SessionFinished is the terminal event of a capture session.
type SessionFinished struct {
	OK        bool
	Error     string
	LeftPath  string
	RightPath string
}

// TriggerStateChanged reports the console trigger turning "ON" or "OFF".
type TriggerStateChanged struct {
	State string
}

// LaserStateChanged reports the laser being enabled or disabled.
type LaserStateChanged struct {
	On bool
}

// SafetyFailureChanged reports the safety-interlock latch transitioning.
// Status carries the raw SE/SO bytes formatted for display.
type SafetyFailureChanged struct {
	Failed bool
	Status string
}

// DeviceInfoReceived carries the firmware version and base58 device ID
// from an info query.
type DeviceInfoReceived struct {
	Target   Target
	Firmware string
	DeviceID string
}

// SensorTemperature carries an IMU die temperature reading in Celsius.
type SensorTemperature struct {
	Target Target
	DegC   float64
}

// SensorAccelerometer carries raw accelerometer axes.
type SensorAccelerometer struct {
	Target  Target
	X, Y, Z float64
}

// SensorGyroscope carries raw gyroscope axes.
type SensorGyroscope struct {
	Target  Target
	X, Y, Z float64
}

// RGBStateReceived reports the console RGB LED state.
type RGBStateReceived struct {
	State int
	Text  string
}

// TelemetryUpdated carries one converted poller reading.
type TelemetryUpdated struct {
	TECVoltage float64
	TECObjectC float64
	TECSinkC   float64
	Rail5V     float64
	Rail12V    float64
	LaserMA    float64
	FsyncCount uint32
	LsyncCount uint32
}

func (StateChanged) event()         {}
func (ConnectionChanged) event()    {}
func (ProgressUpdated) event()      {}
func (ConfigProgress) event()       {}
func (ConfigFinished) event()       {}
func (LogLine) event()              {}
func (SessionFinished) event()      {}
func (TriggerStateChanged) event()  {}
func (LaserStateChanged) event()    {}
func (SafetyFailureChanged) event() {}
func (DeviceInfoReceived) event()   {}
func (SensorTemperature) event()    {}
func (SensorAccelerometer) event()  {}
func (SensorGyroscope) event()      {}
func (RGBStateReceived) event()     {}
func (TelemetryUpdated) event()     {}

// eventBus fans events out to subscribers. Publishing never blocks: a
// subscriber that falls behind drops events rather than stalling the
// connector's workers.
type eventBus struct {
	mu          sync.Mutex
	subscribers map[string]chan Event
	closed      bool
}

const subscriberBuffer = 64

func newEventBus() *eventBus {
	return &eventBus{subscribers: make(map[string]chan Event)}
}

// Subscribe creates a new buffered event channel. The returned ID
// identifies the channel when unsubscribing.
func (b *eventBus) Subscribe() (string, <-chan Event) {
	id := uuid.NewString()
	ch := make(chan Event, subscriberBuffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes and closes a subscriber channel.
func (b *eventBus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subscribers[id]; ok {
		close(ch)
		delete(b.subscribers, id)
	}
}

// Publish delivers an event to every subscriber that has room.
func (b *eventBus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, ch := range b.subscribers {
		select {
		case ch <- ev:
		default:
			// skip rather than block the publishing worker
		}
	}
}

// Close closes all subscriber channels.
func (b *eventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for id, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, id)
	}
}
