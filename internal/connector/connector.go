// Package connector is the control core of the flowscan instrument. It
// tracks device connectivity, sequences capture sessions and camera
// configuration jobs over the console and sensor channels, and runs the
// background telemetry/safety poller. UI layers drive it through its
// exported methods and observe it through the event bus.
package connector

import (
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/lucerna-optics/flowscan/internal/hardware"
	"github.com/lucerna-optics/flowscan/internal/runlog"
)

// Logf is the logging function used by the connector. Tests can replace
// it to silence or capture output.
var Logf = log.Printf

// State is the connector's connectivity/readiness state.
type State int

const (
	StateDisconnected State = iota
	StateSensorConnected
	StateConsoleConnected
	StateReady
	StateRunning
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateSensorConnected:
		return "SENSOR_CONNECTED"
	case StateConsoleConnected:
		return "CONSOLE_CONNECTED"
	case StateReady:
		return "READY"
	case StateRunning:
		return "RUNNING"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Target identifies one of the three device channels.
type Target string

const (
	TargetConsole     Target = "CONSOLE"
	TargetSensorLeft  Target = "SENSOR_LEFT"
	TargetSensorRight Target = "SENSOR_RIGHT"
)

// SideTarget maps a sensor side to its target descriptor.
func SideTarget(side hardware.Side) Target {
	if side == hardware.SideLeft {
		return TargetSensorLeft
	}
	return TargetSensorRight
}

// Defaults applied when the console connects.
const (
	defaultTECVoltage = 1.25
	defaultFanPercent = 60
)

// Options configures a Connector.
type Options struct {
	Console hardware.ConsoleChannel
	Sensors map[hardware.Side]hardware.SensorChannel

	// RunLog is optional; when nil, session history and telemetry are
	// not persisted.
	RunLog *runlog.Store

	// DataDir is the default output directory for scan files. Created
	// on construction if missing.
	DataDir string

	// LaserParamsPath points at the laser power configuration JSON.
	// Optional; when empty no laser parameters are loaded.
	LaserParamsPath string
}

// Connector coordinates the console and sensor channels. One instance
// owns the three hardware locks, the event bus, and at most one active
// capture session and one active configuration job.
type Connector struct {
	console hardware.ConsoleChannel
	sensors map[hardware.Side]hardware.SensorChannel
	locks   *hardware.Locks
	events  *eventBus
	runLog  *runlog.Store

	laserParams []LaserParam

	mu               sync.Mutex
	state            State
	consoleConnected bool
	leftConnected    bool
	rightConnected   bool
	running          bool
	laserOn          bool
	safetyFailure    bool
	triggerState     string
	subjectID        string
	directory        string
	scanNotes        string

	capture captureGuard
	config  configGuard
	poller  *telemetryPoller
}

// New builds a Connector over the given hardware channels.
func New(opts Options) (*Connector, error) {
	dir := opts.DataDir
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve working directory: %w", err)
		}
		dir = filepath.Join(wd, "scan_data")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", dir, err)
	}

	c := &Connector{
		console:      opts.Console,
		sensors:      opts.Sensors,
		locks:        &hardware.Locks{},
		events:       newEventBus(),
		runLog:       opts.RunLog,
		state:        StateDisconnected,
		triggerState: "OFF",
		directory:    dir,
		subjectID:    generateSubjectID(),
	}
	if c.sensors == nil {
		c.sensors = make(map[hardware.Side]hardware.SensorChannel)
	}
	Logf("[connector] default directory initialized to %s", dir)
	Logf("[connector] generated subject ID %s", c.subjectID)

	if opts.LaserParamsPath != "" {
		params, err := LoadLaserParams(opts.LaserParamsPath)
		if err != nil {
			Logf("[connector] laser params unavailable: %v", err)
		} else {
			c.laserParams = params
		}
	}
	return c, nil
}

// Subscribe registers an event channel; see eventBus.Subscribe.
func (c *Connector) Subscribe() (string, <-chan Event) {
	return c.events.Subscribe()
}

// Unsubscribe removes an event channel.
func (c *Connector) Unsubscribe(id string) {
	c.events.Unsubscribe(id)
}

// Shutdown stops any in-flight session, the poller, and the event bus.
func (c *Connector) Shutdown() {
	Logf("[connector] shutting down")
	c.StopCapture()
	c.CancelConfigureCameraSensors()
	c.mu.Lock()
	poller := c.poller
	c.poller = nil
	c.mu.Unlock()
	if poller != nil {
		poller.Stop()
	}
	c.events.Close()
}

// OnConnected handles a device connection notification from the
// transport layer. The left-sensor branch intentionally does not join
// the exclusive chain below it; this mirrors long-standing instrument
// behavior that downstream tooling depends on.
func (c *Connector) OnConnected(target Target, port string) {
	Logf("[connector] device connected: %s on %s", target, port)
	c.mu.Lock()
	startPoller := false
	if target == TargetSensorLeft {
		c.leftConnected = true
	}
	if target == TargetSensorRight {
		c.rightConnected = true
	} else if target == TargetConsole {
		c.consoleConnected = true
		startPoller = c.poller == nil
	}
	c.updateStateLocked()
	c.mu.Unlock()

	c.events.Publish(ConnectionChanged{Target: target, Port: port, Connected: true})

	if startPoller {
		c.applyConsoleDefaults()
		c.startPoller()
	}
}

// OnDisconnected handles a device disconnection notification.
func (c *Connector) OnDisconnected(target Target, port string) {
	Logf("[connector] device disconnected: %s on %s", target, port)
	c.mu.Lock()
	var poller *telemetryPoller
	if target == TargetSensorLeft {
		c.leftConnected = false
	} else if target == TargetSensorRight {
		c.rightConnected = false
	} else if target == TargetConsole {
		c.consoleConnected = false
		poller = c.poller
		c.poller = nil
	}
	c.updateStateLocked()
	c.mu.Unlock()

	c.events.Publish(ConnectionChanged{Target: target, Port: port, Connected: false})

	if poller != nil {
		poller.Stop()
	}
}

// RefreshConnections re-reads connectivity from the channels and
// recomputes the state.
func (c *Connector) RefreshConnections() {
	console := c.console != nil && c.console.Connected()
	left := c.sensorConnected(hardware.SideLeft)
	right := c.sensorConnected(hardware.SideRight)
	Logf("[connector] connection status: console=%v left=%v right=%v", console, left, right)

	c.mu.Lock()
	changed := c.consoleConnected != console || c.leftConnected != left || c.rightConnected != right
	c.consoleConnected = console
	c.leftConnected = left
	c.rightConnected = right
	c.updateStateLocked()
	c.mu.Unlock()

	if changed {
		c.events.Publish(ConnectionChanged{Target: TargetConsole, Port: "", Connected: console})
	}
}

// updateStateLocked recomputes the state from the connection flags.
// Callers hold c.mu. The conditions are evaluated in fixed priority
// order; every recompute publishes exactly one StateChanged.
func (c *Connector) updateStateLocked() {
	switch {
	case !c.consoleConnected && (!c.leftConnected || !c.rightConnected):
		c.state = StateDisconnected
	case c.leftConnected && !c.consoleConnected:
		c.state = StateSensorConnected
	case c.consoleConnected && !c.leftConnected:
		c.state = StateConsoleConnected
	case c.consoleConnected && c.leftConnected:
		c.state = StateReady
	case c.consoleConnected && c.leftConnected && c.running:
		c.state = StateRunning
	}
	state := c.state
	Logf("[connector] state: %s", state)
	// publish without holding the bus behind c.mu ordering concerns;
	// the bus has its own lock and never calls back into the connector
	c.events.Publish(StateChanged{State: state})
}

// applyConsoleDefaults pushes the default TEC voltage and fan speed to
// a freshly connected console.
func (c *Connector) applyConsoleDefaults() {
	_ = c.locks.WithConsole(func() error {
		if err := c.console.SetTECVoltage(defaultTECVoltage); err != nil {
			Logf("[connector] failed to set default TEC voltage: %v", err)
		}
		if err := c.console.SetFanSpeed(defaultFanPercent); err != nil {
			Logf("[connector] failed to set default fan speed: %v", err)
		}
		return nil
	})
}

func (c *Connector) startPoller() {
	p := newTelemetryPoller(c)
	c.mu.Lock()
	c.poller = p
	c.mu.Unlock()
	p.Start()
}

func (c *Connector) sensorConnected(side hardware.Side) bool {
	s, ok := c.sensors[side]
	return ok && s != nil && s.Connected()
}

// State returns the current connectivity state.
func (c *Connector) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// TriggerState returns "ON" or "OFF".
func (c *Connector) TriggerState() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.triggerState
}

// SafetyFailure reports whether the safety latch is currently set.
func (c *Connector) SafetyFailure() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.safetyFailure
}

// LaserOn reports whether the laser is currently considered enabled.
func (c *Connector) LaserOn() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.laserOn
}

const subjectIDAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func generateSubjectID() string {
	b := make([]byte, 6)
	for i := range b {
		b[i] = subjectIDAlphabet[rand.Intn(len(subjectIDAlphabet))]
	}
	return "ow" + string(b)
}

// SubjectID returns the current subject identifier.
func (c *Connector) SubjectID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subjectID
}

// SetSubjectID normalizes value to "ow" plus uppercase alphanumerics
// and stores it. Empty values are ignored.
func (c *Connector) SetSubjectID(value string) {
	if value == "" {
		return
	}
	rest := strings.TrimPrefix(value, "ow")
	var b strings.Builder
	for _, ch := range strings.ToUpper(rest) {
		if (ch >= 'A' && ch <= 'Z') || (ch >= '0' && ch <= '9') {
			b.WriteRune(ch)
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subjectID = "ow" + b.String()
}

// Directory returns the default scan output directory.
func (c *Connector) Directory() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.directory
}

// SetDirectory changes the default scan output directory.
func (c *Connector) SetDirectory(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.directory = path
	Logf("[connector] default directory set to %s", path)
}

// ScanNotes returns the notes attached to the next scan.
func (c *Connector) ScanNotes() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scanNotes
}

// SetScanNotes replaces the notes attached to the next scan.
func (c *Connector) SetScanNotes(value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scanNotes = value
}

func (c *Connector) logLine(format string, args ...interface{}) {
	text := fmt.Sprintf(format, args...)
	Logf("[connector] %s", text)
	c.events.Publish(LogLine{Text: text})
}

func timestampNow() string {
	return time.Now().Format("20060102_150405")
}
