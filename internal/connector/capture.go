package connector

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lucerna-optics/flowscan/internal/hardware"
	"github.com/lucerna-optics/flowscan/internal/histo"
	"github.com/lucerna-optics/flowscan/internal/security"
	"github.com/lucerna-optics/flowscan/internal/stream"
)

const (
	captureProgressTick = 200 * time.Millisecond
	writerJoinTimeout   = 5 * time.Second
	streamBufferDepth   = 64
)

// captureGuard holds the single-active-session state. The active flag
// is the check-and-set gate; stop is the cooperative cancel flag of the
// session in flight.
type captureGuard struct {
	active atomic.Bool
	mu     sync.Mutex
	stop   *atomic.Bool
}

type captureSide struct {
	side   hardware.Side
	sensor hardware.SensorChannel
	mask   byte
	path   string
	sink   chan []byte
	writer *stream.Writer
}

// StartCapture begins a capture session asynchronously. It returns true
// if the session was started; false if one is already active, the data
// directory cannot be created, or no side has both a non-zero mask and
// a connected sensor.
func (c *Connector) StartCapture(subjectID string, durationSec int, leftMask, rightMask byte, dataDir string, disableLaser bool) bool {
	Logf("[connector] startCapture(subject=%s, dur=%ds, left=0x%02X, right=0x%02X, dir=%s, disableLaser=%v)",
		subjectID, durationSec, leftMask, rightMask, dataDir, disableLaser)

	if c.capture.active.Load() {
		c.logLine("Capture already running.")
		return false
	}
	subjectID = security.SanitizeIdentifier(subjectID)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		c.logLine("Failed to create data dir: %v", err)
		return false
	}

	masks := map[hardware.Side]byte{
		hardware.SideLeft:  leftMask,
		hardware.SideRight: rightMask,
	}
	var sides []*captureSide
	for _, side := range hardware.Sides() {
		mask := masks[side]
		if mask == 0 || !c.sensorConnected(side) {
			continue
		}
		sides = append(sides, &captureSide{side: side, sensor: c.sensors[side], mask: mask})
	}
	if len(sides) == 0 {
		c.logLine("No connected sensor with a non-empty camera mask.")
		return false
	}

	if !c.capture.active.CompareAndSwap(false, true) {
		c.logLine("Capture already running.")
		return false
	}

	stop := &atomic.Bool{}
	c.capture.mu.Lock()
	c.capture.stop = stop
	c.capture.mu.Unlock()

	Logf("[connector] capture worker starting")
	go c.runCapture(subjectID, durationSec, dataDir, disableLaser, sides, stop)
	return true
}

// StopCapture requests cancellation of the active session and stops the
// trigger immediately, best effort.
func (c *Connector) StopCapture() {
	if !c.capture.active.Load() {
		return
	}
	c.logLine("Cancel requested.")
	c.capture.mu.Lock()
	if c.capture.stop != nil {
		c.capture.stop.Store(true)
	}
	c.capture.mu.Unlock()

	_ = c.locks.WithConsole(func() error {
		if err := c.console.StopTrigger(); err != nil {
			Logf("[connector] stop trigger on cancel: %v", err)
		}
		return nil
	})
	c.setTriggerState("OFF")
}

func (c *Connector) runCapture(subjectID string, durationSec int, dataDir string, disableLaser bool, sides []*captureSide, stop *atomic.Bool) {
	var (
		ok        bool
		errMsg    string
		leftPath  string
		rightPath string
	)
	ts := timestampNow()
	notes := c.ScanNotes()

	sessionID := ""
	if c.runLog != nil {
		var left, right byte
		for _, cs := range sides {
			if cs.side == hardware.SideLeft {
				left = cs.mask
			} else {
				right = cs.mask
			}
		}
		id, err := c.runLog.StartSession(subjectID, durationSec, left, right, disableLaser)
		if err != nil {
			Logf("[connector] run log unavailable for session: %v", err)
		} else {
			sessionID = id
		}
	}
	record := func(line string) {
		c.logLine("%s", line)
		if sessionID != "" {
			if err := c.runLog.AppendLine(sessionID, line); err != nil {
				Logf("[connector] run log append: %v", err)
			}
		}
	}

	triggerStarted := false
	var started []*captureSide

	fail := func(msg string) {
		errMsg = msg
		record(msg)
	}

	record("Preparing capture...")

prepare:
	for _, cs := range sides {
		err := c.locks.WithSide(cs.side, func() error {
			if !disableLaser {
				record(fmt.Sprintf("[%s] Enabling external frame sync...", strings.ToUpper(string(cs.side))))
				if err := cs.sensor.EnableExternalFrameSync(); err != nil {
					return fmt.Errorf("Failed to enable external frame sync on %s: %v", cs.side, err)
				}
			}
			record(fmt.Sprintf("[%s] Enabling cameras (mask 0x%02X)...", strings.ToUpper(string(cs.side)), cs.mask))
			if err := cs.sensor.EnableCameras(cs.mask); err != nil {
				return fmt.Errorf("Failed to enable camera on %s: %v", cs.side, err)
			}
			return nil
		})
		if err != nil {
			fail(err.Error())
			break prepare
		}

		filename := fmt.Sprintf("scan_%s_%s_%s_mask%02X.csv", subjectID, ts, cs.side, cs.mask)
		cs.path = filepath.Join(dataDir, filename)
		cs.sink = make(chan []byte, streamBufferDepth)
		w, werr := stream.NewWriter(cs.path, cs.sink)
		if werr != nil {
			fail(fmt.Sprintf("Failed to open output file for %s: %v", cs.side, werr))
			break prepare
		}
		cs.writer = w
		go cs.writer.Run()

		expected := histo.PacketSize(hardware.CameraCount(cs.mask), false)
		if err := cs.sensor.StartStreaming(cs.sink, expected); err != nil {
			fail(fmt.Sprintf("Failed to start streaming on %s: %v", cs.side, err))
			break prepare
		}
		started = append(started, cs)
		if cs.side == hardware.SideLeft {
			leftPath = cs.path
		} else {
			rightPath = cs.path
		}
		record(fmt.Sprintf("[%s] Streaming to: %s", strings.ToUpper(string(cs.side)), filename))
	}

	if errMsg == "" {
		record("Starting trigger...")
		trigErr := c.locks.WithConsole(func() error {
			return c.console.StartTrigger()
		})
		if trigErr != nil {
			fail(fmt.Sprintf("Failed to start trigger: %v", trigErr))
		} else {
			triggerStarted = true
			c.setTriggerState("ON")
			if sessionID != "" {
				c.recordSessionConfig(sessionID)
			}
		}
	}

	if errMsg == "" {
		start := time.Now()
		duration := time.Duration(durationSec) * time.Second
		lastEmit := -1
		for !stop.Load() {
			elapsed := time.Since(start)
			pct := int(elapsed * 100 / maxDuration(duration, time.Second))
			if pct > 100 {
				pct = 100
			}
			if pct != lastEmit {
				emit := pct
				if emit < 1 {
					emit = 1
				}
				c.events.Publish(ProgressUpdated{Percent: emit})
				lastEmit = pct
			}
			if elapsed >= duration {
				break
			}
			time.Sleep(captureProgressTick)
		}
	}

	// teardown always runs, in fixed order: trigger, cameras, device
	// streaming, writers
	if triggerStarted {
		record("Stopping trigger...")
		_ = c.locks.WithConsole(func() error {
			if err := c.console.StopTrigger(); err != nil {
				Logf("[connector] stop trigger: %v", err)
			}
			return nil
		})
		c.setTriggerState("OFF")
	}

	for _, cs := range sides {
		_ = c.locks.WithSide(cs.side, func() error {
			if err := cs.sensor.DisableCameras(cs.mask); err != nil {
				record(fmt.Sprintf("Failed to disable camera on %s: %v", cs.side, err))
			}
			return nil
		})
	}

	for _, cs := range started {
		_ = c.locks.WithSide(cs.side, func() error {
			if err := cs.sensor.StopStreaming(); err != nil {
				record(fmt.Sprintf("stop_streaming[%s] error: %v", cs.side, err))
			}
			return nil
		})
	}

	for _, cs := range sides {
		if cs.writer == nil {
			continue
		}
		cs.writer.Cancel()
	}
	for _, cs := range sides {
		if cs.writer == nil {
			continue
		}
		if !cs.writer.Join(writerJoinTimeout) {
			record(fmt.Sprintf("Writer for %s did not stop in time.", cs.side))
		}
	}

	canceled := stop.Load()
	ok = errMsg == "" && !canceled
	if ok {
		record("Capture session complete.")
		notesPath := filepath.Join(dataDir, fmt.Sprintf("scan_%s_%s_notes.txt", subjectID, ts))
		if err := os.WriteFile(notesPath, []byte(strings.TrimSpace(notes)+"\n"), 0o644); err != nil {
			Logf("[connector] failed to save scan notes: %v", err)
		} else {
			Logf("[connector] saved scan notes to %s", notesPath)
		}
	} else if errMsg == "" {
		errMsg = "Capture canceled"
	}

	if sessionID != "" {
		if err := c.runLog.FinishSession(sessionID, ok, errMsg, leftPath, rightPath); err != nil {
			Logf("[connector] run log finish: %v", err)
		}
	}

	c.capture.mu.Lock()
	c.capture.stop = nil
	c.capture.mu.Unlock()
	c.capture.active.Store(false)
	c.events.Publish(SessionFinished{OK: ok, Error: errMsg, LeftPath: leftPath, RightPath: rightPath})
}

// recordSessionConfig snapshots device and laser configuration into the
// session run log.
func (c *Connector) recordSessionConfig(sessionID string) {
	var lines []string
	_ = c.locks.WithConsole(func() error {
		if v, err := c.console.Version(); err == nil {
			lines = append(lines, "Console firmware: "+v)
		}
		if cfg, err := c.console.TriggerConfig(); err == nil {
			lines = append(lines, "Trigger config: "+cfg)
		}
		if st, err := c.console.TECStatus(); err == nil {
			lines = append(lines, fmt.Sprintf("TEC voltage: %.3f V", st.VoltageV))
		}
		return nil
	})
	lines = append(lines, fmt.Sprintf("Laser parameter sets: %d", len(c.laserParams)))
	for _, line := range lines {
		if err := c.runLog.AppendLine(sessionID, line); err != nil {
			Logf("[connector] run log append: %v", err)
			return
		}
	}
}

func (c *Connector) setTriggerState(state string) {
	c.mu.Lock()
	changed := c.triggerState != state
	c.triggerState = state
	c.mu.Unlock()
	if changed {
		c.events.Publish(TriggerStateChanged{State: state})
	}
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}
