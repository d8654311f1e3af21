package connector

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/lucerna-optics/flowscan/internal/hardware"
	"github.com/lucerna-optics/flowscan/internal/runlog"
	"github.com/lucerna-optics/flowscan/internal/thermal"
)

func scriptSafety(console *hardware.MockConsole, se, so byte) {
	console.SetI2C(safetyMuxIdx, safetyChannelSE, safetyI2CAddr, safetyRegOffset, []byte{se})
	console.SetI2C(safetyMuxIdx, safetyChannelSO, safetyI2CAddr, safetyRegOffset, []byte{so})
}

func safetyEvents(evs []Event) []SafetyFailureChanged {
	var out []SafetyFailureChanged
	for _, ev := range evs {
		if sf, ok := ev.(SafetyFailureChanged); ok {
			out = append(out, sf)
		}
	}
	return out
}

func TestSafetyFaultFiresOnce(t *testing.T) {
	rig := newTestRig(t)
	p := newTelemetryPoller(rig.c)
	scriptSafety(rig.console, 0x01, 0x00)

	p.poll()
	evs := safetyEvents(drainEvents(rig.events))
	if len(evs) != 1 || !evs[0].Failed {
		t.Fatalf("expected one fault event, got %v", evs)
	}
	if evs[0].Status != "SE: 0x01, SO: 0x00" {
		t.Errorf("status text = %q", evs[0].Status)
	}
	if n := countCalls(rig.console.CallsSnapshot(), "stop_trigger"); n != 1 {
		t.Errorf("stop_trigger called %d times, want 1", n)
	}
	if !rig.c.SafetyFailure() {
		t.Error("safety latch not set")
	}

	// still faulted: the latch must not re-fire
	p.poll()
	if evs := safetyEvents(drainEvents(rig.events)); len(evs) != 0 {
		t.Errorf("repeated faulted read re-fired: %v", evs)
	}
	if n := countCalls(rig.console.CallsSnapshot(), "stop_trigger"); n != 1 {
		t.Errorf("stop_trigger called %d times after second poll, want 1", n)
	}
}

func TestSafetyLatchClearsAndRearms(t *testing.T) {
	rig := newTestRig(t)
	p := newTelemetryPoller(rig.c)

	scriptSafety(rig.console, 0x00, 0x02)
	p.poll()
	drainEvents(rig.events)

	scriptSafety(rig.console, 0x00, 0x00)
	p.poll()
	evs := safetyEvents(drainEvents(rig.events))
	if len(evs) != 1 || evs[0].Failed {
		t.Fatalf("expected one clear event, got %v", evs)
	}
	if rig.c.SafetyFailure() {
		t.Error("safety latch still set after clear")
	}

	// fault again after clearing: fires a second time
	scriptSafety(rig.console, 0x01, 0x00)
	p.poll()
	evs = safetyEvents(drainEvents(rig.events))
	if len(evs) != 1 || !evs[0].Failed {
		t.Fatalf("latch did not re-arm, got %v", evs)
	}
	if n := countCalls(rig.console.CallsSnapshot(), "stop_trigger"); n != 2 {
		t.Errorf("stop_trigger called %d times, want 2", n)
	}
}

// High nibbles are status flags, not faults.
func TestSafetyHighNibbleIgnored(t *testing.T) {
	rig := newTestRig(t)
	p := newTelemetryPoller(rig.c)
	scriptSafety(rig.console, 0xF0, 0xA0)

	p.poll()
	if evs := safetyEvents(drainEvents(rig.events)); len(evs) != 0 {
		t.Errorf("high nibble treated as fault: %v", evs)
	}
}

func TestSafetyReadErrorLeavesLatchUnchanged(t *testing.T) {
	rig := newTestRig(t)
	p := newTelemetryPoller(rig.c)

	// nothing scripted: both reads fail
	p.poll()
	if evs := safetyEvents(drainEvents(rig.events)); len(evs) != 0 {
		t.Errorf("read error produced safety events: %v", evs)
	}
	if rig.c.SafetyFailure() {
		t.Error("safety latch set by read error")
	}
}

func TestPollConvertsAndPublishesTelemetry(t *testing.T) {
	rig := newTestRig(t)
	p := newTelemetryPoller(rig.c)

	rig.console.TECReadback = hardware.TECStatus{VoltageV: 1.25, ObjectADC: 2048, SinkADC: 2048}
	rig.console.PDUValues = map[int]uint16{
		pduChannel5V:    3100,
		pduChannel12V:   3720,
		pduChannelLaser: 800,
	}
	rig.console.Fsync = 1200
	rig.console.Lsync = 1199
	scriptSafety(rig.console, 0x00, 0x00)

	p.poll()

	var got *TelemetryUpdated
	for _, ev := range drainEvents(rig.events) {
		if tu, ok := ev.(TelemetryUpdated); ok {
			got = &tu
		}
	}
	if got == nil {
		t.Fatal("no TelemetryUpdated published")
	}
	if got.TECVoltage != 1.25 {
		t.Errorf("TECVoltage = %v", got.TECVoltage)
	}
	if want := thermal.ThermistorC(2048); math.Abs(got.TECObjectC-want) > 1e-9 {
		t.Errorf("TECObjectC = %v, want %v", got.TECObjectC, want)
	}
	if want := thermal.RailVolts(3100); math.Abs(got.Rail5V-want) > 1e-9 {
		t.Errorf("Rail5V = %v, want %v", got.Rail5V, want)
	}
	if want := thermal.HighRailVolts(3720); math.Abs(got.Rail12V-want) > 1e-9 {
		t.Errorf("Rail12V = %v, want %v", got.Rail12V, want)
	}
	if want := thermal.LaserCurrentmA(800); got.LaserMA != want {
		t.Errorf("LaserMA = %v, want %v", got.LaserMA, want)
	}
	if got.FsyncCount != 1200 || got.LsyncCount != 1199 {
		t.Errorf("sync counts = %d/%d", got.FsyncCount, got.LsyncCount)
	}
}

func TestPollRecordsToRunLog(t *testing.T) {
	store, err := runlog.Open(filepath.Join(t.TempDir(), "runlog.db"))
	if err != nil {
		t.Fatalf("failed to open run log: %v", err)
	}
	defer store.Close()

	console := hardware.NewMockConsole()
	c, err := New(Options{
		Console: console,
		Sensors: map[hardware.Side]hardware.SensorChannel{},
		RunLog:  store,
		DataDir: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("failed to build connector: %v", err)
	}
	defer c.Shutdown()

	scriptSafety(console, 0x00, 0x00)
	p := newTelemetryPoller(c)
	p.poll()
	p.poll()

	var count int
	if err := store.QueryRow(`SELECT COUNT(*) FROM telemetry`).Scan(&count); err != nil {
		t.Fatalf("failed to count telemetry rows: %v", err)
	}
	if count != 2 {
		t.Errorf("telemetry rows = %d, want 2", count)
	}
}
