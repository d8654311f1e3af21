package connector

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/mr-tron/base58"
)

func TestQuerySensorInfoEncodesDeviceID(t *testing.T) {
	rig := newTestRig(t)
	rig.left.HardwareIDHex = "00b1c2d3e4f5a697"

	rig.c.QuerySensorInfo(TargetSensorLeft)
	ev := waitEvent(t, rig.events, time.Second, func(ev Event) bool {
		_, ok := ev.(DeviceInfoReceived)
		return ok
	}).(DeviceInfoReceived)

	if ev.Target != TargetSensorLeft || ev.Firmware != "v1.4.0" {
		t.Errorf("unexpected info event: %+v", ev)
	}
	want := base58.Encode([]byte{0x00, 0xb1, 0xc2, 0xd3, 0xe4, 0xf5, 0xa6, 0x97})
	if ev.DeviceID != want {
		t.Errorf("DeviceID = %q, want %q", ev.DeviceID, want)
	}
}

func TestQueryConsoleInfo(t *testing.T) {
	rig := newTestRig(t)

	rig.c.QueryConsoleInfo()
	ev := waitEvent(t, rig.events, time.Second, func(ev Event) bool {
		di, ok := ev.(DeviceInfoReceived)
		return ok && di.Target == TargetConsole
	}).(DeviceInfoReceived)
	if ev.Firmware != "v2.1.3" || ev.DeviceID == "" {
		t.Errorf("unexpected console info: %+v", ev)
	}
}

func TestQueryRGBState(t *testing.T) {
	rig := newTestRig(t)
	rig.console.RGBState = 2

	rig.c.QueryRGBState()
	ev := waitEvent(t, rig.events, time.Second, func(ev Event) bool {
		_, ok := ev.(RGBStateReceived)
		return ok
	}).(RGBStateReceived)
	if ev.State != 2 || ev.Text != "IND2" {
		t.Errorf("RGB event = %+v, want state 2/IND2", ev)
	}
}

func TestSetRGBStateRejectsInvalid(t *testing.T) {
	rig := newTestRig(t)

	rig.c.SetRGBState(7)
	if n := countCalls(rig.console.CallsSnapshot(), "set_rgb 7"); n != 0 {
		t.Error("invalid RGB state reached the console")
	}

	rig.c.SetRGBState(3)
	if rig.console.RGBState != 3 {
		t.Errorf("RGB state = %d, want 3", rig.console.RGBState)
	}
}

func TestQueryTriggerConfigUpdatesState(t *testing.T) {
	rig := newTestRig(t)

	rig.console.TriggerJSON = `{"TriggerStatus":2,"TriggerFrequencyHz":40}`
	if cfg := rig.c.QueryTriggerConfig(); cfg == "" {
		t.Fatal("empty trigger config")
	}
	if got := rig.c.TriggerState(); got != "ON" {
		t.Errorf("trigger state = %q, want ON", got)
	}

	rig.console.TriggerJSON = `{"TriggerStatus":0,"TriggerFrequencyHz":40}`
	rig.c.QueryTriggerConfig()
	if got := rig.c.TriggerState(); got != "OFF" {
		t.Errorf("trigger state = %q, want OFF", got)
	}
}

func TestSetTriggerRejectsBadJSON(t *testing.T) {
	rig := newTestRig(t)

	if rig.c.SetTrigger("{not json") {
		t.Error("malformed trigger JSON accepted")
	}
	if !rig.c.SetTrigger(`{"TriggerFrequencyHz":80}`) {
		t.Error("valid trigger JSON rejected")
	}
	if rig.console.TriggerJSON != `{"TriggerFrequencyHz":80}` {
		t.Errorf("trigger config not applied: %q", rig.console.TriggerJSON)
	}
}

func TestStartStopTrigger(t *testing.T) {
	rig := newTestRig(t)

	if !rig.c.StartTrigger() {
		t.Fatal("StartTrigger failed")
	}
	if got := rig.c.TriggerState(); got != "ON" {
		t.Errorf("trigger state = %q, want ON", got)
	}
	rig.c.StopTrigger()
	if got := rig.c.TriggerState(); got != "OFF" {
		t.Errorf("trigger state = %q, want OFF", got)
	}
}

func TestSetLaserPowerFromConfig(t *testing.T) {
	rig := newTestRig(t)
	path := filepath.Join(t.TempDir(), "laser_params.json")
	doc := `[
		{"muxIdx":0,"channel":2,"i2cAddr":65,"offset":16,"dataToSend":[1,128]},
		{"muxIdx":0,"channel":3,"i2cAddr":65,"offset":16,"dataToSend":[1,128]}
	]`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	params, err := LoadLaserParams(path)
	if err != nil {
		t.Fatalf("failed to load laser params: %v", err)
	}
	rig.c.laserParams = params

	if !rig.c.SetLaserPowerFromConfig() {
		t.Fatal("SetLaserPowerFromConfig failed")
	}
	if len(rig.console.Writes) != 2 {
		t.Fatalf("got %d I2C writes, want 2", len(rig.console.Writes))
	}
	w := rig.console.Writes[0]
	if w.Mux != 0 || w.Channel != 2 || w.Addr != 0x41 || w.Offset != 0x10 {
		t.Errorf("unexpected write target: %+v", w)
	}
	if diff := cmp.Diff([]byte{0x01, 0x80}, w.Data); diff != "" {
		t.Errorf("write payload mismatch (-want +got):\n%s", diff)
	}
	if !rig.c.LaserOn() {
		t.Error("laser state not set after applying config")
	}
}

func TestLoadLaserParamsRejectsNonJSON(t *testing.T) {
	if _, err := LoadLaserParams("laser_params.txt"); err == nil {
		t.Error("non-.json path accepted")
	}
}

func writeScanFixture(t *testing.T, dir, scanID, maskHex, notes string) {
	t.Helper()
	for _, name := range []string{
		"scan_" + scanID + "_left_mask" + maskHex + ".csv",
		"scan_" + scanID + "_right_mask" + maskHex + ".csv",
	} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("cam_id\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "scan_"+scanID+"_notes.txt"), []byte(notes), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestScanListSortedByTimestamp(t *testing.T) {
	rig := newTestRig(t)
	writeScanFixture(t, rig.dataDir, "owAAAAAA_20250808_120740", "05", "first\n")
	writeScanFixture(t, rig.dataDir, "owBBBBBB_20250809_083015", "1F", "second\n")

	got := rig.c.ScanList()
	want := []string{"owBBBBBB_20250809_083015", "owAAAAAA_20250808_120740"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("scan list mismatch (-want +got):\n%s", diff)
	}
}

func TestScanDetails(t *testing.T) {
	rig := newTestRig(t)
	writeScanFixture(t, rig.dataDir, "owAAAAAA_20250808_120740", "05", "resting baseline\n")

	details, ok := rig.c.ScanDetailsFor("owAAAAAA_20250808_120740")
	if !ok {
		t.Fatal("scan not found")
	}
	if details.SubjectID != "owAAAAAA" || details.Timestamp != "20250808_120740" {
		t.Errorf("parsed ID fields: %+v", details)
	}
	if details.MaskHex != "05" {
		t.Errorf("MaskHex = %q, want 05", details.MaskHex)
	}
	if details.LeftPath == "" || details.RightPath == "" {
		t.Errorf("missing side paths: %+v", details)
	}
	if details.Notes != "resting baseline\n" {
		t.Errorf("Notes = %q", details.Notes)
	}

	if _, ok := rig.c.ScanDetailsFor("garbage"); ok {
		t.Error("malformed scan ID accepted")
	}
}
