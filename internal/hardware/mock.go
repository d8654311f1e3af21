package hardware

import (
	"errors"
	"fmt"
	"sync"
)

// ErrNotConnected is returned by mock channels when driven while
// disconnected.
var ErrNotConnected = errors.New("device not connected")

// MockSensor implements SensorChannel with scriptable failures and
// full call recording. Exported fields may be set before use, or
// between calls while no connector goroutine is driving the mock.
type MockSensor struct {
	mu sync.Mutex

	// ConnectedState reports Connected.
	ConnectedState bool

	// Scripted failures, nil/empty means success.
	EnableErr        error
	DisableErr       error
	FrameSyncErr     error
	StreamErr        error
	FPGAFailures     map[int]bool // 1-based position -> fail
	RegisterFailures map[int]bool // 1-based position -> fail

	// Telemetry readbacks.
	IMUTempC        float64
	Accel           [3]float64
	Gyro            [3]float64
	FirmwareVersion string
	HardwareIDHex   string

	// Calls records every operation in invocation order.
	Calls []string

	sink      chan<- []byte
	streaming bool
}

// NewMockSensor returns a connected mock with benign defaults.
func NewMockSensor() *MockSensor {
	return &MockSensor{
		ConnectedState:  true,
		IMUTempC:        33.0,
		FirmwareVersion: "v1.4.0",
		HardwareIDHex:   "00b1c2d3e4f5a697",
	}
}

func (m *MockSensor) record(format string, v ...interface{}) {
	m.Calls = append(m.Calls, fmt.Sprintf(format, v...))
}

func (m *MockSensor) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ConnectedState
}

func (m *MockSensor) EnableCameras(mask byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("enable_cameras 0x%02X", mask)
	return m.EnableErr
}

func (m *MockSensor) DisableCameras(mask byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("disable_cameras 0x%02X", mask)
	return m.DisableErr
}

func (m *MockSensor) EnableExternalFrameSync() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("enable_frame_sync_ext")
	return m.FrameSyncErr
}

func (m *MockSensor) ProgramFPGA(position int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("program_fpga %d", position)
	if m.FPGAFailures[position] {
		return fmt.Errorf("fpga bitstream rejected at position %d", position)
	}
	return nil
}

func (m *MockSensor) ConfigureRegisters(position int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("configure_registers %d", position)
	if m.RegisterFailures[position] {
		return fmt.Errorf("register write failed at position %d", position)
	}
	return nil
}

func (m *MockSensor) StartStreaming(sink chan<- []byte, expectedSize int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("start_streaming %d", expectedSize)
	if m.StreamErr != nil {
		return m.StreamErr
	}
	m.sink = sink
	m.streaming = true
	return nil
}

func (m *MockSensor) StopStreaming() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("stop_streaming")
	m.streaming = false
	m.sink = nil
	return nil
}

// Push feeds raw bytes into the active stream sink. It reports false
// when streaming is not active or the sink is full.
func (m *MockSensor) Push(data []byte) bool {
	m.mu.Lock()
	sink, active := m.sink, m.streaming
	m.mu.Unlock()
	if !active || sink == nil {
		return false
	}
	select {
	case sink <- data:
		return true
	default:
		return false
	}
}

// Streaming reports whether StartStreaming is active.
func (m *MockSensor) Streaming() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.streaming
}

func (m *MockSensor) IMUTemperature() (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("imu_temperature")
	if !m.ConnectedState {
		return 0, ErrNotConnected
	}
	return m.IMUTempC, nil
}

func (m *MockSensor) Accelerometer() (float64, float64, float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("accelerometer")
	return m.Accel[0], m.Accel[1], m.Accel[2], nil
}

func (m *MockSensor) Gyroscope() (float64, float64, float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("gyroscope")
	return m.Gyro[0], m.Gyro[1], m.Gyro[2], nil
}

func (m *MockSensor) Version() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("version")
	return m.FirmwareVersion, nil
}

func (m *MockSensor) HardwareID() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("hardware_id")
	return m.HardwareIDHex, nil
}

func (m *MockSensor) SoftReset() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("soft_reset")
	return nil
}

// CallsSnapshot returns a copy of the recorded call log.
func (m *MockSensor) CallsSnapshot() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.Calls...)
}

// i2cKey identifies one I2C register window on the console mux tree.
type i2cKey struct {
	mux, channel int
	addr, offset byte
}

// I2CWrite records one WriteI2C transaction.
type I2CWrite struct {
	Mux, Channel int
	Addr, Offset byte
	Data         []byte
}

// MockConsole implements ConsoleChannel with scriptable failures,
// register backing for I2C reads and full call recording.
type MockConsole struct {
	mu sync.Mutex

	ConnectedState bool

	StartTriggerErr error
	StopTriggerErr  error
	TriggerActive   bool
	TriggerJSON     string

	RGBState int

	TECVoltage  float64
	TECReadback TECStatus
	TECErr      error
	PDUValues   map[int]uint16
	FanPercent  int

	Fsync, Lsync uint32
	FsyncErr     error

	FirmwareVersion string
	HardwareIDHex   string

	Calls  []string
	Writes []I2CWrite

	regs map[i2cKey][]byte
}

// NewMockConsole returns a connected mock with benign defaults.
func NewMockConsole() *MockConsole {
	return &MockConsole{
		ConnectedState:  true,
		TriggerJSON:     `{"TriggerStatus":0,"TriggerFrequencyHz":40}`,
		PDUValues:       map[int]uint16{},
		FirmwareVersion: "v2.1.3",
		HardwareIDHex:   "1a2b3c4d5e6f7081",
		regs:            map[i2cKey][]byte{},
	}
}

func (m *MockConsole) record(format string, v ...interface{}) {
	m.Calls = append(m.Calls, fmt.Sprintf(format, v...))
}

func (m *MockConsole) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ConnectedState
}

func (m *MockConsole) StartTrigger() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("start_trigger")
	if m.StartTriggerErr != nil {
		return m.StartTriggerErr
	}
	m.TriggerActive = true
	return nil
}

func (m *MockConsole) StopTrigger() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("stop_trigger")
	if m.StopTriggerErr != nil {
		return m.StopTriggerErr
	}
	m.TriggerActive = false
	return nil
}

func (m *MockConsole) TriggerConfig() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("trigger_config")
	return m.TriggerJSON, nil
}

func (m *MockConsole) SetTriggerConfig(js string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("set_trigger_config")
	m.TriggerJSON = js
	return nil
}

func (m *MockConsole) SetRGB(state int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("set_rgb %d", state)
	m.RGBState = state
	return nil
}

func (m *MockConsole) RGB() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("rgb")
	return m.RGBState, nil
}

// SetI2C scripts the bytes returned by subsequent ReadI2C calls on
// the given register window.
func (m *MockConsole) SetI2C(mux, channel int, addr, offset byte, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.regs[i2cKey{mux, channel, addr, offset}] = append([]byte(nil), data...)
}

func (m *MockConsole) ReadI2C(mux, channel int, addr, offset byte, length int) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("read_i2c %d/%d 0x%02X@0x%02X len=%d", mux, channel, addr, offset, length)
	data, ok := m.regs[i2cKey{mux, channel, addr, offset}]
	if !ok {
		return nil, fmt.Errorf("i2c read failed: mux=%d channel=%d addr=0x%02X", mux, channel, addr)
	}
	if length > len(data) {
		length = len(data)
	}
	return append([]byte(nil), data[:length]...), nil
}

func (m *MockConsole) WriteI2C(mux, channel int, addr, offset byte, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("write_i2c %d/%d 0x%02X@0x%02X len=%d", mux, channel, addr, offset, len(data))
	m.Writes = append(m.Writes, I2CWrite{mux, channel, addr, offset, append([]byte(nil), data...)})
	return nil
}

func (m *MockConsole) SetTECVoltage(volts float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("set_tec_voltage %.3f", volts)
	m.TECVoltage = volts
	return nil
}

func (m *MockConsole) TECStatus() (TECStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("tec_status")
	if m.TECErr != nil {
		return TECStatus{}, m.TECErr
	}
	return m.TECReadback, nil
}

func (m *MockConsole) ReadPDU(channel int) (uint16, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("read_pdu %d", channel)
	return m.PDUValues[channel], nil
}

func (m *MockConsole) SetFanSpeed(percent int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("set_fan_speed %d", percent)
	m.FanPercent = percent
	return nil
}

func (m *MockConsole) FrameSyncCounts() (uint32, uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("frame_sync_counts")
	if m.FsyncErr != nil {
		return 0, 0, m.FsyncErr
	}
	return m.Fsync, m.Lsync, nil
}

func (m *MockConsole) Version() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("version")
	return m.FirmwareVersion, nil
}

func (m *MockConsole) HardwareID() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("hardware_id")
	return m.HardwareIDHex, nil
}

func (m *MockConsole) SoftReset() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("soft_reset")
	return nil
}

// CallsSnapshot returns a copy of the recorded call log.
func (m *MockConsole) CallsSnapshot() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.Calls...)
}
