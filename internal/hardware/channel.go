package hardware

// TECStatus is one reading of the thermoelectric cooler monitor. The
// two temperature channels are raw ADC counts from the resistor
// bridge; conversion to degrees lives in internal/thermal.
type TECStatus struct {
	VoltageV  float64 // commanded DAC voltage readback
	ObjectADC uint16  // object-side thermistor, raw counts
	SinkADC   uint16  // heat-sink thermistor, raw counts
}

// SensorChannel is the command surface of one sensor module. Camera
// masks are 8-bit with bit i selecting physical position i+1;
// position arguments are 1-based.
//
// Implementations are not required to be safe for concurrent use. The
// connector serializes access through that side's bus lock; every
// public connector entry point acquires the lock once and helpers
// assume it is held.
type SensorChannel interface {
	Connected() bool

	EnableCameras(mask byte) error
	DisableCameras(mask byte) error
	EnableExternalFrameSync() error

	ProgramFPGA(position int) error
	ConfigureRegisters(position int) error

	// StartStreaming begins pushing raw histogram bytes into sink.
	// expectedSize hints the device-side framing: the encoded size of
	// one packet for the enabled camera set.
	StartStreaming(sink chan<- []byte, expectedSize int) error
	StopStreaming() error

	IMUTemperature() (float64, error)
	Accelerometer() (x, y, z float64, err error)
	Gyroscope() (x, y, z float64, err error)

	Version() (string, error)
	HardwareID() (string, error) // hex string
	SoftReset() error
}

// ConsoleChannel is the command surface of the console module:
// trigger generation, laser power over I2C, safety interlock and
// thermal control. The same locking discipline as SensorChannel
// applies, on the console bus lock.
type ConsoleChannel interface {
	Connected() bool

	StartTrigger() error
	StopTrigger() error
	TriggerConfig() (string, error)   // JSON document
	SetTriggerConfig(js string) error // JSON document

	SetRGB(state int) error
	RGB() (int, error)

	ReadI2C(mux, channel int, addr, offset byte, length int) ([]byte, error)
	WriteI2C(mux, channel int, addr, offset byte, data []byte) error

	SetTECVoltage(volts float64) error
	TECStatus() (TECStatus, error)
	ReadPDU(channel int) (uint16, error)
	SetFanSpeed(percent int) error

	// FrameSyncCounts returns the frame-sync and laser-sync pulse
	// counters since trigger start.
	FrameSyncCounts() (fsync, lsync uint32, err error)

	Version() (string, error)
	HardwareID() (string, error) // hex string
	SoftReset() error
}
