package connector

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/mr-tron/base58"

	"github.com/lucerna-optics/flowscan/internal/hardware"
)

func (c *Connector) sensorForTarget(target Target) (hardware.SensorChannel, hardware.Side, bool) {
	switch target {
	case TargetSensorLeft:
		return c.sensors[hardware.SideLeft], hardware.SideLeft, c.sensors[hardware.SideLeft] != nil
	case TargetSensorRight:
		return c.sensors[hardware.SideRight], hardware.SideRight, c.sensors[hardware.SideRight] != nil
	default:
		return nil, "", false
	}
}

// deviceID converts a hex hardware ID to its base58 display form.
func deviceID(hwID string) (string, error) {
	raw, err := hex.DecodeString(hwID)
	if err != nil {
		return "", fmt.Errorf("invalid hardware ID %q: %w", hwID, err)
	}
	return base58.Encode(raw), nil
}

// QuerySensorInfo fetches a sensor's firmware version and hardware ID
// and publishes them as a DeviceInfoReceived event.
func (c *Connector) QuerySensorInfo(target Target) {
	sensor, side, ok := c.sensorForTarget(target)
	if !ok {
		Logf("[connector] invalid target for sensor info query: %s", target)
		return
	}
	var fw, hwID string
	err := c.locks.WithSide(side, func() error {
		var err error
		if fw, err = sensor.Version(); err != nil {
			return err
		}
		hwID, err = sensor.HardwareID()
		return err
	})
	if err != nil {
		Logf("[connector] error querying device info: %v", err)
		return
	}
	id, err := deviceID(hwID)
	if err != nil {
		Logf("[connector] error querying device info: %v", err)
		return
	}
	Logf("[connector] sensor device info: firmware=%s deviceID=%s", fw, id)
	c.events.Publish(DeviceInfoReceived{Target: target, Firmware: fw, DeviceID: id})
}

// QueryConsoleInfo fetches the console's firmware version and hardware
// ID and publishes them as a DeviceInfoReceived event.
func (c *Connector) QueryConsoleInfo() {
	var fw, hwID string
	err := c.locks.WithConsole(func() error {
		var err error
		if fw, err = c.console.Version(); err != nil {
			return err
		}
		hwID, err = c.console.HardwareID()
		return err
	})
	if err != nil {
		Logf("[connector] error querying device info: %v", err)
		return
	}
	id, err := deviceID(hwID)
	if err != nil {
		Logf("[connector] error querying device info: %v", err)
		return
	}
	Logf("[connector] console device info: firmware=%s deviceID=%s", fw, id)
	c.events.Publish(DeviceInfoReceived{Target: TargetConsole, Firmware: fw, DeviceID: id})
}

// QuerySensorTemperature fetches a sensor's IMU die temperature.
func (c *Connector) QuerySensorTemperature(target Target) {
	sensor, side, ok := c.sensorForTarget(target)
	if !ok {
		Logf("[connector] invalid target for temperature query: %s", target)
		return
	}
	var degC float64
	err := c.locks.WithSide(side, func() error {
		var err error
		degC, err = sensor.IMUTemperature()
		return err
	})
	if err != nil {
		Logf("[connector] error querying temperature: %v", err)
		return
	}
	Logf("[connector] IMU temperature: %.2f C", degC)
	c.events.Publish(SensorTemperature{Target: target, DegC: degC})
}

// QuerySensorAccelerometer fetches a sensor's raw accelerometer axes.
func (c *Connector) QuerySensorAccelerometer(target Target) {
	sensor, side, ok := c.sensorForTarget(target)
	if !ok {
		Logf("[connector] invalid target for accelerometer query: %s", target)
		return
	}
	var x, y, z float64
	err := c.locks.WithSide(side, func() error {
		var err error
		x, y, z, err = sensor.Accelerometer()
		return err
	})
	if err != nil {
		Logf("[connector] error querying accelerometer: %v", err)
		return
	}
	Logf("[connector] accel (raw): X=%v Y=%v Z=%v", x, y, z)
	c.events.Publish(SensorAccelerometer{Target: target, X: x, Y: y, Z: z})
}

// QuerySensorGyroscope fetches raw gyroscope axes. Only the left
// sensor carries the gyroscope the instrument reads.
func (c *Connector) QuerySensorGyroscope() {
	sensor := c.sensors[hardware.SideLeft]
	if sensor == nil {
		Logf("[connector] no left sensor for gyroscope query")
		return
	}
	var x, y, z float64
	err := c.locks.WithSide(hardware.SideLeft, func() error {
		var err error
		x, y, z, err = sensor.Gyroscope()
		return err
	})
	if err != nil {
		Logf("[connector] error querying gyroscope: %v", err)
		return
	}
	Logf("[connector] gyro (raw): X=%v Y=%v Z=%v", x, y, z)
	c.events.Publish(SensorGyroscope{Target: TargetSensorLeft, X: x, Y: y, Z: z})
}

// rgbStateText maps LED states to their display names.
var rgbStateText = map[int]string{
	0: "Off",
	1: "IND1",
	2: "IND2",
	3: "IND3",
}

// SetRGBState sets the console RGB LED to one of the states 0..3.
func (c *Connector) SetRGBState(state int) {
	if _, ok := rgbStateText[state]; !ok {
		Logf("[connector] invalid RGB state value: %d", state)
		return
	}
	err := c.locks.WithConsole(func() error {
		return c.console.SetRGB(state)
	})
	if err != nil {
		Logf("[connector] failed to set RGB state to %d: %v", state, err)
		return
	}
	Logf("[connector] RGB state set to %d", state)
}

// QueryRGBState fetches the console RGB LED state and publishes it.
func (c *Connector) QueryRGBState() {
	var state int
	err := c.locks.WithConsole(func() error {
		var err error
		state, err = c.console.RGB()
		return err
	})
	if err != nil {
		Logf("[connector] error querying RGB state: %v", err)
		return
	}
	text, ok := rgbStateText[state]
	if !ok {
		text = "Unknown"
	}
	Logf("[connector] RGB state: %s", text)
	c.events.Publish(RGBStateReceived{State: state, Text: text})
}

// QueryTriggerConfig fetches the console trigger configuration JSON,
// updates the trigger state from its TriggerStatus field, and returns
// the raw document.
func (c *Connector) QueryTriggerConfig() string {
	var cfg string
	err := c.locks.WithConsole(func() error {
		var err error
		cfg, err = c.console.TriggerConfig()
		return err
	})
	if err != nil {
		Logf("[connector] error querying trigger config: %v", err)
		c.setTriggerState("OFF")
		return ""
	}

	var parsed struct {
		TriggerStatus int `json:"TriggerStatus"`
	}
	if cfg != "" && json.Unmarshal([]byte(cfg), &parsed) == nil && parsed.TriggerStatus == 2 {
		c.setTriggerState("ON")
	} else {
		c.setTriggerState("OFF")
	}
	return cfg
}

// SetTrigger applies a trigger configuration JSON document.
func (c *Connector) SetTrigger(triggerJSON string) bool {
	if !json.Valid([]byte(triggerJSON)) {
		Logf("[connector] failed to parse trigger JSON")
		return false
	}
	err := c.locks.WithConsole(func() error {
		return c.console.SetTriggerConfig(triggerJSON)
	})
	if err != nil {
		Logf("[connector] failed to set trigger setting: %v", err)
		return false
	}
	Logf("[connector] trigger setting applied")
	return true
}

// StartTrigger starts the console trigger outside of a capture session.
func (c *Connector) StartTrigger() bool {
	err := c.locks.WithConsole(func() error {
		return c.console.StartTrigger()
	})
	if err != nil {
		Logf("[connector] failed to start trigger: %v", err)
		return false
	}
	c.setTriggerState("ON")
	Logf("[connector] trigger started")
	return true
}

// StopTrigger stops the console trigger.
func (c *Connector) StopTrigger() {
	err := c.locks.WithConsole(func() error {
		return c.console.StopTrigger()
	})
	if err != nil {
		Logf("[connector] failed to stop trigger: %v", err)
	}
	c.setTriggerState("OFF")
	Logf("[connector] trigger stopped")
}

// SoftReset sends a soft reset to the given device.
func (c *Connector) SoftReset(target Target) {
	var err error
	if target == TargetConsole {
		err = c.locks.WithConsole(func() error {
			return c.console.SoftReset()
		})
	} else if sensor, side, ok := c.sensorForTarget(target); ok {
		err = c.locks.WithSide(side, func() error {
			return sensor.SoftReset()
		})
	} else {
		Logf("[connector] invalid target for soft reset: %s", target)
		return
	}
	if err != nil {
		Logf("[connector] failed to send soft reset: %v", err)
		return
	}
	Logf("[connector] soft reset sent to %s", target)
}
