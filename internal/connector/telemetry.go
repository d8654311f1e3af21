package connector

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/lucerna-optics/flowscan/internal/runlog"
	"github.com/lucerna-optics/flowscan/internal/thermal"
)

// Safety interlock and laser telemetry registers on the console I2C
// fabric. The interlock controller sits behind mux 1 with one channel
// per eye; a non-zero low nibble in either status byte is a fault.
const (
	safetyMuxIdx     = 1
	safetyChannelSE  = 6
	safetyChannelSO  = 7
	safetyI2CAddr    = 0x41
	safetyRegOffset  = 0x24
	laserTempChannel = 4
	laserMonChannel  = 5
	laserTempOffset  = 0x30
	laserMonOffset   = 0x32
)

// PDU monitor channel assignments.
const (
	pduChannel5V    = 0
	pduChannel12V   = 1
	pduChannelLaser = 2
)

const pollInterval = time.Second

// telemetryPoller reads console telemetry at ~1 Hz while the console is
// connected. Each hardware transaction takes the console lock on its
// own so foreground commands interleave between reads, and so the
// safety cutoff can stop the trigger without re-entering a held lock.
type telemetryPoller struct {
	c    *Connector
	stop chan struct{}
	done chan struct{}
}

func newTelemetryPoller(c *Connector) *telemetryPoller {
	return &telemetryPoller{
		c:    c,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

func (p *telemetryPoller) Start() {
	go p.run()
}

// Stop signals the poller and waits for the loop to exit.
func (p *telemetryPoller) Stop() {
	close(p.stop)
	<-p.done
}

func (p *telemetryPoller) run() {
	defer close(p.done)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.poll()
		}
	}
}

// poll performs one telemetry pass. Every read is independent: a
// failure is logged and the remaining reads still run.
func (p *telemetryPoller) poll() {
	c := p.c
	var reading runlog.Reading
	var ev TelemetryUpdated

	tecErr := c.locks.WithConsole(func() error {
		st, err := c.console.TECStatus()
		if err != nil {
			return err
		}
		reading.TECVoltage = st.VoltageV
		reading.TECObjectC = thermal.ThermistorC(st.ObjectADC)
		reading.TECSinkC = thermal.ThermistorC(st.SinkADC)
		return nil
	})
	if tecErr != nil {
		Logf("[telemetry] TEC status read failed: %v", tecErr)
	}

	var pduErr error
	_ = c.locks.WithConsole(func() error {
		if raw, err := c.console.ReadPDU(pduChannel5V); err != nil {
			pduErr = err
		} else {
			reading.Rail5V = thermal.RailVolts(raw)
		}
		if raw, err := c.console.ReadPDU(pduChannel12V); err != nil {
			pduErr = err
		} else {
			reading.Rail12V = thermal.HighRailVolts(raw)
		}
		if raw, err := c.console.ReadPDU(pduChannelLaser); err != nil {
			pduErr = err
		} else {
			reading.LaserMA = thermal.LaserCurrentmA(raw)
		}
		return nil
	})
	if pduErr != nil {
		Logf("[telemetry] PDU read failed: %v", pduErr)
	}

	p.readSafetyStatus(&reading)

	fsyncErr := c.locks.WithConsole(func() error {
		fsync, lsync, err := c.console.FrameSyncCounts()
		if err != nil {
			return err
		}
		reading.FsyncCount = fsync
		reading.LsyncCount = lsync
		return nil
	})
	if fsyncErr != nil {
		Logf("[telemetry] frame sync counter read failed: %v", fsyncErr)
	}

	_ = c.locks.WithConsole(func() error {
		if raw, err := c.console.ReadI2C(safetyMuxIdx, laserTempChannel, safetyI2CAddr, laserTempOffset, 2); err != nil {
			Logf("[telemetry] laser temperature read failed: %v", err)
		} else if len(raw) == 2 {
			reading.LaserTempRaw = binary.LittleEndian.Uint16(raw)
		}
		if raw, err := c.console.ReadI2C(safetyMuxIdx, laserMonChannel, safetyI2CAddr, laserMonOffset, 2); err != nil {
			Logf("[telemetry] laser monitor read failed: %v", err)
		} else if len(raw) == 2 {
			reading.LaserMonRaw = binary.LittleEndian.Uint16(raw)
		}
		return nil
	})

	if c.runLog != nil {
		if err := c.runLog.RecordTelemetry(reading); err != nil {
			Logf("[telemetry] record failed: %v", err)
		}
	}

	ev.TECVoltage = reading.TECVoltage
	ev.TECObjectC = reading.TECObjectC
	ev.TECSinkC = reading.TECSinkC
	ev.Rail5V = reading.Rail5V
	ev.Rail12V = reading.Rail12V
	ev.LaserMA = reading.LaserMA
	ev.FsyncCount = reading.FsyncCount
	ev.LsyncCount = reading.LsyncCount
	c.events.Publish(ev)
}

// readSafetyStatus reads the SE/SO interlock bytes and drives the
// edge-triggered safety latch: a fault transition stops the trigger and
// forces the laser off exactly once, and both nibbles must clear before
// it can fire again.
func (p *telemetryPoller) readSafetyStatus(reading *runlog.Reading) {
	c := p.c

	var se, so byte
	readErr := c.locks.WithConsole(func() error {
		for _, ch := range []struct {
			label   string
			channel int
			dst     *byte
		}{
			{"SE", safetyChannelSE, &se},
			{"SO", safetyChannelSO, &so},
		} {
			raw, err := c.console.ReadI2C(safetyMuxIdx, ch.channel, safetyI2CAddr, safetyRegOffset, 1)
			if err != nil {
				return fmt.Errorf("%s status read: %w", ch.label, err)
			}
			if len(raw) < 1 {
				return fmt.Errorf("%s status read: empty response", ch.label)
			}
			*ch.dst = raw[0]
		}
		return nil
	})
	if readErr != nil {
		Logf("[telemetry] safety status query failed: %v", readErr)
		return
	}

	reading.SEStatus = se
	reading.SOStatus = so
	statusText := fmt.Sprintf("SE: 0x%02X, SO: 0x%02X", se, so)

	faulted := (se&0x0F) != 0 || (so&0x0F) != 0

	c.mu.Lock()
	var fire, clear bool
	if !faulted {
		if c.safetyFailure {
			c.safetyFailure = false
			clear = true
		}
	} else if !c.safetyFailure {
		c.safetyFailure = true
		c.laserOn = false
		fire = true
	}
	c.mu.Unlock()

	switch {
	case fire:
		Logf("[telemetry] failure detected: %s", statusText)
		_ = c.locks.WithConsole(func() error {
			if err := c.console.StopTrigger(); err != nil {
				Logf("[telemetry] stop trigger on safety fault: %v", err)
			}
			return nil
		})
		c.setTriggerState("OFF")
		c.events.Publish(LaserStateChanged{On: false})
		c.events.Publish(SafetyFailureChanged{Failed: true, Status: statusText})
	case clear:
		c.events.Publish(SafetyFailureChanged{Failed: false, Status: statusText})
	}
}
