package connector

import (
	"fmt"
	"sync/atomic"

	"github.com/lucerna-optics/flowscan/internal/hardware"
)

// configGuard holds the single-active-job state for camera
// configuration.
type configGuard struct {
	active atomic.Bool
	cancel atomic.Bool
}

type configTask struct {
	side     hardware.Side
	position int
}

// StartConfigureCameraSensors programs the FPGA and configures the
// sensor registers for every camera position set in the side masks,
// left positions ascending then right positions ascending. Progress and
// log lines are published as events; the job ends with ConfigFinished.
// Starting while a job is active is a no-op.
func (c *Connector) StartConfigureCameraSensors(leftMask, rightMask byte) {
	if !c.config.active.CompareAndSwap(false, true) {
		return
	}
	c.config.cancel.Store(false)
	Logf("[connector] configure worker left=0x%02X right=0x%02X", leftMask, rightMask)
	go c.runConfigure(leftMask, rightMask)
}

// CancelConfigureCameraSensors requests cooperative cancellation of the
// active configuration job, if any.
func (c *Connector) CancelConfigureCameraSensors() {
	if c.config.active.Load() {
		c.config.cancel.Store(true)
	}
}

func (c *Connector) runConfigure(leftMask, rightMask byte) {
	finish := func(ok bool, errMsg string) {
		c.config.active.Store(false)
		c.events.Publish(ConfigFinished{OK: ok, Error: errMsg})
	}

	var tasks []configTask
	for _, pos := range hardware.MaskPositions(leftMask) {
		tasks = append(tasks, configTask{side: hardware.SideLeft, position: pos})
	}
	for _, pos := range hardware.MaskPositions(rightMask) {
		tasks = append(tasks, configTask{side: hardware.SideRight, position: pos})
	}
	if len(tasks) == 0 {
		finish(false, "Empty camera masks")
		return
	}

	total := len(tasks) * 2
	done := 0
	progress := func() {
		done++
		c.events.Publish(ConfigProgress{Percent: done * 100 / total})
	}

	for _, task := range tasks {
		sensor := c.sensors[task.side]
		if sensor == nil {
			finish(false, fmt.Sprintf("No %s sensor available (pos %d).", task.side, task.position))
			return
		}
		lock := c.locks.Side(task.side)

		if c.config.cancel.Load() {
			finish(false, "Canceled")
			return
		}
		c.logLine("Programming camera FPGA on %s at position %d (mask 0x%02X)...",
			task.side, task.position, hardware.PositionMask(task.position))
		lock.Lock()
		err := sensor.ProgramFPGA(task.position)
		lock.Unlock()
		if err != nil {
			msg := fmt.Sprintf("Failed to program FPGA on %s sensor (pos %d).", task.side, task.position)
			c.logLine("%s", msg)
			finish(false, msg)
			return
		}
		progress()

		if c.config.cancel.Load() {
			finish(false, "Canceled")
			return
		}
		c.logLine("Configuring camera sensor registers on %s at position %d...", task.side, task.position)
		lock.Lock()
		err = sensor.ConfigureRegisters(task.position)
		lock.Unlock()
		if err != nil {
			msg := fmt.Sprintf("Failed to configure registers on %s sensor (pos %d).", task.side, task.position)
			c.logLine("%s", msg)
			finish(false, msg)
			return
		}
		progress()
	}

	Logf("[connector] FPGAs programmed and registers configured")
	finish(true, "")
}
