package connector

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// LaserParam is one laser power I2C write from the configuration file.
// The schema matches the instrument's laser_params.json.
type LaserParam struct {
	MuxIdx  int  `json:"muxIdx"`
	Channel int  `json:"channel"`
	I2CAddr byte `json:"i2cAddr"`
	Offset  byte `json:"offset"`
	// DataToSend is an array of byte values in the JSON, not a base64
	// string, so it cannot be a []byte here.
	DataToSend []int `json:"dataToSend"`
}

// Data returns the write payload as raw bytes.
func (p LaserParam) Data() []byte {
	data := make([]byte, len(p.DataToSend))
	for i, v := range p.DataToSend {
		data[i] = byte(v)
	}
	return data
}

// LoadLaserParams loads the laser power parameter sets from a JSON
// file. The file is validated to have a .json extension and to be
// under the max file size.
func LoadLaserParams(path string) ([]LaserParam, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("laser params file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat laser params file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("laser params file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read laser params file: %w", err)
	}

	var params []LaserParam
	if err := json.Unmarshal(data, &params); err != nil {
		return nil, fmt.Errorf("failed to parse laser params JSON: %w", err)
	}
	return params, nil
}

// SetLaserPowerFromConfig writes every loaded laser parameter set over
// console I2C. Returns false on the first failed write.
func (c *Connector) SetLaserPowerFromConfig() bool {
	Logf("[connector] setting laser power from config")
	for idx, p := range c.laserParams {
		Logf("[connector] (%d/%d) writing I2C: mux=%d channel=%d addr=0x%02X offset=0x%02X data=%v",
			idx+1, len(c.laserParams), p.MuxIdx, p.Channel, p.I2CAddr, p.Offset, p.DataToSend)
		err := c.locks.WithConsole(func() error {
			return c.console.WriteI2C(p.MuxIdx, p.Channel, p.I2CAddr, p.Offset, p.Data())
		})
		if err != nil {
			Logf("[connector] failed to set laser power (mux=%d, channel=%d): %v", p.MuxIdx, p.Channel, err)
			return false
		}
	}
	Logf("[connector] laser power set successfully")
	c.mu.Lock()
	c.laserOn = true
	c.mu.Unlock()
	c.events.Publish(LaserStateChanged{On: true})
	return true
}
