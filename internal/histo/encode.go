package histo

import (
	"encoding/binary"
	"math"
)

// EncodeBlock is the input to Encode: one camera's histogram as it
// appears on the wire, before the frame counter is packed into the
// last bin.
type EncodeBlock struct {
	CamID       uint8
	FrameID     uint8
	Bins        [HistoWords]uint32
	Temperature float32
}

// Encode builds a wire-format packet from the given blocks. A
// timestamp is included when timestampMS is non-nil. The frame
// counter is packed into the top byte of each block's last bin, so
// the low 24 bits of that bin must be the true value.
//
// Encode exists for the traffic simulator and for tests; device
// firmware is the producer in production.
func Encode(blocks []EncodeBlock, timestampMS *uint32) []byte {
	length := PacketSize(len(blocks), timestampMS != nil)
	buf := make([]byte, 0, length)

	buf = append(buf, SOF, PacketType)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(length))
	if timestampMS != nil {
		buf = binary.LittleEndian.AppendUint32(buf, *timestampMS)
	}

	for _, blk := range blocks {
		buf = append(buf, SOH, blk.CamID)
		for i, v := range blk.Bins {
			if i == HistoWords-1 {
				v = v&0x00FFFFFF | uint32(blk.FrameID)<<24
			}
			buf = binary.LittleEndian.AppendUint32(buf, v)
		}
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(blk.Temperature))
		buf = append(buf, EOH)
	}

	buf = binary.LittleEndian.AppendUint16(buf, CRC16(buf))
	buf = append(buf, EOF)
	return buf
}
