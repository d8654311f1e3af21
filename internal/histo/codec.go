// Package histo implements the framed binary protocol spoken by the
// camera histogram stream.
//
// Each sensor module emits packets of the following shape, all
// multi-byte fields little-endian:
//
//	SOF(0xAA) TYPE(0x00) LENGTH(u32)            6-byte header
//	[TIMESTAMP_MS(u32)]                         optional, per-packet
//	1..N histogram blocks, 4103 bytes each:
//	    SOH(0xFF) CAM_ID(u8) 1024×u32 TEMP(f32) EOH(0xEE)
//	CRC16(u16) EOF(0xDD)                        3-byte footer
//
// LENGTH is the total packet size including header and footer. The
// CRC is CCITT/XMODEM (init 0xFFFF) over bytes [0, LENGTH-3). The
// last histogram word of every block carries the rolling frame
// counter in its top 8 bits; the low 24 bits are the true bin value.
//
// Decode is pure and stateless so callers can run it against a
// sliding buffer and resynchronize after corruption.
package histo

import (
	"encoding/binary"
	"errors"
	"math"
)

// Framing bytes.
const (
	SOF = 0xAA // start of frame
	SOH = 0xFF // start of histogram block
	EOH = 0xEE // end of histogram block
	EOF = 0xDD // end of frame
)

// PacketType is the only packet type carried on the histogram stream.
const PacketType = 0x00

const (
	// HistoWords is the number of 32-bit bins per camera histogram.
	HistoWords = 1024
	// HistoBytes is the byte size of one histogram payload.
	HistoBytes = HistoWords * 4

	// HeaderSize covers SOF, type and the u32 length field.
	HeaderSize = 6
	// FooterSize covers the u16 CRC and the EOF byte.
	FooterSize = 3
	// TimestampSize is the optional per-packet timestamp field.
	TimestampSize = 4

	// BlockSize is one histogram block: SOH + cam_id + bins + temperature + EOH.
	BlockSize = 1 + 1 + HistoBytes + 4 + 1

	// MinPacketSize is the smallest decodable packet: one block, no timestamp.
	MinPacketSize = HeaderSize + BlockSize + FooterSize

	// MaxCameras is the largest number of blocks one packet can carry:
	// a sensor module exposes eight camera positions.
	MaxCameras = 8

	// MaxPacketSize bounds the declared length field. Anything larger
	// is treated as corruption rather than a packet worth waiting for,
	// which keeps a streaming caller's buffer bounded.
	MaxPacketSize = HeaderSize + TimestampSize + MaxCameras*BlockSize + FooterSize
)

// ResyncSignature is the byte pattern used to re-acquire framing after
// corruption: SOF, packet type, and the low byte of the length of a
// full eight-camera packet (32833 = 0x8041).
var ResyncSignature = []byte{SOF, PacketType, 0x41}

// Decode errors. Every error path consumes zero bytes so the caller
// can advance the buffer itself and resynchronize.
var (
	ErrPacketTooSmall   = errors.New("packet too small")
	ErrBadHeader        = errors.New("bad header")
	ErrTruncatedPayload = errors.New("truncated payload")
	ErrPayloadLength    = errors.New("payload length mismatch")
	ErrMissingSOH       = errors.New("missing SOH")
	ErrMissingEOH       = errors.New("missing EOH")
	ErrMissingEOF       = errors.New("missing EOF")
	ErrChecksumMismatch = errors.New("checksum mismatch")
)

// Block is one decoded camera histogram block.
type Block struct {
	CamID       uint8
	FrameID     uint8
	Bins        [HistoWords]uint32
	Temperature float32
	// Sum is the integer sum of all bins after the frame counter has
	// been stripped from the last word.
	Sum uint64
}

// Packet is one decoded histogram packet.
type Packet struct {
	// TimestampS is the packet timestamp in seconds, 0 when the
	// packet carries no timestamp field.
	TimestampS float64
	Blocks     []Block
}

// PacketSize returns the encoded size of a packet carrying nCams
// histogram blocks, with or without the timestamp field.
func PacketSize(nCams int, timestamped bool) int {
	n := HeaderSize + nCams*BlockSize + FooterSize
	if timestamped {
		n += TimestampSize
	}
	return n
}

// Decode decodes a single packet from the front of buf. On success it
// returns the packet and the number of bytes consumed. On any error it
// returns a nil packet and zero bytes consumed; the caller decides how
// to resynchronize.
func Decode(buf []byte) (*Packet, int, error) {
	if len(buf) < MinPacketSize {
		return nil, 0, ErrPacketTooSmall
	}
	if buf[0] != SOF || buf[1] != PacketType {
		return nil, 0, ErrBadHeader
	}

	length := int(binary.LittleEndian.Uint32(buf[2:6]))
	if length < MinPacketSize || length > MaxPacketSize {
		return nil, 0, ErrPayloadLength
	}
	if length > len(buf) {
		return nil, 0, ErrTruncatedPayload
	}

	payload := length - HeaderSize - FooterSize
	off := HeaderSize

	pkt := &Packet{}
	switch {
	case payload%BlockSize == 0:
		// no timestamp
	case payload%BlockSize == TimestampSize:
		ms := binary.LittleEndian.Uint32(buf[off : off+TimestampSize])
		pkt.TimestampS = float64(ms) / 1000.0
		off += TimestampSize
	default:
		return nil, 0, ErrPayloadLength
	}

	payloadEnd := length - FooterSize
	for off < payloadEnd {
		if buf[off] != SOH {
			return nil, 0, ErrMissingSOH
		}
		var blk Block
		blk.CamID = buf[off+1]
		off += 2

		for i := 0; i < HistoWords; i++ {
			blk.Bins[i] = binary.LittleEndian.Uint32(buf[off : off+4])
			off += 4
		}
		blk.Temperature = math.Float32frombits(binary.LittleEndian.Uint32(buf[off : off+4]))
		off += 4

		if buf[off] != EOH {
			return nil, 0, ErrMissingEOH
		}
		off++

		// The frame counter rides in the top byte of the last bin.
		last := blk.Bins[HistoWords-1]
		blk.FrameID = uint8(last >> 24)
		blk.Bins[HistoWords-1] = last & 0x00FFFFFF

		for _, v := range blk.Bins {
			blk.Sum += uint64(v)
		}
		pkt.Blocks = append(pkt.Blocks, blk)
	}

	want := binary.LittleEndian.Uint16(buf[payloadEnd : payloadEnd+2])
	if buf[length-1] != EOF {
		return nil, 0, ErrMissingEOF
	}
	if CRC16(buf[:payloadEnd]) != want {
		return nil, 0, ErrChecksumMismatch
	}

	return pkt, length, nil
}
