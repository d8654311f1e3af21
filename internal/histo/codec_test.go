package histo

import (
	"encoding/binary"
	"errors"
	"testing"
)

func testBlock(camID, frameID uint8) EncodeBlock {
	blk := EncodeBlock{CamID: camID, FrameID: frameID, Temperature: 36.5}
	for i := range blk.Bins {
		blk.Bins[i] = uint32(i) * uint32(camID+1) % 0x00FFFFFF
	}
	return blk
}

func TestDecodeRoundTrip(t *testing.T) {
	in := []EncodeBlock{testBlock(0, 17), testBlock(3, 17)}
	raw := Encode(in, nil)

	if len(raw) != PacketSize(2, false) {
		t.Fatalf("encoded size = %d, want %d", len(raw), PacketSize(2, false))
	}

	pkt, consumed, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if consumed != len(raw) {
		t.Errorf("consumed = %d, want %d", consumed, len(raw))
	}
	if pkt.TimestampS != 0 {
		t.Errorf("timestamp = %v, want 0 for untimestamped packet", pkt.TimestampS)
	}
	if len(pkt.Blocks) != 2 {
		t.Fatalf("got %d blocks, want 2", len(pkt.Blocks))
	}
	for i, blk := range pkt.Blocks {
		if blk.CamID != in[i].CamID {
			t.Errorf("block %d cam_id = %d, want %d", i, blk.CamID, in[i].CamID)
		}
		if blk.FrameID != 17 {
			t.Errorf("block %d frame_id = %d, want 17", i, blk.FrameID)
		}
		if blk.Temperature != 36.5 {
			t.Errorf("block %d temperature = %v, want 36.5", i, blk.Temperature)
		}
		for j, v := range blk.Bins {
			if v != in[i].Bins[j] {
				t.Fatalf("block %d bin %d = %d, want %d", i, j, v, in[i].Bins[j])
			}
		}
	}
}

func TestDecodeTimestamp(t *testing.T) {
	ms := uint32(1500)
	raw := Encode([]EncodeBlock{testBlock(1, 0)}, &ms)

	pkt, consumed, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if consumed != PacketSize(1, true) {
		t.Errorf("consumed = %d, want %d", consumed, PacketSize(1, true))
	}
	if pkt.TimestampS != 1.5 {
		t.Errorf("timestamp = %v s, want 1.5", pkt.TimestampS)
	}
}

// The frame counter is packed into the top byte of the last histogram
// word: 0x0500002A must decode to frame 5 with a last-bin value of 42.
func TestDecodeFrameIDPacking(t *testing.T) {
	blk := EncodeBlock{CamID: 2, FrameID: 5}
	blk.Bins[HistoWords-1] = 0x2A
	raw := Encode([]EncodeBlock{blk}, nil)

	// Confirm the wire form of the last word before decoding.
	lastWordOff := HeaderSize + 2 + (HistoWords-1)*4
	if got := binary.LittleEndian.Uint32(raw[lastWordOff:]); got != 0x0500002A {
		t.Fatalf("wire last word = %#08x, want 0x0500002A", got)
	}

	pkt, _, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if pkt.Blocks[0].FrameID != 5 {
		t.Errorf("frame_id = %d, want 5", pkt.Blocks[0].FrameID)
	}
	if pkt.Blocks[0].Bins[HistoWords-1] != 42 {
		t.Errorf("last bin = %d, want 42", pkt.Blocks[0].Bins[HistoWords-1])
	}
	if pkt.Blocks[0].Sum != 42 {
		t.Errorf("sum = %d, want 42", pkt.Blocks[0].Sum)
	}
}

func TestDecodeChecksumMismatch(t *testing.T) {
	raw := Encode([]EncodeBlock{testBlock(0, 1)}, nil)
	raw[len(raw)-2] ^= 0x01 // corrupt one CRC byte

	pkt, consumed, err := Decode(raw)
	if !errors.Is(err, ErrChecksumMismatch) {
		t.Fatalf("err = %v, want ErrChecksumMismatch", err)
	}
	if pkt != nil || consumed != 0 {
		t.Errorf("corrupted packet must consume nothing, got pkt=%v consumed=%d", pkt, consumed)
	}
}

func TestDecodeShortBuffer(t *testing.T) {
	raw := Encode([]EncodeBlock{testBlock(0, 1)}, nil)
	for _, n := range []int{0, 1, 5, MinPacketSize - 1} {
		_, consumed, err := Decode(raw[:n])
		if !errors.Is(err, ErrPacketTooSmall) {
			t.Errorf("len %d: err = %v, want ErrPacketTooSmall", n, err)
		}
		if consumed != 0 {
			t.Errorf("len %d: consumed = %d, want 0", n, consumed)
		}
	}
}

func TestDecodeBadHeader(t *testing.T) {
	raw := Encode([]EncodeBlock{testBlock(0, 1)}, nil)

	bad := append([]byte(nil), raw...)
	bad[0] = 0xAB
	if _, _, err := Decode(bad); !errors.Is(err, ErrBadHeader) {
		t.Errorf("bad SOF: err = %v, want ErrBadHeader", err)
	}

	bad = append(bad[:0], raw...)
	bad[1] = 0x01
	if _, _, err := Decode(bad); !errors.Is(err, ErrBadHeader) {
		t.Errorf("bad type: err = %v, want ErrBadHeader", err)
	}
}

func TestDecodeTruncatedPayload(t *testing.T) {
	raw := Encode([]EncodeBlock{testBlock(0, 1), testBlock(1, 1)}, nil)
	// Enough bytes to pass the minimum size check, but fewer than the
	// declared length.
	_, consumed, err := Decode(raw[:len(raw)-10])
	if !errors.Is(err, ErrTruncatedPayload) {
		t.Fatalf("err = %v, want ErrTruncatedPayload", err)
	}
	if consumed != 0 {
		t.Errorf("consumed = %d, want 0", consumed)
	}
}

func TestDecodePayloadLengthMismatch(t *testing.T) {
	raw := Encode([]EncodeBlock{testBlock(0, 1)}, nil)
	bad := append(append([]byte(nil), raw...), 0x00)
	binary.LittleEndian.PutUint32(bad[2:6], uint32(len(raw)+1))
	if _, _, err := Decode(bad); !errors.Is(err, ErrPayloadLength) {
		t.Errorf("err = %v, want ErrPayloadLength", err)
	}
}

func TestDecodeFramingBytes(t *testing.T) {
	raw := Encode([]EncodeBlock{testBlock(0, 1)}, nil)

	cases := []struct {
		name string
		off  int
		want error
	}{
		{"SOH", HeaderSize, ErrMissingSOH},
		{"EOH", HeaderSize + BlockSize - 1, ErrMissingEOH},
		{"EOF", len(raw) - 1, ErrMissingEOF},
	}
	for _, tc := range cases {
		bad := append([]byte(nil), raw...)
		bad[tc.off] = 0x00
		_, consumed, err := Decode(bad)
		if !errors.Is(err, tc.want) {
			t.Errorf("%s corrupted: err = %v, want %v", tc.name, err, tc.want)
		}
		if consumed != 0 {
			t.Errorf("%s corrupted: consumed = %d, want 0", tc.name, consumed)
		}
	}
}

func TestPacketSize(t *testing.T) {
	// A full eight-camera packet is 32833 bytes; its length field low
	// byte is the third byte of the resync signature.
	if got := PacketSize(8, false); got != 32833 {
		t.Errorf("PacketSize(8, false) = %d, want 32833", got)
	}
	if ResyncSignature[2] != byte(32833&0xFF) {
		t.Errorf("resync signature byte = %#02x, want %#02x", ResyncSignature[2], 32833&0xFF)
	}
	if got := PacketSize(1, false); got != MinPacketSize {
		t.Errorf("PacketSize(1, false) = %d, want %d", got, MinPacketSize)
	}
}

func TestCRC16KnownVector(t *testing.T) {
	// CRC-16/CCITT with init 0xFFFF over "123456789".
	if got := CRC16([]byte("123456789")); got != 0x29B1 {
		t.Errorf("CRC16 = %#04x, want 0x29b1", got)
	}
}
