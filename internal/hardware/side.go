// Package hardware defines the boundary to the instrument's three
// hardware buses: the console module and the two sensor modules. It
// carries the channel interfaces the connector drives, the per-bus
// lock set, and testable mock implementations.
package hardware

import "math/bits"

// Side identifies one of the two sensor modules.
type Side string

const (
	SideLeft  Side = "left"
	SideRight Side = "right"
)

// Sides returns both sides in canonical order (left first).
func Sides() []Side { return []Side{SideLeft, SideRight} }

// MaskPositions expands an 8-bit camera mask into 1-based physical
// positions, ascending. Bit i selects position i+1.
func MaskPositions(mask byte) []int {
	var positions []int
	for i := 0; i < 8; i++ {
		if mask&(1<<i) != 0 {
			positions = append(positions, i+1)
		}
	}
	return positions
}

// PositionMask returns the single-camera mask for a 1-based position.
func PositionMask(position int) byte {
	return 1 << (position - 1)
}

// CameraCount returns the number of cameras selected by mask.
func CameraCount(mask byte) int {
	return bits.OnesCount8(mask)
}
