package stream

import (
	"fmt"
	"io"
	"os"
)

// Convert decodes a raw histogram byte stream from r into a CSV file
// at dst, using the same decode-and-resync path as live capture.
func Convert(r io.Reader, dst string) (Stats, error) {
	sink := make(chan []byte, 8)
	w, err := NewWriter(dst, sink)
	if err != nil {
		return Stats{}, err
	}

	pumpErr := make(chan error, 1)
	go func() {
		pumpErr <- PumpReader(r, sink, nil)
		close(sink)
	}()

	w.Run()
	if err := <-pumpErr; err != nil {
		return w.Stats(), err
	}
	return w.Stats(), nil
}

// ConvertFile converts a recorded .bin capture to CSV.
func ConvertFile(src, dst string) (Stats, error) {
	f, err := os.Open(src)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer f.Close()
	return Convert(f, dst)
}
