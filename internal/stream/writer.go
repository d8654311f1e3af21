// Package stream drains raw byte chunks from a sensor's histogram
// stream through the packet codec into a CSV sink, recovering from
// framing corruption by resynchronizing on the packet signature.
package stream

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/lucerna-optics/flowscan/internal/histo"
)

// pollInterval is how long Run waits on the input channel before
// rechecking the cancel flag.
const pollInterval = 100 * time.Millisecond

// Logf is the package-level diagnostic logger. It defaults to
// log.Printf but may be replaced so tests can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// Stats summarizes a writer's lifetime counters.
type Stats struct {
	Packets int64 // CRC-valid packets decoded
	Rows    int64 // CSV rows written (one per camera block)
	Resyncs int64 // framing errors that forced a resynchronization
}

// Writer consumes byte chunks from an input channel, decodes complete
// packets from the front of its accumulation buffer and appends one
// CSV row per camera block. It owns the output file and guarantees the
// sink is flushed and closed on every exit path.
type Writer struct {
	path string
	in   <-chan []byte

	f   *os.File
	csv *csv.Writer

	buf []byte
	off int

	cancel     chan struct{}
	cancelOnce sync.Once
	done       chan struct{}

	mu    sync.Mutex
	stats Stats
}

// csvHeader returns the fixed column set: identity, timestamp, 1024
// bins, temperature and the integrity sum.
func csvHeader() []string {
	header := make([]string, 0, histo.HistoWords+5)
	header = append(header, "cam_id", "frame_id", "timestamp_s")
	for i := 0; i < histo.HistoWords; i++ {
		header = append(header, strconv.Itoa(i))
	}
	return append(header, "temperature", "sum")
}

// NewWriter creates the output file at path, writes the CSV header and
// returns a Writer ready to Run. The caller feeds raw chunks on in and
// signals end of capture with Cancel (or by closing the channel).
func NewWriter(path string, in <-chan []byte) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}

	w := &Writer{
		path:   path,
		in:     in,
		f:      f,
		csv:    csv.NewWriter(f),
		cancel: make(chan struct{}),
		done:   make(chan struct{}),
	}
	if err := w.csv.Write(csvHeader()); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}
	return w, nil
}

// Path returns the output file path.
func (w *Writer) Path() string { return w.path }

// Cancel signals the writer to stop once pending input is drained.
// Safe to call multiple times and from any goroutine.
func (w *Writer) Cancel() {
	w.cancelOnce.Do(func() { close(w.cancel) })
}

// Join waits for the writer to finish, up to the given bound. It
// returns false if the writer was still running when the bound
// expired.
func (w *Writer) Join(timeout time.Duration) bool {
	select {
	case <-w.done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Stats returns a snapshot of the writer's counters.
func (w *Writer) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

// Run consumes input until canceled and drained, or until the input
// channel is closed. It is the writer goroutine body; callers usually
// invoke it with go w.Run().
func (w *Writer) Run() {
	defer close(w.done)
	defer func() {
		w.csv.Flush()
		if err := w.csv.Error(); err != nil {
			Logf("[stream] flush %s: %v", w.path, err)
		}
		if err := w.f.Close(); err != nil {
			Logf("[stream] close %s: %v", w.path, err)
		}
	}()

	for {
		select {
		case chunk, ok := <-w.in:
			if !ok {
				w.decodeBuffer()
				return
			}
			w.ingest(chunk)
		case <-time.After(pollInterval):
			select {
			case <-w.cancel:
				w.drain()
				return
			default:
			}
		}
	}
}

// drain consumes whatever input is already queued, then decodes the
// remaining buffer one last time.
func (w *Writer) drain() {
	for {
		select {
		case chunk, ok := <-w.in:
			if !ok {
				w.decodeBuffer()
				return
			}
			w.ingest(chunk)
		default:
			w.decodeBuffer()
			return
		}
	}
}

func (w *Writer) ingest(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	w.buf = append(w.buf, chunk...)
	w.decodeBuffer()
}

// decodeBuffer decodes as many packets as the buffer holds. Framing
// errors advance one byte and then jump to the resync signature when
// it is in view; short reads leave the buffer for the next chunk.
// Consumed bytes are dropped lazily so the drop is O(1) amortized.
func (w *Writer) decodeBuffer() {
	for w.off < len(w.buf) {
		pkt, n, err := histo.Decode(w.buf[w.off:])
		if err == nil {
			w.writePacket(pkt)
			w.off += n
			continue
		}
		if errors.Is(err, histo.ErrPacketTooSmall) || errors.Is(err, histo.ErrTruncatedPayload) {
			break // need more input
		}

		Logf("[stream] %s: %v at offset %d, resyncing", w.path, err, w.off)
		w.mu.Lock()
		w.stats.Resyncs++
		w.mu.Unlock()

		w.off++
		if i := bytes.Index(w.buf[w.off:], histo.ResyncSignature); i > 0 {
			w.off += i
		}
	}
	w.compact()
}

// compact reclaims consumed bytes once they dominate the buffer.
func (w *Writer) compact() {
	if w.off == 0 {
		return
	}
	if w.off == len(w.buf) {
		w.buf = w.buf[:0]
		w.off = 0
		return
	}
	if w.off > len(w.buf)/2 {
		n := copy(w.buf, w.buf[w.off:])
		w.buf = w.buf[:n]
		w.off = 0
	}
}

func (w *Writer) writePacket(pkt *histo.Packet) {
	record := make([]string, 0, histo.HistoWords+5)
	for i := range pkt.Blocks {
		blk := &pkt.Blocks[i]
		record = record[:0]
		record = append(record,
			strconv.Itoa(int(blk.CamID)),
			strconv.Itoa(int(blk.FrameID)),
			strconv.FormatFloat(pkt.TimestampS, 'f', -1, 64),
		)
		for _, v := range blk.Bins {
			record = append(record, strconv.FormatUint(uint64(v), 10))
		}
		record = append(record,
			strconv.FormatFloat(float64(blk.Temperature), 'g', -1, 32),
			strconv.FormatUint(blk.Sum, 10),
		)
		if err := w.csv.Write(record); err != nil {
			Logf("[stream] write %s: %v", w.path, err)
			return
		}
	}

	w.mu.Lock()
	w.stats.Packets++
	w.stats.Rows += int64(len(pkt.Blocks))
	w.mu.Unlock()
}
