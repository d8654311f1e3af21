package stream

import (
	"fmt"
	"io"

	"go.bug.st/serial"
)

// chunkSize is the read granularity of the byte pumps. It comfortably
// exceeds one full eight-camera packet.
const chunkSize = 64 * 1024

// PumpReader copies bytes from r into sink in chunks until r returns
// io.EOF, stop is closed, or a read fails. The sink is not closed;
// that is the owner's call.
func PumpReader(r io.Reader, sink chan<- []byte, stop <-chan struct{}) error {
	buf := make([]byte, chunkSize)
	for {
		select {
		case <-stop:
			return nil
		default:
		}

		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case sink <- chunk:
			case <-stop:
				return nil
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("stream read failed: %w", err)
		}
	}
}

// OpenSerial opens a raw histogram byte source on a serial port. The
// caller pumps it with PumpReader and closes the returned port when
// done.
func OpenSerial(path string, baud int) (serial.Port, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", path, err)
	}
	return port, nil
}
