/*
Package frame implements the length-prefixed framing of node messages. Every
frame starts with an 8-byte big-endian header holding the 0xDEADBEEF magic in
its upper half and the payload length in the lower one, the payload follows.
*/
package frame

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	chitio "github.com/neohex/chit/pkg/io"
)

const (
	// Magic is the upper half of every frame header.
	Magic uint32 = 0xDEADBEEF
	// HeaderSize is the size of the frame header.
	HeaderSize = 8
	// MaxPayloadSize is the maximum accepted payload size.
	MaxPayloadSize = 0x2000000
)

var (
	// ErrBadMagic is returned when a frame header doesn't start with Magic.
	ErrBadMagic = errors.New("bad frame magic")
	// ErrFrameTooBig is returned for payloads exceeding MaxPayloadSize.
	ErrFrameTooBig = errors.New("frame is too big")
)

func header(n int) uint64 {
	return uint64(Magic)<<32 | uint64(n)
}

// parseHeader returns the payload length from the header.
func parseHeader(h uint64) (int, error) {
	if uint32(h>>32) != Magic {
		return 0, fmt.Errorf("%w: %08x", ErrBadMagic, uint32(h>>32))
	}
	n := uint32(h)
	if n > MaxPayloadSize {
		return 0, fmt.Errorf("%w: %d", ErrFrameTooBig, n)
	}
	return int(n), nil
}

// Encode writes the payload as a single frame.
func Encode(w *chitio.BinWriter, payload []byte) {
	if w.Err != nil {
		return
	}
	if len(payload) > MaxPayloadSize {
		w.Err = fmt.Errorf("%w: %d", ErrFrameTooBig, len(payload))
		return
	}
	w.WriteU64BE(header(len(payload)))
	w.WriteBytes(payload)
}

// Write writes the payload as a single frame to w.
func Write(w io.Writer, payload []byte) error {
	bw := chitio.NewBinWriterFromIO(w)
	Encode(bw, payload)
	return bw.Err
}

// Decode extracts the first frame from buf returning its payload and the rest
// of buf. A nil payload with no error means buf doesn't contain a complete
// frame yet.
func Decode(buf []byte) ([]byte, []byte, error) {
	if len(buf) < HeaderSize {
		return nil, buf, nil
	}
	n, err := parseHeader(binary.BigEndian.Uint64(buf))
	if err != nil {
		return nil, buf, err
	}
	if len(buf)-HeaderSize < n {
		return nil, buf, nil
	}
	payload := make([]byte, n)
	copy(payload, buf[HeaderSize:])
	return payload, buf[HeaderSize+n:], nil
}

// Reader reads frames from a stream.
type Reader struct {
	r *chitio.BinReader
}

// NewReader creates a buffered frame Reader.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: chitio.NewBinReaderFromIO(bufio.NewReader(r))}
}

// ReadFrame returns the payload of the next frame. io.EOF is returned if the
// stream ends at a frame boundary, io.ErrUnexpectedEOF if it ends inside a
// frame.
func (r *Reader) ReadFrame() ([]byte, error) {
	h := r.r.ReadU64BE()
	if err := r.r.Err; err != nil {
		return nil, err
	}
	n, err := parseHeader(h)
	if err != nil {
		r.r.Err = err
		return nil, err
	}
	payload := make([]byte, n)
	r.r.ReadBytes(payload)
	if errors.Is(r.r.Err, io.EOF) {
		r.r.Err = io.ErrUnexpectedEOF
	}
	if r.r.Err != nil {
		return nil, r.r.Err
	}
	return payload, nil
}
