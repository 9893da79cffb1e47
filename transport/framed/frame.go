package framed

import (
	"encoding/binary"
	"fmt"
	"io"

	pool "github.com/libp2p/go-buffer-pool"
)

const (
	// LengthSize is the size of the big-endian length prefix of every frame.
	LengthSize = 4
	// MaxFrameSize is the largest frame payload that will be read.
	MaxFrameSize = 16 << 20
)

// WriteFrame writes b as a single length-prefixed frame.
func WriteFrame(w io.Writer, b []byte) error {
	if len(b) > MaxFrameSize {
		return fmt.Errorf("frame of %d bytes exceeds maximum of %d bytes", len(b), MaxFrameSize)
	}
	mb := pool.Get(LengthSize + len(b))
	defer pool.Put(mb)

	binary.BigEndian.PutUint32(mb[0:LengthSize], uint32(len(b)))
	copy(mb[LengthSize:], b)

	n, err := w.Write(mb)
	if err != nil {
		return fmt.Errorf("writing frame: %w", err)
	}
	if n != len(mb) {
		return fmt.Errorf("expected %d bytes written but %d bytes were written", len(mb), n)
	}
	return nil
}

// ReadFrame reads one length-prefixed frame and passes its payload to fn.
// The payload is only valid until fn returns.
//
// It returns io.EOF if the stream ends cleanly before a new frame starts, and
// io.ErrUnexpectedEOF if it ends in the middle of a frame.
func ReadFrame(r io.Reader, fn func([]byte) error) error {
	sb := pool.Get(LengthSize)
	defer pool.Put(sb)

	if _, err := io.ReadFull(r, sb); err != nil {
		if err == io.EOF {
			return io.EOF
		}
		return fmt.Errorf("reading frame size: %w", err)
	}

	ms := binary.BigEndian.Uint32(sb)
	if ms > MaxFrameSize {
		return fmt.Errorf("frame of %d bytes exceeds maximum of %d bytes", ms, MaxFrameSize)
	}

	mb := pool.Get(int(ms))
	defer pool.Put(mb)

	if _, err := io.ReadFull(r, mb); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return fmt.Errorf("reading frame: %w", err)
	}
	return fn(mb)
}
