package transport

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// frame is the unit carried on a TCP mesh link.
//
// Wire layout, all fields little-endian:
//
//	magic   uint16
//	tag     uint16
//	src     uint32
//	nbytes  uint32
//	payload [nbytes]byte
type frame struct {
	Tag     int
	Src     int
	Payload []byte
}

const frameMagic = 0x4d52 // "MR"

// maxFramePayload bounds a single frame; huge traffic is already split
// by the messaging layer's rendezvous protocol above this level.
const maxFramePayload = 1 << 30

// Encoder writes frames to a mesh link.
type Encoder struct {
	w *bufio.Writer
}

// NewEncoder creates a new frame encoder.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: bufio.NewWriter(w)}
}

// Encode writes a frame to the output stream and flushes it.
func (e *Encoder) Encode(f frame) error {
	if len(f.Payload) > maxFramePayload {
		return fmt.Errorf("frame payload too large: %d bytes", len(f.Payload))
	}
	var hdr [12]byte
	binary.LittleEndian.PutUint16(hdr[0:2], frameMagic)
	binary.LittleEndian.PutUint16(hdr[2:4], uint16(f.Tag))
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(f.Src))
	binary.LittleEndian.PutUint32(hdr[8:12], uint32(len(f.Payload)))
	if _, err := e.w.Write(hdr[:]); err != nil {
		return fmt.Errorf("failed to write frame header: %w", err)
	}
	if _, err := e.w.Write(f.Payload); err != nil {
		return fmt.Errorf("failed to write frame payload: %w", err)
	}
	if err := e.w.Flush(); err != nil {
		return fmt.Errorf("failed to flush frame: %w", err)
	}
	return nil
}

// Decoder reads frames from a mesh link.
type Decoder struct {
	r *bufio.Reader
}

// NewDecoder creates a new frame decoder.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r)}
}

// Decode reads the next frame from the input stream.
func (d *Decoder) Decode() (frame, error) {
	var hdr [12]byte
	if _, err := io.ReadFull(d.r, hdr[:]); err != nil {
		return frame{}, err
	}
	if binary.LittleEndian.Uint16(hdr[0:2]) != frameMagic {
		return frame{}, fmt.Errorf("bad frame magic %#x", binary.LittleEndian.Uint16(hdr[0:2]))
	}
	n := binary.LittleEndian.Uint32(hdr[8:12])
	if n > maxFramePayload {
		return frame{}, fmt.Errorf("frame payload too large: %d bytes", n)
	}
	f := frame{
		Tag: int(binary.LittleEndian.Uint16(hdr[2:4])),
		Src: int(binary.LittleEndian.Uint32(hdr[4:8])),
	}
	if n > 0 {
		f.Payload = make([]byte, n)
		if _, err := io.ReadFull(d.r, f.Payload); err != nil {
			return frame{}, fmt.Errorf("failed to read frame payload: %w", err)
		}
	}
	return f, nil
}
