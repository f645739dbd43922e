package frame

import "encoding/binary"

// Decoder reassembles frames from an unaligned byte stream.
// Bytes that cannot start a frame are skipped until the next start marker.
type Decoder struct {
	buf       []byte
	maxLen    int
	discarded uint64
}

func NewDecoder(maxPayload int) *Decoder {
	if maxPayload <= 0 || maxPayload > MaxPayloadLen {
		maxPayload = MaxPayloadLen
	}
	return &Decoder{maxLen: maxPayload}
}

// Feed appends b to the internal buffer and returns every frame completed by it.
func (d *Decoder) Feed(b []byte) []Frame {
	d.buf = append(d.buf, b...)
	var out []Frame
	for {
		d.resync()
		if len(d.buf) < HeaderLen {
			return out
		}
		n := int(binary.LittleEndian.Uint16(d.buf[1:3]))
		if n > d.maxLen {
			d.skip(1)
			continue
		}
		total := Overhead + n
		if len(d.buf) < total {
			return out
		}
		if d.buf[total-1] != EndMarker {
			d.skip(1)
			continue
		}
		payload := make([]byte, n)
		copy(payload, d.buf[HeaderLen:HeaderLen+n])
		out = append(out, Frame{Type: Type(d.buf[3]), Payload: payload})
		d.buf = d.buf[total:]
	}
}

// Discarded reports how many bytes were dropped while resynchronizing.
func (d *Decoder) Discarded() uint64 {
	return d.discarded
}

// Buffered reports bytes held for an incomplete frame.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// Reset drops a partial frame left from a previous stream.
func (d *Decoder) Reset() {
	d.buf = d.buf[:0]
}

func (d *Decoder) resync() {
	i := 0
	for i < len(d.buf) && d.buf[i] != StartMarker {
		i++
	}
	if i > 0 {
		d.skip(i)
	}
}

func (d *Decoder) skip(n int) {
	d.discarded += uint64(n)
	d.buf = d.buf[n:]
	if len(d.buf) == 0 {
		d.buf = nil
	}
}
