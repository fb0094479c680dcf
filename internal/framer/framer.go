package framer

import (
	"encoding/binary"

	"github.com/casterbn/PyGPSClient/internal/protocol"
)

// Sync bytes for the three recognized protocols
const (
	nmeaSync byte = 0x24 // '$'
	ubxSync1 byte = 0xB5
	ubxSync2 byte = 0x62
	rtcmSync byte = 0xD3
)

// Frame layout constants: fixed bytes surrounding the variable payload
const (
	ubxOverhead  = 8 // 2 sync + 4 sub-header + 2 checksum
	rtcmOverhead = 6 // 2 sync + 1 length + 3 CRC
)

// Framer extracts complete UBX, NMEA and RTCM3 frames from an arbitrarily
// chunked byte stream. It owns its buffer exclusively; one Framer serves
// exactly one connection and is not safe for concurrent use.
//
// The buffer has no growth bound: a stream that never yields a valid sync
// pattern grows it indefinitely. Callers needing a cap must impose one.
type Framer struct {
	buf  []byte
	dec  protocol.Decoder
	sink chan<- protocol.Result
}

// New creates a Framer emitting extracted frames to sink. A send on sink
// blocks when it is full, so the sink capacity bounds how far the reader
// can run ahead of the consumer.
func New(dec protocol.Decoder, sink chan<- protocol.Result) *Framer {
	return &Framer{dec: dec, sink: sink}
}

// Buffered returns the number of unconsumed bytes held back for the next Feed.
func (f *Framer) Buffered() int {
	return len(f.buf)
}

// Feed appends data to the buffer and drains every complete frame currently
// available, emitting each to the sink in stream order. A single call may
// emit zero, one or many frames. Incomplete trailing frames are retained
// untouched so the next Feed resumes from the same state regardless of how
// the stream was chunked.
func (f *Framer) Feed(data []byte) {
	f.buf = append(f.buf, data...)
	for {
		tag, frame, rest, ok := f.extract()
		if !ok {
			return
		}
		raw := make([]byte, len(frame))
		copy(raw, frame)
		f.buf = rest

		msg, err := f.dec.Decode(tag, raw)
		f.sink <- protocol.Result{Protocol: tag, Raw: raw, Msg: msg, Err: err}
	}
}

// extract scans the buffer for the first complete frame. It skips noise
// bytes ahead of a recognized sync pattern and returns ok=false when no
// complete frame can be formed yet, leaving the buffer for a retry once
// more data arrives.
func (f *Framer) extract() (tag string, frame, rest []byte, ok bool) {
	buf := f.buf
	start := 0
	for start < len(buf) {
		b1 := buf[start]
		if b1 != nmeaSync && b1 != ubxSync1 && b1 != rtcmSync {
			start++
			continue
		}
		if start+2 > len(buf) {
			// sync candidate but no second header byte yet
			return "", nil, nil, false
		}
		b2 := buf[start+1]

		var total int
		var complete bool
		switch {
		case b1 == ubxSync1 && b2 == ubxSync2:
			tag = protocol.UBX
			total, complete = ubxFrameLen(buf[start:])
		case b1 == nmeaSync && (b2 == 'G' || b2 == 'P'):
			tag = protocol.NMEA
			total, complete = nmeaFrameLen(buf[start:])
		case b1 == rtcmSync && b2&^0x03 == 0:
			tag = protocol.RTCM3
			total, complete = rtcmFrameLen(buf[start:])
		default:
			// both peeked bytes are noise
			start += 2
			continue
		}

		if !complete || start+total > len(buf) {
			return "", nil, nil, false
		}
		return tag, buf[start : start+total], buf[start+total:], true
	}
	return "", nil, nil, false
}

// ubxFrameLen reads the 2-byte little-endian payload length from the 4-byte
// sub-header following the sync. ok=false means not enough bytes buffered
// to read the length field.
func ubxFrameLen(b []byte) (int, bool) {
	if len(b) < 6 {
		return 0, false
	}
	return ubxOverhead + int(binary.LittleEndian.Uint16(b[4:6])), true
}

// nmeaFrameLen scans past the 2-byte header for the CRLF terminator.
func nmeaFrameLen(b []byte) (int, bool) {
	for i := 2; i+1 < len(b); i++ {
		if b[i] == '\r' && b[i+1] == '\n' {
			return i + 2, true
		}
	}
	return 0, false
}

// rtcmFrameLen combines the low 2 bits of the second sync byte with the
// third byte into the 10-bit payload length.
func rtcmFrameLen(b []byte) (int, bool) {
	if len(b) < 3 {
		return 0, false
	}
	length := int(b[2]) | int(b[1]&0x03)<<8
	return rtcmOverhead + length, true
}
