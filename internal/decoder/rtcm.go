package decoder

import (
	"fmt"
	"strconv"

	"github.com/casterbn/PyGPSClient/internal/protocol"
)

const (
	// RTCM3 frame layout
	RTCMSync byte = 0xD3

	rtcmHeaderLen  = 3 // sync(1) + reserved/length(2), 10-bit payload length
	rtcmTrailerLen = 3 // CRC24Q

	crc24qPoly = 0x1864CFB
)

// RTCMDecoder implements MessageDecoder for RTCM 3.x binary frames
type RTCMDecoder struct{}

// NewRTCMDecoder creates a new RTCM3 decoder
func NewRTCMDecoder() *RTCMDecoder {
	return &RTCMDecoder{}
}

// Protocol returns protocol identifier
func (d *RTCMDecoder) Protocol() string {
	return protocol.RTCM3
}

// Decode validates a complete RTCM3 frame and extracts its message type
func (d *RTCMDecoder) Decode(raw []byte) (*protocol.Message, error) {
	if len(raw) < rtcmHeaderLen+rtcmTrailerLen {
		return nil, fmt.Errorf("%w: %d bytes", protocol.ErrTruncated, len(raw))
	}
	if raw[0] != RTCMSync || raw[1]&^0x03 != 0 {
		return nil, fmt.Errorf("%w: % X", protocol.ErrBadHeader, raw[:2])
	}

	plen := int(raw[2]) | int(raw[1]&0x03)<<8
	if len(raw) != rtcmHeaderLen+plen+rtcmTrailerLen {
		return nil, fmt.Errorf("%w: declared %d, frame %d", protocol.ErrLength, plen, len(raw))
	}

	want := uint32(raw[len(raw)-3])<<16 | uint32(raw[len(raw)-2])<<8 | uint32(raw[len(raw)-1])
	if crc24q(raw[:len(raw)-3]) != want {
		return nil, fmt.Errorf("%w: RTCM3 CRC24Q", protocol.ErrChecksum)
	}

	msg := &protocol.Message{
		Protocol: protocol.RTCM3,
		Fields: map[string]interface{}{
			"payload_len": plen,
		},
	}

	// Message type is the first 12 bits of the payload
	if plen >= 2 {
		payload := raw[rtcmHeaderLen : rtcmHeaderLen+plen]
		msgType := int(payload[0])<<4 | int(payload[1])>>4
		msg.Identity = strconv.Itoa(msgType)
		msg.Fields["msg_type"] = msgType

		// Reference station id is the 12 bits following the type for the
		// station/observation messages
		if plen >= 3 && isStationMessage(msgType) {
			station := int(payload[1]&0x0F)<<8 | int(payload[2])
			msg.Fields["station_id"] = station
		}
	} else {
		msg.Identity = "RTCM3"
	}

	return msg, nil
}

func isStationMessage(msgType int) bool {
	switch {
	case msgType == 1005 || msgType == 1006:
		return true
	case msgType >= 1071 && msgType <= 1137: // MSM groups
		return true
	}
	return false
}

// crc24q computes the Qualcomm CRC-24 used by RTCM 3.x
func crc24q(data []byte) uint32 {
	var crc uint32
	for _, b := range data {
		crc ^= uint32(b) << 16
		for i := 0; i < 8; i++ {
			crc <<= 1
			if crc&0x1000000 != 0 {
				crc ^= crc24qPoly
			}
		}
	}
	return crc & 0xFFFFFF
}
