package decoder

import (
	"encoding/binary"
	"fmt"

	"github.com/casterbn/PyGPSClient/internal/protocol"
)

const (
	// UBX frame layout
	UBXSync1 byte = 0xB5
	UBXSync2 byte = 0x62

	ubxHeaderLen  = 6 // sync(2) + class(1) + id(1) + length(2)
	ubxTrailerLen = 2 // CK_A + CK_B

	// Message classes
	ClassNAV byte = 0x01
	ClassRXM byte = 0x02
	ClassACK byte = 0x05
	ClassCFG byte = 0x06
	ClassMON byte = 0x0A
)

// ubxNames maps class/id to the conventional message name
var ubxNames = map[[2]byte]string{
	{ClassNAV, 0x02}: "NAV-POSLLH",
	{ClassNAV, 0x03}: "NAV-STATUS",
	{ClassNAV, 0x04}: "NAV-DOP",
	{ClassNAV, 0x07}: "NAV-PVT",
	{ClassNAV, 0x12}: "NAV-VELNED",
	{ClassNAV, 0x21}: "NAV-TIMEUTC",
	{ClassNAV, 0x35}: "NAV-SAT",
	{ClassACK, 0x00}: "ACK-NAK",
	{ClassACK, 0x01}: "ACK-ACK",
	{ClassCFG, 0x00}: "CFG-PRT",
	{ClassCFG, 0x08}: "CFG-RATE",
	{ClassMON, 0x04}: "MON-VER",
	{ClassMON, 0x09}: "MON-HW",
	{ClassRXM, 0x15}: "RXM-RAWX",
}

// UBXDecoder implements MessageDecoder for the u-blox UBX binary protocol
type UBXDecoder struct{}

// NewUBXDecoder creates a new UBX decoder
func NewUBXDecoder() *UBXDecoder {
	return &UBXDecoder{}
}

// Protocol returns protocol identifier
func (d *UBXDecoder) Protocol() string {
	return protocol.UBX
}

// Decode validates a complete UBX frame and extracts its fields
func (d *UBXDecoder) Decode(raw []byte) (*protocol.Message, error) {
	if len(raw) < ubxHeaderLen+ubxTrailerLen {
		return nil, fmt.Errorf("%w: %d bytes", protocol.ErrTruncated, len(raw))
	}
	if raw[0] != UBXSync1 || raw[1] != UBXSync2 {
		return nil, fmt.Errorf("%w: % X", protocol.ErrBadHeader, raw[:2])
	}

	cls := raw[2]
	id := raw[3]
	plen := int(binary.LittleEndian.Uint16(raw[4:6]))
	if len(raw) != ubxHeaderLen+plen+ubxTrailerLen {
		return nil, fmt.Errorf("%w: declared %d, frame %d", protocol.ErrLength, plen, len(raw))
	}

	ckA, ckB := ubxChecksum(raw[2 : len(raw)-2])
	if ckA != raw[len(raw)-2] || ckB != raw[len(raw)-1] {
		return nil, fmt.Errorf("%w: UBX %02X-%02X", protocol.ErrChecksum, cls, id)
	}

	name, ok := ubxNames[[2]byte{cls, id}]
	if !ok {
		name = fmt.Sprintf("UBX-%02X-%02X", cls, id)
	}

	msg := &protocol.Message{
		Protocol: protocol.UBX,
		Identity: name,
		Fields: map[string]interface{}{
			"class":       cls,
			"id":          id,
			"payload_len": plen,
		},
	}

	payload := raw[ubxHeaderLen : ubxHeaderLen+plen]
	switch name {
	case "NAV-PVT":
		d.parseNavPVT(payload, msg)
	case "NAV-POSLLH":
		d.parseNavPOSLLH(payload, msg)
	}

	return msg, nil
}

// parseNavPVT extracts position/velocity/time from a NAV-PVT payload
func (d *UBXDecoder) parseNavPVT(body []byte, msg *protocol.Message) {
	if len(body) < 92 {
		return
	}

	msg.Fields["itow"] = binary.LittleEndian.Uint32(body[0:4])
	msg.Fields["fix_type"] = body[20]
	msg.Fields["num_sv"] = body[23]

	// Coordinates in 1e-7 degree
	lon := int32(binary.LittleEndian.Uint32(body[24:28]))
	lat := int32(binary.LittleEndian.Uint32(body[28:32]))
	msg.Fields["lon"] = float64(lon) / 1e7
	msg.Fields["lat"] = float64(lat) / 1e7

	// Height above mean sea level in mm
	hmsl := int32(binary.LittleEndian.Uint32(body[36:40]))
	msg.Fields["hmsl"] = float64(hmsl) / 1000.0

	// Ground speed in mm/s
	gspeed := int32(binary.LittleEndian.Uint32(body[60:64]))
	msg.Fields["gspeed"] = float64(gspeed) / 1000.0

	// Heading of motion in 1e-5 degree
	headmot := int32(binary.LittleEndian.Uint32(body[64:68]))
	msg.Fields["headmot"] = float64(headmot) / 1e5
}

// parseNavPOSLLH extracts geodetic position from a NAV-POSLLH payload
func (d *UBXDecoder) parseNavPOSLLH(body []byte, msg *protocol.Message) {
	if len(body) < 28 {
		return
	}

	msg.Fields["itow"] = binary.LittleEndian.Uint32(body[0:4])

	lon := int32(binary.LittleEndian.Uint32(body[4:8]))
	lat := int32(binary.LittleEndian.Uint32(body[8:12]))
	msg.Fields["lon"] = float64(lon) / 1e7
	msg.Fields["lat"] = float64(lat) / 1e7

	hmsl := int32(binary.LittleEndian.Uint32(body[16:20]))
	msg.Fields["hmsl"] = float64(hmsl) / 1000.0
}

// EncodeUBXPoll builds an empty-payload poll frame for the given class/id,
// used on the downlink path to request a message from the receiver.
func EncodeUBXPoll(cls, id byte) []byte {
	frame := []byte{UBXSync1, UBXSync2, cls, id, 0x00, 0x00}
	ckA, ckB := ubxChecksum(frame[2:])
	return append(frame, ckA, ckB)
}

// ubxChecksum computes the 8-bit Fletcher checksum over class..payload
func ubxChecksum(data []byte) (byte, byte) {
	var ckA, ckB byte
	for _, b := range data {
		ckA += b
		ckB += ckA
	}
	return ckA, ckB
}
