package decoder

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/casterbn/PyGPSClient/internal/protocol"
)

// NMEADecoder implements MessageDecoder for NMEA 0183 text sentences
type NMEADecoder struct{}

// NewNMEADecoder creates a new NMEA decoder
func NewNMEADecoder() *NMEADecoder {
	return &NMEADecoder{}
}

// Protocol returns protocol identifier
func (d *NMEADecoder) Protocol() string {
	return protocol.NMEA
}

// Decode validates a complete NMEA sentence and extracts its fields.
// Sentence structure: $<address>,<field>,...*hh\r\n with hh the hex XOR
// checksum of everything between '$' and '*'.
func (d *NMEADecoder) Decode(raw []byte) (*protocol.Message, error) {
	if len(raw) < 8 { // '$' + address + "*hh" + CRLF
		return nil, fmt.Errorf("%w: %d bytes", protocol.ErrTruncated, len(raw))
	}
	if raw[0] != '$' {
		return nil, fmt.Errorf("%w: leading 0x%02X", protocol.ErrBadHeader, raw[0])
	}
	if raw[len(raw)-2] != '\r' || raw[len(raw)-1] != '\n' {
		return nil, fmt.Errorf("%w: missing CRLF terminator", protocol.ErrBadHeader)
	}

	body := string(raw[1 : len(raw)-2])
	star := strings.LastIndexByte(body, '*')
	if star < 0 || len(body)-star != 3 {
		return nil, fmt.Errorf("%w: missing checksum field", protocol.ErrBadHeader)
	}

	content := body[:star]
	want, err := strconv.ParseUint(body[star+1:], 16, 8)
	if err != nil {
		return nil, fmt.Errorf("%w: bad checksum digits %q", protocol.ErrChecksum, body[star+1:])
	}
	var sum byte
	for i := 0; i < len(content); i++ {
		sum ^= content[i]
	}
	if sum != byte(want) {
		return nil, fmt.Errorf("%w: NMEA computed %02X want %02X", protocol.ErrChecksum, sum, want)
	}

	fields := strings.Split(content, ",")
	address := fields[0] // e.g. "GNGGA", "PUBX"

	msg := &protocol.Message{
		Protocol: protocol.NMEA,
		Identity: address,
		Fields:   make(map[string]interface{}),
	}

	if strings.HasPrefix(address, "P") {
		msg.Fields["proprietary"] = true
	} else if len(address) >= 5 {
		msg.Fields["talker"] = address[:2]
		msg.Fields["sentence"] = address[2:]
	}

	switch {
	case strings.HasSuffix(address, "GGA"):
		d.parseGGA(fields, msg)
	case strings.HasSuffix(address, "RMC"):
		d.parseRMC(fields, msg)
	}

	return msg, nil
}

// parseGGA extracts fix data from a GGA sentence
func (d *NMEADecoder) parseGGA(fields []string, msg *protocol.Message) {
	if len(fields) < 10 {
		return
	}

	msg.Fields["time"] = fields[1]
	msg.Fields["lat"] = parseCoord(fields[2], fields[3])
	msg.Fields["lon"] = parseCoord(fields[4], fields[5])

	if quality, err := strconv.Atoi(fields[6]); err == nil {
		msg.Fields["quality"] = quality
	}
	if numSV, err := strconv.Atoi(fields[7]); err == nil {
		msg.Fields["num_sv"] = numSV
	}
	if alt, err := strconv.ParseFloat(fields[9], 64); err == nil {
		msg.Fields["alt"] = alt
	}
}

// parseRMC extracts the recommended minimum fix from an RMC sentence
func (d *NMEADecoder) parseRMC(fields []string, msg *protocol.Message) {
	if len(fields) < 10 {
		return
	}

	msg.Fields["time"] = fields[1]
	msg.Fields["status"] = fields[2]
	msg.Fields["lat"] = parseCoord(fields[3], fields[4])
	msg.Fields["lon"] = parseCoord(fields[5], fields[6])

	if speed, err := strconv.ParseFloat(fields[7], 64); err == nil {
		msg.Fields["speed_kn"] = speed
	}
	if course, err := strconv.ParseFloat(fields[8], 64); err == nil {
		msg.Fields["course"] = course
	}
	msg.Fields["date"] = fields[9]
}

// parseCoord converts NMEA ddmm.mmmm plus hemisphere to decimal degrees
func parseCoord(value, hemi string) float64 {
	coord, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0
	}
	degrees := float64(int(coord / 100))
	minutes := coord - degrees*100
	decimal := degrees + minutes/60
	if hemi == "S" || hemi == "W" {
		decimal = -decimal
	}
	return decimal
}
