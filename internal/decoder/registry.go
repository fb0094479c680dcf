package decoder

import (
	"fmt"

	"github.com/casterbn/PyGPSClient/internal/protocol"
)

// Registry dispatches raw frames to the decoder for their protocol.
// It implements protocol.Decoder for the framer.
type Registry struct {
	decoders map[string]protocol.MessageDecoder
}

// NewRegistry creates a registry covering UBX, NMEA and RTCM3
func NewRegistry() *Registry {
	r := &Registry{decoders: make(map[string]protocol.MessageDecoder)}
	for _, d := range []protocol.MessageDecoder{
		NewUBXDecoder(),
		NewNMEADecoder(),
		NewRTCMDecoder(),
	} {
		r.decoders[d.Protocol()] = d
	}
	return r
}

// Decode translates a complete raw frame of the tagged protocol
func (r *Registry) Decode(tag string, raw []byte) (*protocol.Message, error) {
	d, ok := r.decoders[tag]
	if !ok {
		return nil, fmt.Errorf("no decoder for protocol %s", tag)
	}
	return d.Decode(raw)
}
