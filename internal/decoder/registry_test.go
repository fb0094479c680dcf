package decoder_test

import (
	"testing"

	"github.com/casterbn/PyGPSClient/internal/decoder"
	"github.com/casterbn/PyGPSClient/internal/protocol"
)

func TestRegistryDispatch(t *testing.T) {
	reg := decoder.NewRegistry()

	cases := []struct {
		tag string
		raw []byte
	}{
		{protocol.UBX, buildUBX(0x05, 0x01, []byte{0x06, 0x08})},
		{protocol.NMEA, buildNMEA("GPGLL,4717.11,N,00833.91,E,092725.00,A,A")},
		{protocol.RTCM3, buildRTCM(payloadWithType(1006, 5, 21))},
	}
	for _, tc := range cases {
		msg, err := reg.Decode(tc.tag, tc.raw)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tc.tag, err)
		}
		if msg.Protocol != tc.tag {
			t.Fatalf("%s: message tagged %s", tc.tag, msg.Protocol)
		}
	}
}

func TestRegistryUnknownProtocol(t *testing.T) {
	if _, err := decoder.NewRegistry().Decode("SBF", []byte{0x24, 0x40}); err == nil {
		t.Fatalf("expected error for unregistered protocol")
	}
}
