package protocol

// Protocol identifiers
const (
	UBX   = "UBX"
	NMEA  = "NMEA"
	RTCM3 = "RTCM3"
)

// Message represents the unified decoded form across all three protocols
type Message struct {
	Protocol string                 `json:"protocol"`
	Identity string                 `json:"identity"` // "NAV-PVT", "GNGGA", "1005", ...
	Fields   map[string]interface{} `json:"fields,omitempty"`
}

// Result pairs one extracted frame's raw bytes with its decoded message.
// Msg is nil when Err is set; Raw is always the exact frame as it appeared
// on the wire.
type Result struct {
	Protocol string
	Raw      []byte
	Msg      *Message
	Err      error
}
