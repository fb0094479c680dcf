package protocol

import "errors"

// Decode failure reasons, wrapped with frame detail by the decoders
var (
	ErrTruncated = errors.New("frame truncated")
	ErrBadHeader = errors.New("invalid frame header")
	ErrLength    = errors.New("frame length mismatch")
	ErrChecksum  = errors.New("checksum mismatch")
)

// MessageDecoder decodes one protocol's complete raw frames.
// Implementations are stateless; a decode error never affects framing.
type MessageDecoder interface {
	// Decode translates a complete raw frame to a Message
	Decode(raw []byte) (*Message, error)

	// Protocol returns the protocol identifier
	Protocol() string
}

// Decoder dispatches a raw frame to the decoder for the tagged protocol.
// The framer classifies frames and selects the protocol tag.
type Decoder interface {
	Decode(protocol string, raw []byte) (*Message, error)
}
