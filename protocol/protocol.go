// Package protocol implements the checksums of the SD SPI wire format and
// the framed, sequenced link used to reach a remote SPI bridge.
package protocol

// Version is reported by the bridge in its identify response
const Version = "0.1.0"

// Protocol constants
const (
	MessageMax     = 512 // Output scratch size, room for a response plus its ACK
	MessageMin     = 5   // Minimum message size (header + CRC)
	MessageHeader  = 2   // Message header size
	MessageTrailer = 3   // Message trailer size (CRC)

	// Message sequence masks
	MessageSeqMask  = 0x0F
	MessageSeqShift = 4
)
