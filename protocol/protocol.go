// Package protocol implements the framed serial protocol between pwmctl and
// the firmware. It is wire compatible with Klipper's MCU protocol: every block
// is
//
//	len | seq | payload ... | crc_hi | crc_lo | 0x7E
//
// where payload is a sequence of VLQ-encoded messages, each a command or
// response id followed by its arguments.
package protocol

// Version is reported in the data dictionary.
const Version = "0.1.0"

// Block layout
const (
	HeaderSize  = 2
	TrailerSize = 3
	BlockMin    = HeaderSize + TrailerSize
	BlockMax    = 64

	posLen = 0
	posSeq = 1

	SyncByte = 0x7E
	DestBits = 0x10 // high nibble of every sequence byte
	SeqMask  = 0x0F
)

// OutputMax is the size of a ScratchOutput. It holds several blocks so the
// firmware can batch responses between USB writes.
const OutputMax = 512

// nextSeq returns the sequence number that follows seq.
func nextSeq(seq uint8) uint8 {
	return (seq+1)&SeqMask | DestBits
}
