package protocol

import "sync/atomic"

// scanner splits a byte stream into blocks and tracks synchronization.
// After a bad block it drops bytes up to the next sync byte.
type scanner struct {
	desynced bool
	// acceptSeq filters sequence bytes; nil accepts all.
	acceptSeq func(seq uint8) bool
	// onResync runs when a sync byte ends a desynchronized stretch.
	onResync func()
	// Errors counts blocks dropped for bad length, sequence or checksum.
	// The host transport reads it from outside its reader goroutine.
	Errors atomic.Uint32
}

// scan hands every complete, valid block in data to emit and returns how many
// bytes were consumed. An incomplete block at the end is left for the next
// call.
func (s *scanner) scan(data []byte, emit func(seq uint8, payload []byte)) int {
	start := len(data)
	for len(data) > 0 {
		if s.desynced {
			i := indexByte(data, SyncByte)
			if i < 0 {
				data = nil
				break
			}
			data = data[i+1:]
			s.desynced = false
			if s.onResync != nil {
				s.onResync()
			}
			continue
		}
		if data[0] == SyncByte {
			data = data[1:]
			continue
		}
		if len(data) < BlockMin {
			break
		}
		n := int(data[posLen])
		seq := data[posSeq]
		if n < BlockMin || n > BlockMax || (s.acceptSeq != nil && !s.acceptSeq(seq)) {
			s.drop()
			continue
		}
		if len(data) < n {
			break
		}
		block := data[:n]
		data = data[n:]
		if !validTrailer(block) {
			s.drop()
			continue
		}
		emit(seq, block[HeaderSize:n-TrailerSize])
	}
	return start - len(data)
}

func (s *scanner) drop() {
	s.desynced = true
	s.Errors.Add(1)
}

func (s *scanner) reset() {
	s.desynced = false
}

func validTrailer(block []byte) bool {
	n := len(block)
	if block[n-1] != SyncByte {
		return false
	}
	want := uint16(block[n-3])<<8 | uint16(block[n-2])
	return CRC16(block[:n-TrailerSize]) == want
}

func indexByte(b []byte, c byte) int {
	for i, x := range b {
		if x == c {
			return i
		}
	}
	return -1
}

// AppendBlock appends a complete block carrying payload with sequence seq.
// It returns dst unchanged and false when payload does not fit in one block.
func AppendBlock(dst []byte, seq uint8, payload []byte) ([]byte, bool) {
	n := HeaderSize + len(payload) + TrailerSize
	if n > BlockMax {
		return dst, false
	}
	start := len(dst)
	dst = append(dst, byte(n), seq)
	dst = append(dst, payload...)
	crc := CRC16(dst[start:])
	return append(dst, byte(crc>>8), byte(crc), SyncByte), true
}
