package spopbuf

// SPOP variable-length integers use the HAProxy "Peers" encoding:
//
//	       0 <= X < 240        : 1 byte  [ XXXX XXXX ]
//	     240 <= X < 2288       : 2 bytes [ 1111 XXXX ] [ 0XXX XXXX ]
//	    2288 <= X < 264432     : 3 bytes [ 1111 XXXX ] [ 1XXX XXXX ]   [ 0XXX XXXX ]
//	  264432 <= X < 33818864   : 4 bytes [ 1111 XXXX ] [ 1XXX XXXX ]*2 [ 0XXX XXXX ]
//	  ...
//
// The first byte carries the low 4 bits when >= 240; each continuation
// byte contributes 7 more bits at shifts 4, 11, 18, ... A continuation
// byte with the high bit clear terminates the value, so the encoding is
// self-terminating. 2^64-1 occupies 10 bytes; anything longer is rejected.

// maxVarintContinuation is the largest number of continuation bytes a
// 64-bit value can need (shifts 4 through 60).
const maxVarintContinuation = 9

// VarintLen returns the number of bytes WriteVarint produces for n.
func VarintLen(n uint64) int {
	if n < 0xF0 {
		return 1
	}
	size := 2
	n = (n - 0xF0) >> 4
	for n >= 0x80 {
		n = (n - 0x80) >> 7
		size++
	}
	return size
}

// WriteVarint appends n in SPOP varint encoding.
func (b *Buffer) WriteVarint(n uint64) {
	if n < 0xF0 {
		b.WriteUint8(uint8(n))
		return
	}
	b.WriteUint8(uint8(n) | 0xF0)
	n = (n - 0xF0) >> 4
	for n >= 0x80 {
		b.WriteUint8(uint8(n) | 0x80)
		n = (n - 0x80) >> 7
	}
	b.WriteUint8(uint8(n))
}

// ReadVarint decodes a SPOP varint. It returns ErrShortBuffer if the value
// is truncated and ErrVarintOverflow if it runs past the widest encoding a
// 64-bit value can have.
func (r *Reader) ReadVarint() (uint64, error) {
	first, err := r.ReadUint8()
	if err != nil {
		return 0, err
	}
	if first < 0xF0 {
		return uint64(first), nil
	}
	n := uint64(first)
	shift := uint(4)
	for i := 0; ; i++ {
		if i == maxVarintContinuation {
			return 0, ErrVarintOverflow
		}
		b, err := r.ReadUint8()
		if err != nil {
			return 0, err
		}
		n += uint64(b) << shift
		shift += 7
		if b < 0x80 {
			return n, nil
		}
	}
}
