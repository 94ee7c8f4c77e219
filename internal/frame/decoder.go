// Package frame decodes raw BLE notification payloads into numeric
// readings. Frames are big-endian integers of adapter-defined length,
// optionally signed.
package frame

// DecodeUint folds b most-significant-byte first into an unsigned value:
// result = (result << 8) | byte for each byte in order. An empty frame
// decodes to 0. Frames wider than 64 bits keep their 64 low-order bits;
// in practice sensor frames are 1-4 bytes.
func DecodeUint(b []byte) uint64 {
	var v uint64
	for _, x := range b {
		v = v<<8 | uint64(x)
	}
	return v
}

// DecodeInt decodes b as a two's-complement signed integer of b's bit
// length. An empty frame decodes to 0.
func DecodeInt(b []byte) int64 {
	v := DecodeUint(b)
	if n := len(b); n > 0 && n < 8 && v&(1<<(uint(n)*8-1)) != 0 {
		v -= 1 << (uint(n) * 8)
	}
	// For 8 bytes and beyond the cast is the two's-complement
	// interpretation of the low 64 bits.
	return int64(v)
}

// Decode decodes b according to the channel's signedness. Decoding never
// fails; every input, including the empty frame, produces a defined value.
func Decode(b []byte, signed bool) int64 {
	if signed {
		return DecodeInt(b)
	}
	return int64(DecodeUint(b))
}
