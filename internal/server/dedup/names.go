package dedup

import "github.com/metadedup/metadedup/internal/constants"

// Name is a 16-byte lexicographically-incrementable identifier assigned
// to recipe files and share containers. It is a big-endian byte counter: the
// simplest structure that is both a total order under byte comparison
// and trivially incrementable.
type Name [constants.NameLength]byte

// Next returns the lexicographically-next name, incrementing as a
// big-endian counter with carry. Overflowing all 16 bytes panics: at
// 2^128 names per cloud this is not a condition any real deployment
// reaches, and silently wrapping would violate the monotonicity
// invariant.
func (n Name) Next() Name {
	out := n
	for i := len(out) - 1; i >= 0; i-- {
		out[i]++
		if out[i] != 0 {
			return out
		}
	}
	panic("dedup: Name counter overflowed all 16 bytes")
}

// Less reports whether n sorts strictly before other.
func (n Name) Less(other Name) bool {
	for i := range n {
		if n[i] != other[i] {
			return n[i] < other[i]
		}
	}
	return false
}

// String renders the name as hex, for logs.
func (n Name) String() string {
	const hex = "0123456789abcdef"
	buf := make([]byte, len(n)*2)
	for i, b := range n {
		buf[i*2] = hex[b>>4]
		buf[i*2+1] = hex[b&0xF]
	}
	return string(buf)
}
