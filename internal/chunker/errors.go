package chunker

import "fmt"

func errInvalidSizes(c Config) error {
	return fmt.Errorf("chunker: invalid sizes: need min(%d) < avg(%d) < max(%d)",
		c.MinChunkSize, c.AvgChunkSize, c.MaxChunkSize)
}

func errNotPowerOfTwo(avg uint32) error {
	return fmt.Errorf("chunker: avg chunk size %d must be a power of two", avg)
}
