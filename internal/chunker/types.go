// Package chunker implements content-defined and fixed-size chunking of a
// raw byte stream. A Chunker emits Chunks with stable
// boundaries: the same bytes always split the same way regardless of how
// the caller buffers its reads.
package chunker

// Chunk is a single piece of a file produced by a Chunker. Fingerprint and
// segmentation/key fields are populated by later pipeline stages as the
// chunk moves from chunking through segmentation, key exchange and
// encoding.
type Chunk struct {
	ID          uint64
	SegID       uint64
	Payload     []byte
	FP          []byte // populated by internal/hasher
	Key         []byte // populated by internal/keyexchange
	End         bool   // true on the final chunk of the stream
	KMCloudIdx  uint8
}

// Mode selects the chunking strategy.
type Mode int

const (
	// Fixed partitions the input into back-to-back blocks of AvgChunkSize.
	Fixed Mode = iota
	// Variable uses a Rabin-style rolling hash to find content-defined anchors.
	Variable
	// Trace synthesizes chunks from a recorded (fp, size) trace for
	// reproducible dedup measurement.
	Trace
)

// Config parameterizes a Chunker.
type Config struct {
	Mode          Mode
	MinChunkSize  uint32
	AvgChunkSize  uint32
	MaxChunkSize  uint32
}

// Validate checks the chunker preconditions. Violations are fatal
// construction errors.
func (c Config) Validate() error {
	if c.Mode != Variable {
		return nil
	}
	if !(c.MinChunkSize < c.AvgChunkSize && c.AvgChunkSize < c.MaxChunkSize) {
		return errInvalidSizes(c)
	}
	if c.AvgChunkSize&(c.AvgChunkSize-1) != 0 {
		return errNotPowerOfTwo(c.AvgChunkSize)
	}
	return nil
}
