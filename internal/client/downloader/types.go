// Package downloader implements the fault-tolerant download/restore path
// symmetric to internal/client/uploader and internal/dispatch: per-cloud
// metadata retrieval, data streaming, and k-of-N erasure decode with one
// cloud allowed to be unavailable.
package downloader

import "github.com/metadedup/metadedup/internal/erasure"

// MetaListEntry summarizes, for one (segment, cloud) pair, the run of
// secret IDs that cloud's shares cover and the share_id it assigned
// them. ShareID is -1 when this cloud acted as the KM for that segment
// and therefore holds no real share, or when the "last-share special"
// flag asked the server to hide it.
type MetaListEntry struct {
	SegID       uint64
	ShareID     int32
	EndSecretID int64
}

// CloudShare is one share body received from one cloud for one secret ID.
type CloudShare struct {
	CloudIndex int
	SecretID   int64
	ShareID    int32
	Body       []byte
}

// Params mirrors erasure.Params but is named for the download side: N
// total shares in the deployment (one cloud is KM and excluded per
// segment), m parity, and the hash size matching the upload's security
// level.
type Params struct {
	NumClouds int
	Parity    int
	HashSize  int
}

func (p Params) erasureParams() erasure.Params {
	return erasure.Params{Total: p.NumClouds - 1, Parity: p.Parity, HashSize: p.HashSize}
}

func (p Params) k() int { return p.NumClouds - 1 - p.Parity }
