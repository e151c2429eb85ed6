package downloader

import "fmt"

// ErrInsufficientClouds is returned when fewer than k clouds contributed
// a usable share for some secret ID, which the original client treats as
// a fail-stop condition. The CLI maps this to a non-zero exit.
type ErrInsufficientClouds struct {
	SecretID int64
	Have     int
	Need     int
}

func (e *ErrInsufficientClouds) Error() string {
	return fmt.Sprintf("downloader: secret %d has only %d usable shares, need %d", e.SecretID, e.Have, e.Need)
}

// ErrMetaListNotAscending reports a server returning end_secret_id values
// that are not strictly ascending for one cloud.
type ErrMetaListNotAscending struct {
	CloudIndex int
	Prev, Got  int64
}

func (e *ErrMetaListNotAscending) Error() string {
	return fmt.Sprintf("downloader: cloud %d sent non-ascending end_secret_id (%d after %d)", e.CloudIndex, e.Got, e.Prev)
}
