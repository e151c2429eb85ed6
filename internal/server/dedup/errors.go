package dedup

import "errors"

// ErrNoDataChunksFound is returned by Restore when a user has no inode
// entry for the requested path.
var ErrNoDataChunksFound = errors.New("dedup: no recipe entry for user/path")
