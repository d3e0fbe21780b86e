package manager

import "errors"

// ErrBlockNotFound is returned by CheckTarget when the referenced block
// hash is unknown to the feed.
var ErrBlockNotFound = errors.New("manager: block not found")

// ErrInvalidOrExpiredPoC is returned by CheckTarget when no LocalPoC exists
// for the given onion-key-hash.
var ErrInvalidOrExpiredPoC = errors.New("manager: invalid or expired poc")

// ErrMismatchedBlockHash is returned by CheckTarget when the stored
// LocalPoC's block hash differs from the one supplied.
var ErrMismatchedBlockHash = errors.New("manager: mismatched block hash")
