package storage

import "pipay/pkg/platform/sentinel"

// ErrNotFound is returned (possibly wrapped) by every backend for missing
// sessions and receipts.
var ErrNotFound = sentinel.ErrNotFound
