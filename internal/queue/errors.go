package queue

import "errors"

// ErrAlreadyLeased signals that another consumer currently holds the lease
// for the envelope's report. The caller should move on to other work.
var ErrAlreadyLeased = errors.New("report already leased")

// ErrNotLeaseHolder signals a heartbeat or ack from a consumer whose lease
// has been lost (expired and reclaimed, or never held).
var ErrNotLeaseHolder = errors.New("not the lease holder")
