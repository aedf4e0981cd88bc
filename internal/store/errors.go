package store

import "github.com/pkg/errors"

// Sentinel errors the command interpreter maps onto RESP simple-errors.
var (
	ErrWrongType    = errors.New("WRONGTYPE Operation against a key holding the wrong kind of value")
	ErrNotAnInteger = errors.New("ERR value is not an integer or out of range")

	ErrStreamIDMustBeGreater = errors.New("ERR The ID specified in XADD is equal or smaller than the target stream top item")
	ErrStreamIDMustBeNonZero = errors.New("ERR The ID specified in XADD must be greater than 0-0")
)
