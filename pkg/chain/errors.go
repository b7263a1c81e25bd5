package chain

import "errors"

var (
	// ErrChainEnded is returned when a reply mutation reaches a chain whose
	// ended flag is already set. The flag is terminal; it never reverts.
	ErrChainEnded = errors.New("chain has ended")
	// ErrNotReplied is returned when removing a reply for an author with no
	// entry in the chain.
	ErrNotReplied = errors.New("author has not replied yet")
)
