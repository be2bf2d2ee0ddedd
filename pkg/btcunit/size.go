package btcunit

import "fmt"

// VByte is a transaction size in virtual bytes: the transaction weight
// divided by four, rounded up, per BIP-141.
type VByte uint64

// NewVByte creates a size of the given number of virtual bytes.
func NewVByte(val uint64) VByte {
	return VByte(val)
}

// String returns the size with its unit suffix.
func (v VByte) String() string {
	return fmt.Sprintf("%d vb", uint64(v))
}
