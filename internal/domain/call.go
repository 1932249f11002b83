package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Call describes who invoked an engine operation and how much native currency
// was attached to the invocation.
type Call struct {
	Caller common.Address
	Value  *big.Int
}

// AttachedValue returns the attached native value, treating nil as zero.
func (c Call) AttachedValue() *big.Int {
	if c.Value == nil {
		return new(big.Int)
	}
	return c.Value
}
