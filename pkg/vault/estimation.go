package vault

import (
	"github.com/btcsuite/btcd/wire"
)

// witness marker + flag
const segwitOverhead = 2

// estimateWeight returns the max weight of the given transaction once all
// its inputs are satisfied, given the max witness size of each of them.
func estimateWeight(tx *wire.MsgTx, inWitnessesSize []int) int64 {
	baseSize := tx.SerializeSizeStripped()
	witnessSize := segwitOverhead
	for _, size := range inWitnessesSize {
		witnessSize += size
	}
	totalSize := baseSize + witnessSize

	return int64(baseSize*3 + totalSize)
}

func estimateVsize(tx *wire.MsgTx, inWitnessesSize []int) int64 {
	return (estimateWeight(tx, inWitnessesSize) + 3) / 4
}
