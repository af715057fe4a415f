package domain

import (
	"fmt"
)

const (
	BatchSecure BatchTarget = iota
	BatchDelegate
)

var (
	batchTargetString = map[BatchTarget]string{
		BatchSecure:   "secure",
		BatchDelegate: "delegate",
	}
)

// BatchTarget is the kind of transactions signed for a batch of vaults.
type BatchTarget int

func (t BatchTarget) String() string {
	return batchTargetString[t]
}

// IsComplete returns whether the given vault doesn't need to be signed for
// the target anymore.
func (t BatchTarget) IsComplete(v *Vault) bool {
	if t == BatchDelegate {
		return v.IsActive()
	}
	return v.IsSecured()
}

// PendingStatus returns the status of the vaults to sign for the target.
func (t BatchTarget) PendingStatus() VaultStatus {
	if t == BatchDelegate {
		return VaultStatusSecured
	}
	return VaultStatusFunded
}

// BatchItem wraps a vault with its completion flag.
type BatchItem struct {
	Vault     *Vault
	Completed bool
}

// Batch is a set of vaults signed together for the same target. Completed
// items are never returned as pending again.
type Batch struct {
	Target BatchTarget
	items  []*BatchItem
	index  map[Outpoint]int
}

func NewBatch(target BatchTarget, vaults []*Vault) *Batch {
	b := &Batch{
		Target: target,
		items:  make([]*BatchItem, 0, len(vaults)),
		index:  make(map[Outpoint]int),
	}
	for _, v := range vaults {
		if _, ok := b.index[v.Outpoint]; ok {
			continue
		}
		b.index[v.Outpoint] = len(b.items)
		b.items = append(b.items, &BatchItem{v, target.IsComplete(v)})
	}
	return b
}

func (b *Batch) Items() []BatchItem {
	items := make([]BatchItem, 0, len(b.items))
	for _, item := range b.items {
		items = append(items, *item)
	}
	return items
}

// Pending returns the vaults not yet completed, in insertion order.
func (b *Batch) Pending() []*Vault {
	vaults := make([]*Vault, 0)
	for _, item := range b.items {
		if !item.Completed {
			vaults = append(vaults, item.Vault)
		}
	}
	return vaults
}

// Completed returns the outpoints of completed vaults, in insertion order.
func (b *Batch) Completed() []Outpoint {
	outpoints := make([]Outpoint, 0)
	for _, item := range b.items {
		if item.Completed {
			outpoints = append(outpoints, item.Vault.Outpoint)
		}
	}
	return outpoints
}

func (b *Batch) IsDone() bool {
	return len(b.Pending()) == 0
}

// MarkCompleted flags the given vault as completed and returns whether it
// was pending.
func (b *Batch) MarkCompleted(outpoint Outpoint) (bool, error) {
	i, ok := b.index[outpoint]
	if !ok {
		return false, fmt.Errorf("vault %s is not part of the batch", outpoint)
	}
	if b.items[i].Completed {
		return false, nil
	}
	b.items[i].Completed = true
	return true, nil
}
