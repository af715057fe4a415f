package descriptor

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/btcsuite/btcd/txscript"
)

// Maximum size of an ECDSA signature with its sighash type byte.
const maxSigSize = 73

// witnessSize is the size of a witness stack satisfying (or dissatisfying)
// a fragment: the number of stack items and their serialized size,
// length prefixes included.
type witnessSize struct {
	items int
	bytes int
}

func (s witnessSize) add(o witnessSize) witnessSize {
	return witnessSize{s.items + o.items, s.bytes + o.bytes}
}

func maxSize(a, b witnessSize) witnessSize {
	if b.bytes > a.bytes {
		return b
	}
	return a
}

// fragment is a node of the script tree of a descriptor.
type fragment interface {
	compile(b *txscript.ScriptBuilder, index uint32) error
	satisfaction() witnessSize
	dissatisfaction() (witnessSize, bool)
	keys() []*Key
	String() string
}

type pkFragment struct {
	key    *Key
	verify bool
}

func (f *pkFragment) compile(b *txscript.ScriptBuilder, index uint32) error {
	pubkey, err := f.key.PubKeyAt(index)
	if err != nil {
		return err
	}
	b.AddData(pubkey.SerializeCompressed())
	if f.verify {
		b.AddOp(txscript.OP_CHECKSIGVERIFY)
	} else {
		b.AddOp(txscript.OP_CHECKSIG)
	}
	return nil
}

func (f *pkFragment) satisfaction() witnessSize {
	return witnessSize{1, 1 + maxSigSize}
}

func (f *pkFragment) dissatisfaction() (witnessSize, bool) {
	return witnessSize{1, 1}, !f.verify
}

func (f *pkFragment) keys() []*Key {
	return []*Key{f.key}
}

func (f *pkFragment) String() string {
	return fmt.Sprintf("%spk(%s)", verifyPrefix(f.verify), f.key)
}

type multiFragment struct {
	threshold int
	pubkeys   []*Key
	sorted    bool
	verify    bool
}

func (f *multiFragment) compile(b *txscript.ScriptBuilder, index uint32) error {
	serialized := make([][]byte, 0, len(f.pubkeys))
	for _, key := range f.pubkeys {
		pubkey, err := key.PubKeyAt(index)
		if err != nil {
			return err
		}
		serialized = append(serialized, pubkey.SerializeCompressed())
	}
	if f.sorted {
		sort.SliceStable(serialized, func(i, j int) bool {
			return bytes.Compare(serialized[i], serialized[j]) < 0
		})
	}

	b.AddInt64(int64(f.threshold))
	for _, pubkey := range serialized {
		b.AddData(pubkey)
	}
	b.AddInt64(int64(len(serialized)))
	if f.verify {
		b.AddOp(txscript.OP_CHECKMULTISIGVERIFY)
	} else {
		b.AddOp(txscript.OP_CHECKMULTISIG)
	}
	return nil
}

// The extra empty item is consumed by the CHECKMULTISIG off-by-one bug.
func (f *multiFragment) satisfaction() witnessSize {
	return witnessSize{f.threshold + 1, 1 + f.threshold*(1+maxSigSize)}
}

func (f *multiFragment) dissatisfaction() (witnessSize, bool) {
	return witnessSize{f.threshold + 1, f.threshold + 1}, !f.verify
}

func (f *multiFragment) keys() []*Key {
	return f.pubkeys
}

func (f *multiFragment) String() string {
	name := "multi"
	if f.sorted {
		name = "sortedmulti"
	}
	keys := make([]string, 0, len(f.pubkeys))
	for _, k := range f.pubkeys {
		keys = append(keys, k.String())
	}
	return fmt.Sprintf(
		"%s%s(%d,%s)", verifyPrefix(f.verify), name, f.threshold,
		strings.Join(keys, ","),
	)
}

type olderFragment struct {
	sequence uint32
	verify   bool
}

func (f *olderFragment) compile(b *txscript.ScriptBuilder, _ uint32) error {
	b.AddInt64(int64(f.sequence)).AddOp(txscript.OP_CHECKSEQUENCEVERIFY)
	if f.verify {
		b.AddOp(txscript.OP_VERIFY)
	}
	return nil
}

func (f *olderFragment) satisfaction() witnessSize {
	return witnessSize{}
}

func (f *olderFragment) dissatisfaction() (witnessSize, bool) {
	return witnessSize{}, false
}

func (f *olderFragment) keys() []*Key {
	return nil
}

func (f *olderFragment) String() string {
	return fmt.Sprintf("%solder(%d)", verifyPrefix(f.verify), f.sequence)
}

type andVFragment struct {
	left, right fragment
}

func (f *andVFragment) compile(b *txscript.ScriptBuilder, index uint32) error {
	if err := f.left.compile(b, index); err != nil {
		return err
	}
	return f.right.compile(b, index)
}

func (f *andVFragment) satisfaction() witnessSize {
	return f.left.satisfaction().add(f.right.satisfaction())
}

func (f *andVFragment) dissatisfaction() (witnessSize, bool) {
	return witnessSize{}, false
}

func (f *andVFragment) keys() []*Key {
	return append(append([]*Key{}, f.left.keys()...), f.right.keys()...)
}

func (f *andVFragment) String() string {
	return fmt.Sprintf("and_v(%s,%s)", f.left, f.right)
}

// andOrFragment compiles andor(X,Y,Z) as "X NOTIF Z ELSE Y ENDIF".
type andOrFragment struct {
	cond, then, otherwise fragment
}

func (f *andOrFragment) compile(b *txscript.ScriptBuilder, index uint32) error {
	if err := f.cond.compile(b, index); err != nil {
		return err
	}
	b.AddOp(txscript.OP_NOTIF)
	if err := f.otherwise.compile(b, index); err != nil {
		return err
	}
	b.AddOp(txscript.OP_ELSE)
	if err := f.then.compile(b, index); err != nil {
		return err
	}
	b.AddOp(txscript.OP_ENDIF)
	return nil
}

func (f *andOrFragment) satisfaction() witnessSize {
	condSat := f.cond.satisfaction().add(f.then.satisfaction())
	condDissat, _ := f.cond.dissatisfaction()
	return maxSize(condSat, condDissat.add(f.otherwise.satisfaction()))
}

func (f *andOrFragment) dissatisfaction() (witnessSize, bool) {
	condDissat, ok := f.cond.dissatisfaction()
	if !ok {
		return witnessSize{}, false
	}
	otherwiseDissat, ok := f.otherwise.dissatisfaction()
	if !ok {
		return witnessSize{}, false
	}
	return condDissat.add(otherwiseDissat), true
}

func (f *andOrFragment) keys() []*Key {
	keys := append([]*Key{}, f.cond.keys()...)
	keys = append(keys, f.then.keys()...)
	return append(keys, f.otherwise.keys()...)
}

func (f *andOrFragment) String() string {
	return fmt.Sprintf("andor(%s,%s,%s)", f.cond, f.then, f.otherwise)
}

func verifyPrefix(verify bool) string {
	if verify {
		return "v:"
	}
	return ""
}
