// Package descriptor parses the subset of output script descriptors used to
// describe vault scripts and derives them at a given index.
//
// Supported expressions: wsh(X) with X built out of pk(), multi(),
// sortedmulti(), older(), and_v() and andor() fragments, plus the v: wrapper.
package descriptor

import (
	"crypto/sha256"
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

const maxMultiKeys = 20

// Descriptor is a parsed wsh() output descriptor.
type Descriptor struct {
	root fragment
}

// Parse parses the given descriptor string. The trailing checksum is
// optional but, if present, must be valid.
func Parse(desc string) (*Descriptor, error) {
	desc = strings.TrimSpace(desc)
	if desc == "" {
		return nil, ErrMissingDescriptor
	}
	body, err := splitChecksum(desc)
	if err != nil {
		return nil, err
	}

	inner, ok := unwrap(body, "wsh")
	if !ok {
		return nil, ErrUnsupportedDescriptor
	}
	root, err := parseFragment(inner)
	if err != nil {
		return nil, err
	}
	if isVerify(root) {
		return nil, fmt.Errorf("top level fragment must not be a verify one")
	}
	return &Descriptor{root}, nil
}

// String returns the descriptor with its checksum.
func (d *Descriptor) String() string {
	body := fmt.Sprintf("wsh(%s)", d.root)
	sum, _ := Checksum(body)
	return fmt.Sprintf("%s#%s", body, sum)
}

// Keys returns all key expressions of the descriptor in order of appearance.
func (d *Descriptor) Keys() []*Key {
	return d.root.keys()
}

// Derive derives the descriptor at the given index.
func (d *Descriptor) Derive(index uint32) (*Derived, error) {
	if index >= hdkeychain.HardenedKeyStart {
		return nil, ErrInvalidIndex
	}

	builder := txscript.NewScriptBuilder()
	if err := d.root.compile(builder, index); err != nil {
		return nil, fmt.Errorf("failed to derive descriptor at index %d: %w", index, err)
	}
	script, err := builder.Script()
	if err != nil {
		return nil, err
	}

	derivations := make([]*psbt.Bip32Derivation, 0)
	seen := make(map[string]struct{})
	for _, key := range d.root.keys() {
		if !key.IsExtended() {
			continue
		}
		derivation, err := key.derivationAt(index)
		if err != nil {
			return nil, err
		}
		if _, ok := seen[string(derivation.PubKey)]; ok {
			continue
		}
		seen[string(derivation.PubKey)] = struct{}{}
		derivations = append(derivations, derivation)
	}

	return &Derived{
		index:         index,
		witnessScript: script,
		derivations:   derivations,
		satisfaction:  d.root.satisfaction(),
	}, nil
}

// Derived is a descriptor derived at a given index.
type Derived struct {
	index         uint32
	witnessScript []byte
	derivations   []*psbt.Bip32Derivation
	satisfaction  witnessSize
}

func (d *Derived) Index() uint32 {
	return d.index
}

func (d *Derived) WitnessScript() []byte {
	return append([]byte{}, d.witnessScript...)
}

// ScriptPubKey returns the P2WSH output script.
func (d *Derived) ScriptPubKey() []byte {
	hash := sha256.Sum256(d.witnessScript)
	script, _ := txscript.NewScriptBuilder().
		AddOp(txscript.OP_0).AddData(hash[:]).Script()
	return script
}

// Address returns the P2WSH address for the given network.
func (d *Derived) Address(net *chaincfg.Params) (btcutil.Address, error) {
	hash := sha256.Sum256(d.witnessScript)
	return btcutil.NewAddressWitnessScriptHash(hash[:], net)
}

// Bip32Derivations returns the BIP32 derivation info of every extended key
// of the descriptor, ready to be added to a PSBT input or output.
func (d *Derived) Bip32Derivations() []*psbt.Bip32Derivation {
	derivations := make([]*psbt.Bip32Derivation, 0, len(d.derivations))
	for _, der := range d.derivations {
		derivations = append(derivations, &psbt.Bip32Derivation{
			PubKey:               append([]byte{}, der.PubKey...),
			MasterKeyFingerprint: der.MasterKeyFingerprint,
			Bip32Path:            append([]uint32{}, der.Bip32Path...),
		})
	}
	return derivations
}

// MaxSatisfactionSize returns the maximum size in bytes (ie. weight units)
// of the witness spending an output locked by this descriptor.
func (d *Derived) MaxSatisfactionSize() int {
	items := d.satisfaction.items + 1
	return wire.VarIntSerializeSize(uint64(items)) +
		d.satisfaction.bytes +
		wire.VarIntSerializeSize(uint64(len(d.witnessScript))) +
		len(d.witnessScript)
}

func parseFragment(str string) (fragment, error) {
	str = strings.TrimSpace(str)
	verify := false
	if strings.HasPrefix(str, "v:") {
		verify = true
		str = str[2:]
	}

	open := strings.Index(str, "(")
	if open <= 0 || !strings.HasSuffix(str, ")") {
		return nil, fmt.Errorf("malformed fragment '%s'", str)
	}
	name := str[:open]
	args, err := splitArgs(str[open+1 : len(str)-1])
	if err != nil {
		return nil, err
	}

	switch name {
	case "pk":
		if len(args) != 1 {
			return nil, fmt.Errorf("pk() takes exactly one key")
		}
		key, err := parseKey(args[0])
		if err != nil {
			return nil, err
		}
		return &pkFragment{key, verify}, nil
	case "multi", "sortedmulti":
		if len(args) < 2 {
			return nil, fmt.Errorf("%s() needs a threshold and at least one key", name)
		}
		threshold, err := strconv.Atoi(strings.TrimSpace(args[0]))
		if err != nil {
			return nil, fmt.Errorf("invalid threshold '%s'", args[0])
		}
		if len(args)-1 > maxMultiKeys {
			return nil, ErrTooManyKeys
		}
		if threshold < 1 || threshold > len(args)-1 {
			return nil, ErrInvalidThreshold
		}
		keys := make([]*Key, 0, len(args)-1)
		for _, arg := range args[1:] {
			key, err := parseKey(arg)
			if err != nil {
				return nil, err
			}
			keys = append(keys, key)
		}
		return &multiFragment{threshold, keys, name == "sortedmulti", verify}, nil
	case "older":
		if len(args) != 1 {
			return nil, fmt.Errorf("older() takes exactly one argument")
		}
		sequence, err := strconv.ParseUint(strings.TrimSpace(args[0]), 10, 32)
		if err != nil || sequence == 0 || sequence >= 1<<31 {
			return nil, fmt.Errorf("invalid relative locktime '%s'", args[0])
		}
		return &olderFragment{uint32(sequence), verify}, nil
	case "and_v":
		if verify {
			return nil, fmt.Errorf("v: wrapper is not supported for and_v()")
		}
		if len(args) != 2 {
			return nil, fmt.Errorf("and_v() takes exactly two arguments")
		}
		left, err := parseFragment(args[0])
		if err != nil {
			return nil, err
		}
		if !isVerify(left) {
			return nil, fmt.Errorf("first argument of and_v() must be a v: fragment")
		}
		right, err := parseFragment(args[1])
		if err != nil {
			return nil, err
		}
		return &andVFragment{left, right}, nil
	case "andor":
		if verify {
			return nil, fmt.Errorf("v: wrapper is not supported for andor()")
		}
		if len(args) != 3 {
			return nil, fmt.Errorf("andor() takes exactly three arguments")
		}
		frags := make([]fragment, 0, 3)
		for _, arg := range args {
			frag, err := parseFragment(arg)
			if err != nil {
				return nil, err
			}
			frags = append(frags, frag)
		}
		if _, ok := frags[0].dissatisfaction(); !ok {
			return nil, fmt.Errorf("first argument of andor() must be dissatisfiable: %w", ErrNotDerivable)
		}
		return &andOrFragment{frags[0], frags[1], frags[2]}, nil
	default:
		return nil, fmt.Errorf("unsupported fragment '%s'", name)
	}
}

func isVerify(f fragment) bool {
	switch v := f.(type) {
	case *pkFragment:
		return v.verify
	case *multiFragment:
		return v.verify
	case *olderFragment:
		return v.verify
	default:
		return false
	}
}

func unwrap(str, name string) (string, bool) {
	prefix := name + "("
	if !strings.HasPrefix(str, prefix) || !strings.HasSuffix(str, ")") {
		return "", false
	}
	return str[len(prefix) : len(str)-1], true
}

// splitArgs splits a comma separated argument list, ignoring the commas
// nested into parentheses or key origin brackets.
func splitArgs(str string) ([]string, error) {
	args := make([]string, 0)
	depth := 0
	start := 0
	for i, c := range str {
		switch c {
		case '(', '[':
			depth++
		case ')', ']':
			depth--
			if depth < 0 {
				return nil, fmt.Errorf("unbalanced parentheses in '%s'", str)
			}
		case ',':
			if depth == 0 {
				args = append(args, str[start:i])
				start = i + 1
			}
		}
	}
	if depth != 0 {
		return nil, fmt.Errorf("unbalanced parentheses in '%s'", str)
	}
	return append(args, str[start:]), nil
}
