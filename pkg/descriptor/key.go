package descriptor

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/vulpemventures/vault-cosigner/pkg/bip32path"
)

// Key is a key expression of a descriptor. It is either a static compressed
// public key or an extended public key with a trailing wildcard, optionally
// prefixed by its origin info.
type Key struct {
	fingerprint []byte
	originPath  bip32path.Path
	xpub        *hdkeychain.ExtendedKey
	steps       bip32path.Path
	pubkey      *btcec.PublicKey
}

// IsExtended returns whether the key is derived per derivation index.
func (k *Key) IsExtended() bool {
	return k.xpub != nil
}

// Fingerprint returns the fingerprint declared for the key in PSBTs, that is
// the origin one if specified or that of the extended key itself otherwise.
func (k *Key) Fingerprint() uint32 {
	if len(k.fingerprint) > 0 {
		return binary.LittleEndian.Uint32(k.fingerprint)
	}
	if k.xpub == nil {
		return 0
	}
	pubkey, _ := k.xpub.ECPubKey()
	return binary.LittleEndian.Uint32(btcutil.Hash160(pubkey.SerializeCompressed())[:4])
}

// PathAt returns the full derivation path of the key for the given index.
func (k *Key) PathAt(index uint32) bip32path.Path {
	return k.originPath.Extend(k.steps).Child(index)
}

// PubKeyAt returns the public key for the given derivation index.
func (k *Key) PubKeyAt(index uint32) (*btcec.PublicKey, error) {
	if k.xpub == nil {
		return k.pubkey, nil
	}
	child, err := k.steps.Child(index).Derive(k.xpub)
	if err != nil {
		return nil, err
	}
	return child.ECPubKey()
}

func (k *Key) derivationAt(index uint32) (*psbt.Bip32Derivation, error) {
	pubkey, err := k.PubKeyAt(index)
	if err != nil {
		return nil, err
	}
	return &psbt.Bip32Derivation{
		PubKey:               pubkey.SerializeCompressed(),
		MasterKeyFingerprint: k.Fingerprint(),
		Bip32Path:            k.PathAt(index),
	}, nil
}

func (k *Key) String() string {
	if k.xpub == nil {
		return hex.EncodeToString(k.pubkey.SerializeCompressed())
	}

	var b strings.Builder
	if len(k.fingerprint) > 0 {
		b.WriteString("[")
		b.WriteString(hex.EncodeToString(k.fingerprint))
		if len(k.originPath) > 0 {
			b.WriteString("/")
			b.WriteString(k.originPath.RelativeString())
		}
		b.WriteString("]")
	}
	b.WriteString(k.xpub.String())
	if len(k.steps) > 0 {
		b.WriteString("/")
		b.WriteString(k.steps.RelativeString())
	}
	b.WriteString("/*")
	return b.String()
}

func parseKey(str string) (*Key, error) {
	str = strings.TrimSpace(str)
	key := &Key{}

	if strings.HasPrefix(str, "[") {
		end := strings.Index(str, "]")
		if end < 0 {
			return nil, fmt.Errorf("unterminated key origin in '%s'", str)
		}
		origin := strings.SplitN(str[1:end], "/", 2)
		fingerprint, err := hex.DecodeString(origin[0])
		if err != nil || len(fingerprint) != 4 {
			return nil, ErrInvalidFingerprint
		}
		key.fingerprint = fingerprint
		if len(origin) > 1 {
			path, err := bip32path.ParseSteps(origin[1])
			if err != nil {
				return nil, fmt.Errorf("invalid key origin path: %w", err)
			}
			key.originPath = path
		}
		str = str[end+1:]
	}

	if len(str) == 66 {
		buf, err := hex.DecodeString(str)
		if err == nil {
			pubkey, err := btcec.ParsePubKey(buf)
			if err != nil {
				return nil, fmt.Errorf("invalid public key '%s': %w", str, err)
			}
			if len(key.fingerprint) > 0 {
				return nil, fmt.Errorf("key origin is only supported for extended keys")
			}
			key.pubkey = pubkey
			return key, nil
		}
	}

	elems := strings.Split(str, "/")
	last := elems[len(elems)-1]
	if last == "*'" || last == "*h" {
		return nil, ErrHardenedWildcard
	}
	if len(elems) < 2 || last != "*" {
		return nil, ErrMissingWildcard
	}

	xpub, err := hdkeychain.NewKeyFromString(elems[0])
	if err != nil {
		return nil, fmt.Errorf("invalid extended key: %w", err)
	}
	if xpub.IsPrivate() {
		return nil, ErrPrivateKey
	}
	key.xpub = xpub

	steps, err := bip32path.ParseSteps(strings.Join(elems[1:len(elems)-1], "/"))
	if err != nil {
		return nil, err
	}
	if !steps.IsUnhardened() {
		return nil, ErrHardenedWildcard
	}
	key.steps = steps

	return key, nil
}
