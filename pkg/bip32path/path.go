package bip32path

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
)

// Path is the data structure representing a BIP32 derivation path.
type Path []uint32

// Parse converts a derivation path in string format, either absolute
// ("m/48'/0'/0'") or relative ("0/1"), to a Path. Hardened steps can be
// marked either with ' or with h.
func Parse(strPath string) (Path, error) {
	return parse(strPath, false)
}

// ParseAbsolute is like Parse but requires the path to start with "m/".
func ParseAbsolute(strPath string) (Path, error) {
	return parse(strPath, true)
}

// ParseSteps parses a relative path whose first element might be a single
// step, as found after an extended key or a key fingerprint in descriptors
// (ie. "0/1" or "48'").
func ParseSteps(strPath string) (Path, error) {
	if strPath == "" {
		return Path{}, nil
	}
	return parseElems(strings.Split(strPath, "/"))
}

func (p Path) String() string {
	if len(p) <= 0 {
		return "m"
	}
	return "m/" + p.RelativeString()
}

// RelativeString returns the path without the leading "m/".
func (p Path) RelativeString() string {
	elems := make([]string, 0, len(p))
	for _, step := range p {
		if step >= hdkeychain.HardenedKeyStart {
			elems = append(elems, fmt.Sprintf("%d'", step-hdkeychain.HardenedKeyStart))
			continue
		}
		elems = append(elems, fmt.Sprintf("%d", step))
	}
	return strings.Join(elems, "/")
}

// Child returns a copy of the path extended with the given step.
func (p Path) Child(step uint32) Path {
	child := make(Path, 0, len(p)+1)
	child = append(child, p...)
	return append(child, step)
}

// Extend returns a copy of the path followed by all the given steps.
func (p Path) Extend(steps Path) Path {
	path := make(Path, 0, len(p)+len(steps))
	path = append(path, p...)
	return append(path, steps...)
}

// IsUnhardened returns whether none of the path steps is hardened, that is
// whether the path can be followed from an extended public key.
func (p Path) IsUnhardened() bool {
	for _, step := range p {
		if step >= hdkeychain.HardenedKeyStart {
			return false
		}
	}
	return true
}

// Derive follows the path from the given extended key.
func (p Path) Derive(key *hdkeychain.ExtendedKey) (*hdkeychain.ExtendedKey, error) {
	var err error
	for _, step := range p {
		key, err = key.Derive(step)
		if err != nil {
			return nil, err
		}
	}
	return key, nil
}

func parse(strPath string, checkAbsolutePath bool) (Path, error) {
	if strPath == "" {
		return nil, ErrMissingDerivationPath
	}

	elems := strings.Split(strPath, "/")
	if containsEmptyString(elems) {
		return nil, ErrMalformedDerivationPath
	}
	if checkAbsolutePath {
		if strings.TrimSpace(elems[0]) != "m" {
			return nil, ErrRequiredAbsoluteDerivationPath
		}
	}
	if len(elems) < 2 {
		return nil, ErrMalformedDerivationPath
	}
	if strings.TrimSpace(elems[0]) == "m" {
		elems = elems[1:]
	}

	return parseElems(elems)
}

func parseElems(elems []string) (Path, error) {
	if containsEmptyString(elems) {
		return nil, ErrMalformedDerivationPath
	}

	path := make(Path, 0, len(elems))
	for _, elem := range elems {
		elem = strings.TrimSpace(elem)
		var value uint32

		if strings.HasSuffix(elem, "'") || strings.HasSuffix(elem, "h") {
			value = hdkeychain.HardenedKeyStart
			elem = strings.TrimSpace(elem[:len(elem)-1])
		}

		// Steps are plain decimal numbers, hardening is explicit only.
		step, err := strconv.ParseUint(elem, 10, 32)
		if err != nil {
			if errors.Is(err, strconv.ErrRange) {
				return nil, fmt.Errorf("%w, got %s", ErrStepOutOfRange, elem)
			}
			return nil, fmt.Errorf("invalid elem '%s' in path", elem)
		}
		if step >= hdkeychain.HardenedKeyStart {
			return nil, fmt.Errorf("%w, got %d", ErrStepOutOfRange, step)
		}
		value += uint32(step)

		path = append(path, value)
	}

	return path, nil
}

func containsEmptyString(composedPath []string) bool {
	for _, s := range composedPath {
		if strings.TrimSpace(s) == "" {
			return true
		}
	}
	return false
}
