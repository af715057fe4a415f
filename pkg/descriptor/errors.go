package descriptor

import (
	"fmt"
)

var (
	ErrMissingDescriptor     = fmt.Errorf("missing descriptor")
	ErrUnsupportedDescriptor = fmt.Errorf("only wsh() descriptors are supported")
	ErrInvalidChecksum       = fmt.Errorf("invalid descriptor checksum")
	ErrMissingWildcard       = fmt.Errorf("extended keys must end with a /* wildcard")
	ErrHardenedWildcard      = fmt.Errorf("hardened derivation is not supported for public descriptors")
	ErrPrivateKey            = fmt.Errorf("descriptor must not contain private keys")
	ErrInvalidFingerprint    = fmt.Errorf("key origin fingerprint must be 4 bytes in hex format")
	ErrInvalidThreshold      = fmt.Errorf("threshold must be in range [1, number of keys]")
	ErrTooManyKeys           = fmt.Errorf("multi() supports at most 20 keys")
	ErrInvalidIndex          = fmt.Errorf("derivation index must be in unhardened range [0, 2^31)")
	ErrNotDerivable          = fmt.Errorf("fragment can't be used in this position")
)
