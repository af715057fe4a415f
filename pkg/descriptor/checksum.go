package descriptor

import (
	"strings"
)

// Descriptor checksum as defined in BIP-380.

const (
	inputCharset = "0123456789()[],'/*abcdefgh@:$%{}" +
		"IJKLMNOPQRSTUVWXYZ&+-.;<=>?!^_|~" +
		"ijklmnopqrstuvwxyzABCDEFGH`#\"\\ "
	checksumCharset = "qpzry9x8gf2tvdw0s3jn54khce6mua7l"
	checksumLen     = 8
)

var generator = []uint64{
	0xf5dee51989, 0xa9fdca3312, 0x1bab10e32d, 0x3706b1677a, 0x644d626ffd,
}

func polymod(symbols []uint64) uint64 {
	chk := uint64(1)
	for _, value := range symbols {
		top := chk >> 35
		chk = (chk&0x7ffffffff)<<5 ^ value
		for i := 0; i < 5; i++ {
			if (top>>uint(i))&1 == 1 {
				chk ^= generator[i]
			}
		}
	}
	return chk
}

func expand(s string) ([]uint64, bool) {
	symbols := make([]uint64, 0, len(s)+len(s)/3+1)
	groups := make([]uint64, 0, 3)
	for _, c := range s {
		v := strings.IndexRune(inputCharset, c)
		if v < 0 {
			return nil, false
		}
		symbols = append(symbols, uint64(v&31))
		groups = append(groups, uint64(v>>5))
		if len(groups) == 3 {
			symbols = append(symbols, groups[0]*9+groups[1]*3+groups[2])
			groups = groups[:0]
		}
	}
	switch len(groups) {
	case 1:
		symbols = append(symbols, groups[0])
	case 2:
		symbols = append(symbols, groups[0]*3+groups[1])
	}
	return symbols, true
}

// Checksum returns the 8 characters checksum of the given descriptor string.
func Checksum(desc string) (string, error) {
	symbols, ok := expand(desc)
	if !ok {
		return "", ErrInvalidChecksum
	}
	symbols = append(symbols, 0, 0, 0, 0, 0, 0, 0, 0)
	chk := polymod(symbols) ^ 1

	buf := make([]byte, checksumLen)
	for i := 0; i < checksumLen; i++ {
		buf[i] = checksumCharset[(chk>>(5*(7-uint(i))))&31]
	}
	return string(buf), nil
}

// splitChecksum separates the descriptor from its optional checksum and
// verifies the latter when present.
func splitChecksum(desc string) (string, error) {
	i := strings.LastIndex(desc, "#")
	if i < 0 {
		return desc, nil
	}
	body, sum := desc[:i], desc[i+1:]
	if len(sum) != checksumLen {
		return "", ErrInvalidChecksum
	}
	expected, err := Checksum(body)
	if err != nil {
		return "", err
	}
	if expected != sum {
		return "", ErrInvalidChecksum
	}
	return body, nil
}
