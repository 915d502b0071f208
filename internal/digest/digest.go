// Package digest parses expected content hashes and checks data against them.
//
// A digest is written "algo:hex", for example "sha256:9f86d0...". Bare hex
// is accepted and the algorithm is inferred from its length, which is how
// older recipes spelled md5 and sha512 sums.
package digest

import (
	"crypto/md5"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"strings"

	"lukechampine.com/blake3"
)

// Algorithm names.
const (
	MD5    = "md5"
	SHA256 = "sha256"
	SHA512 = "sha512"
	BLAKE3 = "blake3"
)

// Digest is an expected hash value.
type Digest struct {
	Algo string
	Hex  string // lower case
}

// Parse parses s as a digest.
func Parse(s string) (Digest, error) {
	s = strings.TrimSpace(s)
	algo, sum, ok := strings.Cut(s, ":")
	if !ok {
		sum = s
		switch len(s) {
		case md5.Size * 2:
			algo = MD5
		case sha256.Size * 2:
			algo = SHA256
		case sha512.Size * 2:
			algo = SHA512
		default:
			return Digest{}, fmt.Errorf("digest %q: cannot infer algorithm from %d hex digits", s, len(s))
		}
	}
	algo = strings.ToLower(algo)
	size, err := sizeOf(algo)
	if err != nil {
		return Digest{}, fmt.Errorf("digest %q: %w", s, err)
	}
	if len(sum) != size*2 {
		return Digest{}, fmt.Errorf("digest %q: %s wants %d hex digits, got %d", s, algo, size*2, len(sum))
	}
	if _, err := hex.DecodeString(sum); err != nil {
		return Digest{}, fmt.Errorf("digest %q: %w", s, err)
	}
	return Digest{Algo: algo, Hex: strings.ToLower(sum)}, nil
}

// MustParse is like Parse but panics on error. For tests and static tables.
func MustParse(s string) Digest {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

func (d Digest) String() string {
	return d.Algo + ":" + d.Hex
}

func (d Digest) MarshalText() ([]byte, error) {
	if d.IsZero() {
		return nil, nil
	}
	return []byte(d.String()), nil
}

// UnmarshalText parses text with Parse. Empty text yields the zero Digest.
func (d *Digest) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*d = Digest{}
		return nil
	}
	v, err := Parse(string(text))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// IsZero reports whether d is the zero Digest.
func (d Digest) IsZero() bool {
	return d.Algo == "" && d.Hex == ""
}

// New returns a fresh hash for d's algorithm.
func (d Digest) New() hash.Hash {
	h, err := newHash(d.Algo)
	if err != nil {
		panic(err)
	}
	return h
}

// Sum hashes everything r yields with d's algorithm and returns the hex sum.
func (d Digest) Sum(r io.Reader) (string, error) {
	h := d.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Verify reports whether the content of r matches d.
func (d Digest) Verify(r io.Reader) (bool, error) {
	sum, err := d.Sum(r)
	if err != nil {
		return false, err
	}
	return sum == d.Hex, nil
}

// Of returns the digest of data with the given algorithm.
func Of(algo string, data []byte) (Digest, error) {
	h, err := newHash(algo)
	if err != nil {
		return Digest{}, err
	}
	h.Write(data)
	return Digest{Algo: algo, Hex: hex.EncodeToString(h.Sum(nil))}, nil
}

func sizeOf(algo string) (int, error) {
	switch algo {
	case MD5:
		return md5.Size, nil
	case SHA256:
		return sha256.Size, nil
	case SHA512:
		return sha512.Size, nil
	case BLAKE3:
		return 32, nil
	}
	return 0, fmt.Errorf("unsupported algorithm %q", algo)
}

func newHash(algo string) (hash.Hash, error) {
	switch algo {
	case MD5:
		return md5.New(), nil
	case SHA256:
		return sha256.New(), nil
	case SHA512:
		return sha512.New(), nil
	case BLAKE3:
		return blake3.New(32, nil), nil
	}
	return nil, fmt.Errorf("unsupported algorithm %q", algo)
}
