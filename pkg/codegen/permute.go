package codegen

import (
	"fmt"
	"math/bits"
	"strings"
)

const (
	// Base62 alphabet (0-9, a-z, A-Z) - URL safe characters
	base62Alphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
	base62         = 62
)

// Permutation maps allocator indices to short codes through the affine
// bijection y = (a*i + b) mod N with N = 62^length. Distinct indices always
// map to distinct fixed-width base-62 strings, and decoding inverts the map
// via the modular inverse of a.
type Permutation struct {
	a      uint64
	b      uint64
	aInv   uint64
	n      uint64
	length int
}

// NewPermutation creates a validated affine permutation over [0, 62^length).
// The multiplier a must be odd and not divisible by 31 so that it is coprime
// to 62 and therefore to N.
func NewPermutation(a, b int64, length int) (*Permutation, error) {
	if length != 6 && length != 7 {
		return nil, fmt.Errorf("code length must be 6 or 7, got %d", length)
	}

	n := uint64(1)
	for i := 0; i < length; i++ {
		n *= base62
	}

	if a <= 0 || uint64(a) >= n {
		return nil, fmt.Errorf("multiplier a must be in (0, %d), got %d", n, a)
	}
	if a%2 == 0 || a%31 == 0 {
		return nil, fmt.Errorf("multiplier a must be coprime to 62, got %d", a)
	}
	if b < 0 || uint64(b) >= n {
		return nil, fmt.Errorf("offset b must be in [0, %d), got %d", n, b)
	}

	inv, err := modInverse(uint64(a), n)
	if err != nil {
		return nil, err
	}

	return &Permutation{
		a:      uint64(a),
		b:      uint64(b),
		aInv:   inv,
		n:      n,
		length: length,
	}, nil
}

// Size returns N, the size of the permutation's domain.
func (p *Permutation) Size() int64 {
	return int64(p.n)
}

// Length returns the fixed code length in base-62 digits.
func (p *Permutation) Length() int {
	return p.length
}

// Encode maps index i to its fixed-width short code.
func (p *Permutation) Encode(i int64) (string, error) {
	if i < 0 || uint64(i) >= p.n {
		return "", fmt.Errorf("index %d out of range [0, %d)", i, p.n)
	}

	y := mulMod(p.a, uint64(i), p.n)
	y = (y + p.b) % p.n

	buf := make([]byte, p.length)
	for pos := p.length - 1; pos >= 0; pos-- {
		buf[pos] = base62Alphabet[y%base62]
		y /= base62
	}
	return string(buf), nil
}

// Decode maps a short code back to its allocator index.
func (p *Permutation) Decode(code string) (int64, error) {
	if len(code) != p.length {
		return 0, fmt.Errorf("code %q has length %d, want %d", code, len(code), p.length)
	}

	var y uint64
	for _, ch := range []byte(code) {
		digit := strings.IndexByte(base62Alphabet, ch)
		if digit < 0 {
			return 0, fmt.Errorf("code %q contains invalid character %q", code, ch)
		}
		y = y*base62 + uint64(digit)
	}

	// i = aInv * (y - b) mod N
	y = (y + p.n - p.b) % p.n
	return int64(mulMod(p.aInv, y, p.n)), nil
}

// mulMod computes (x * y) mod n without overflowing, using the full 128-bit
// product. Safe for any n below 2^63.
func mulMod(x, y, n uint64) uint64 {
	hi, lo := bits.Mul64(x, y)
	// hi < n always holds here because x, y < n < 2^63.
	_, rem := bits.Div64(hi, lo, n)
	return rem
}

// modInverse returns a^-1 mod n via the extended Euclidean algorithm.
func modInverse(a, n uint64) (uint64, error) {
	t, newT := int64(0), int64(1)
	r, newR := int64(n), int64(a)

	for newR != 0 {
		q := r / newR
		t, newT = newT, t-q*newT
		r, newR = newR, r-q*newR
	}

	if r != 1 {
		return 0, fmt.Errorf("%d has no inverse mod %d", a, n)
	}
	if t < 0 {
		t += int64(n)
	}
	return uint64(t), nil
}

// IsValidCode reports whether code could have been produced by a permutation
// of the given length: correct width, base-62 characters only.
func IsValidCode(code string, length int) bool {
	if len(code) != length {
		return false
	}
	for i := 0; i < len(code); i++ {
		if strings.IndexByte(base62Alphabet, code[i]) < 0 {
			return false
		}
	}
	return true
}
