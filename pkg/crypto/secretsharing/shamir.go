// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-shardfs.
//
// go-shardfs is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package secretsharing

import (
	"fmt"
	"strconv"
	"strings"
)

// Share is a single point (X, Y) on the sharing polynomial.
type Share struct {
	X uint64 // evaluation point, 1..nShares
	Y uint64 // polynomial value, < Prime
}

// String renders the share as "x:y".
func (s Share) String() string {
	return fmt.Sprintf("%d:%d", s.X, s.Y)
}

// ParseShare parses the "x:y" form produced by Share.String.
func ParseShare(s string) (Share, error) {
	xs, ys, ok := strings.Cut(s, ":")
	if !ok {
		return Share{}, fmt.Errorf("%w: %q is not of the form x:y", ErrInvalidShare, s)
	}
	x, err := strconv.ParseUint(xs, 10, 64)
	if err != nil {
		return Share{}, fmt.Errorf("%w: x: %v", ErrInvalidShare, err)
	}
	y, err := strconv.ParseUint(ys, 10, 64)
	if err != nil {
		return Share{}, fmt.Errorf("%w: y: %v", ErrInvalidShare, err)
	}
	share := Share{X: x, Y: y}
	if err := share.validate(); err != nil {
		return Share{}, err
	}
	return share, nil
}

func (s Share) validate() error {
	if s.X == 0 || s.X >= Prime {
		return fmt.Errorf("%w: x=%d outside [1, p-1]", ErrInvalidShare, s.X)
	}
	if s.Y >= Prime {
		return fmt.Errorf("%w: y=%d outside [0, p-1]", ErrInvalidShare, s.Y)
	}
	return nil
}

// Split divides secret into nShares shares, any nRequired of which recover it.
// The secret is reduced modulo Prime. Coefficients come from crypto/rand.
func Split(secret uint64, nShares, nRequired int) ([]Share, error) {
	if err := checkCounts(nShares, nRequired); err != nil {
		return nil, err
	}

	coeffs, err := polynomial(secret%Prime, nRequired)
	if err != nil {
		return nil, err
	}

	shares := make([]Share, nShares)
	for i := range shares {
		x := uint64(i + 1)
		shares[i] = Share{X: x, Y: evaluatePolynomial(coeffs, x)}
	}
	return shares, nil
}

// Recover reconstructs the secret from the first threshold shares.
func Recover(shares []Share, threshold int) (uint64, error) {
	if threshold < 1 {
		return 0, fmt.Errorf("%w: threshold must be at least 1, got %d", ErrInvalidParameters, threshold)
	}
	if len(shares) < threshold {
		return 0, fmt.Errorf("%w: need %d, got %d", ErrInsufficientShares, threshold, len(shares))
	}

	shares = shares[:threshold]
	seen := make(map[uint64]struct{}, threshold)
	for _, s := range shares {
		if err := s.validate(); err != nil {
			return 0, err
		}
		if _, dup := seen[s.X]; dup {
			return 0, fmt.Errorf("%w: x=%d", ErrDuplicateShare, s.X)
		}
		seen[s.X] = struct{}{}
	}

	return lagrangeInterpolate(shares), nil
}

// checkCounts validates share and threshold counts before anything is
// allocated for them.
func checkCounts(nShares, nRequired int) error {
	if nRequired < 1 {
		return fmt.Errorf("%w: threshold must be at least 1, got %d", ErrInvalidParameters, nRequired)
	}
	if nShares < nRequired {
		return fmt.Errorf("%w: total shares (%d) must be >= threshold (%d)",
			ErrInvalidParameters, nShares, nRequired)
	}
	if uint64(nShares) >= Prime {
		return fmt.Errorf("%w: too many shares: %d", ErrInvalidParameters, nShares)
	}
	return nil
}

// polynomial returns [a0, a1, ..., a(degree)] with a0 = constant and random
// higher coefficients, for a polynomial with n terms.
func polynomial(constant uint64, n int) ([]uint64, error) {
	coeffs := make([]uint64, n)
	coeffs[0] = constant
	for i := 1; i < n; i++ {
		c, err := randomElement()
		if err != nil {
			return nil, err
		}
		coeffs[i] = c
	}
	return coeffs, nil
}

// evaluatePolynomial evaluates the polynomial at x using Horner's method:
// p(x) = a0 + x(a1 + x(a2 + ... + x*an))
func evaluatePolynomial(coeffs []uint64, x uint64) uint64 {
	if len(coeffs) == 0 {
		return 0
	}
	result := coeffs[len(coeffs)-1]
	for i := len(coeffs) - 2; i >= 0; i-- {
		result = addMod(mulMod(result, x), coeffs[i])
	}
	return result
}

// lagrangeInterpolate evaluates the interpolating polynomial at x = 0.
// Shares must have distinct, nonzero x coordinates.
func lagrangeInterpolate(shares []Share) uint64 {
	var result uint64
	for i := range shares {
		xi := shares[i].X

		numerator, denominator := uint64(1), uint64(1)
		for j := range shares {
			if i == j {
				continue
			}
			xj := shares[j].X
			numerator = mulMod(numerator, subMod(0, xj))
			denominator = mulMod(denominator, subMod(xi, xj))
		}

		// denominator is nonzero because the x coordinates are distinct
		inv, _ := invMod(denominator)
		basis := mulMod(numerator, inv)
		result = addMod(result, mulMod(shares[i].Y, basis))
	}
	return result
}
