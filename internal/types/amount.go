package types

import (
	"errors"
	"fmt"
	"math/big"
)

// maxU256 is 2^256 - 1, the largest amount representable on chain.
var maxU256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

var (
	ErrNegativeAmount = errors.New("amount must not be negative")
	ErrAmountTooLarge = errors.New("amount exceeds 256 bits")
)

// U256 is an arbitrary-precision unsigned integer capped at 256 bits.
// It marshals as a decimal string so token amounts never pass through
// floating point.
type U256 struct {
	v big.Int
}

// NewU256 builds a U256 from a uint64.
func NewU256(v uint64) *U256 {
	u := &U256{}
	u.v.SetUint64(v)
	return u
}

// ParseU256 parses a decimal string into a U256.
func ParseU256(s string) (*U256, error) {
	u := &U256{}
	if _, ok := u.v.SetString(s, 10); !ok {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	if err := u.check(); err != nil {
		return nil, err
	}
	return u, nil
}

func (u *U256) check() error {
	if u.v.Sign() < 0 {
		return ErrNegativeAmount
	}
	if u.v.Cmp(maxU256) > 0 {
		return ErrAmountTooLarge
	}
	return nil
}

// BigInt returns a copy of the underlying integer.
func (u *U256) BigInt() *big.Int {
	return new(big.Int).Set(&u.v)
}

func (u *U256) String() string {
	return u.v.String()
}

// Cmp compares u against o, returning -1, 0 or 1.
func (u *U256) Cmp(o *U256) int {
	return u.v.Cmp(&o.v)
}

func (u U256) MarshalJSON() ([]byte, error) {
	return []byte(`"` + u.v.String() + `"`), nil
}

func (u *U256) UnmarshalJSON(b []byte) error {
	s := string(b)
	// Accept both quoted decimal strings and bare JSON numbers.
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	if _, ok := u.v.SetString(s, 10); !ok {
		return fmt.Errorf("invalid amount %q", s)
	}
	return u.check()
}
