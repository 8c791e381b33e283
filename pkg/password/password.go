// Package password provides one-way credential hashing with a tunable work
// factor. Hashes are self-describing bcrypt strings (algorithm, cost, salt
// and digest in one value), so the cost can be raised without migrating
// stored hashes.
package password

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// ErrHashFormat signals a corrupt or unsupported stored hash. Callers must
// treat it as a failed verification and may log it; it never reaches clients.
var ErrHashFormat = errors.New("password: malformed hash")

// ErrEmptyPassword is returned when hashing an empty password.
var ErrEmptyPassword = errors.New("password: empty password")

// Hasher hashes and verifies passwords with a configured default cost.
// The zero value is not usable; construct with New.
type Hasher struct {
	cost int
}

// New returns a Hasher with the given default cost. Costs outside bcrypt's
// supported range fall back to bcrypt.DefaultCost.
func New(cost int) *Hasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &Hasher{cost: cost}
}

// Hash produces a salted hash of password at the default cost.
func (h *Hasher) Hash(password string) (string, error) {
	return h.HashWithCost(password, h.cost)
}

// HashWithCost produces a salted hash at an explicit cost, allowing staged
// cost increases without reconfiguring the service.
func (h *Hasher) HashWithCost(password string, cost int) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = h.cost
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// Verify recomputes the hash using the parameters embedded in hashString and
// compares in constant time. A mismatch returns (false, nil); a malformed
// stored hash returns (false, ErrHashFormat) so callers can log it while
// still failing closed.
func (h *Hasher) Verify(hashString, password string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(hashString), []byte(password))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, ErrHashFormat
	}
}

// Cost reports the cost parameter embedded in hashString, or ErrHashFormat.
func Cost(hashString string) (int, error) {
	cost, err := bcrypt.Cost([]byte(hashString))
	if err != nil {
		return 0, ErrHashFormat
	}
	return cost, nil
}
