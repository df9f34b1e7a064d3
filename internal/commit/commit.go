// Package commit implements the commitment codec of the commit-reveal vote:
// salts, hashes and their verification. It is pure and performs no I/O.
package commit

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/cometbft/cometbft/crypto/tmhash"
)

// SaltLength is the number of hex characters in a salt.
const SaltLength = 4

// Commitment binds a salt and price string to a voter. It is never mutated
// once built.
type Commitment struct {
	Salt        string
	PriceString string
	Voter       string
	Hash        string
}

// MakeSalt derives a salt from entropy: the first SaltLength hex characters
// of its SHA-256 digest.
func MakeSalt(entropy string) string {
	sum := sha256.Sum256([]byte(entropy))
	return hex.EncodeToString(sum[:])[:SaltLength]
}

// NewSalt derives a salt from the nanosecond timestamp of now.
func NewSalt(now time.Time) string {
	return MakeSalt(strconv.FormatInt(now.UnixNano(), 10))
}

// MakeHash computes the hash the oracle module verifies a reveal against:
// the truncated SHA-256 of "salt:priceString:voter" as 40 lowercase hex characters.
func MakeHash(salt, priceString, voter string) string {
	payload := fmt.Sprintf("%s:%s:%s", salt, priceString, voter)
	return hex.EncodeToString(tmhash.SumTruncated([]byte(payload)))
}

// New builds a commitment.
func New(salt, priceString, voter string) Commitment {
	return Commitment{
		Salt:        salt,
		PriceString: priceString,
		Voter:       voter,
		Hash:        MakeHash(salt, priceString, voter),
	}
}

// Verify reports whether the stored hash matches the committed values.
func (c Commitment) Verify() bool {
	return c.Hash != "" && c.Hash == MakeHash(c.Salt, c.PriceString, c.Voter)
}
