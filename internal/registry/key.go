package registry

import (
	"strings"

	"github.com/koustreak/connhub/internal/database"
)

// fingerprintLen is how many hex characters of the config fingerprint a
// key carries (128 bits).
const fingerprintLen = 32

// Key identifies one cached connection: the owner plus a hash of the
// non-secret connection fields.
type Key string

// NewKey derives the key for owner and a normalized cfg. The password is
// not part of the hash.
func NewKey(owner string, cfg database.Config) Key {
	return Key(owner + "_" + cfg.Fingerprint()[:fingerprintLen])
}

// Owner returns the owner part of k.
func (k Key) Owner() string {
	i := strings.LastIndexByte(string(k), '_')
	if i < 0 {
		return ""
	}
	return string(k)[:i]
}

func (k Key) String() string { return string(k) }
