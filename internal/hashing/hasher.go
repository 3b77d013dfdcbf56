package hashing

import (
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/blake2b"

	"github.com/The-Burnes-Center/ai-iep-sub001/internal/config"
)

// Hasher derives stable, non-reversible identifiers from phone numbers for
// log fields, limiter keys and event keys.
type Hasher struct {
	key []byte
}

func NewHasher(cfg *config.Config) *Hasher {
	return NewHasherWithPepper(cfg.Hashing.PhonePepper)
}

// NewHasherWithPepper keys BLAKE2b with the pepper. Peppers longer than the
// 64-byte BLAKE2b key limit are compressed with an unkeyed digest first.
func NewHasherWithPepper(pepper string) *Hasher {
	key := []byte(pepper)
	if len(key) > blake2b.Size {
		sum := blake2b.Sum512(key)
		key = sum[:]
	}
	return &Hasher{key: key}
}

// HashPhone returns the hex digest of the normalized phone number.
func (h *Hasher) HashPhone(phoneNumber string) string {
	mac, err := blake2b.New256(h.key)
	if err != nil {
		// Only reachable with a key over 64 bytes, which NewHasherWithPepper prevents.
		panic(err)
	}
	mac.Write([]byte(normalize(phoneNumber)))
	return hex.EncodeToString(mac.Sum(nil))
}

func normalize(phoneNumber string) string {
	return strings.NewReplacer(" ", "", "-", "", "(", "", ")", "").Replace(strings.TrimSpace(phoneNumber))
}
