// Package naming picks output file names.
package naming

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"

	"github.com/AnyUserName/avifbatch/internal/hasher"
)

// Mode selects how an output name is derived.
type Mode string

const (
	Same   Mode = "same"   // source stem
	XXHash Mode = "xxhash" // xxhash64 of the encoded bytes
	MD5    Mode = "md5"
	SHA256 Mode = "sha256"
	Blake2 Mode = "blake2" // 16-byte BLAKE2b
	Random Mode = "random"
)

// Ext is appended to every output name.
const Ext = ".avif"

// Modes lists the accepted modes.
var Modes = []Mode{Same, XXHash, MD5, SHA256, Blake2, Random}

// Parse validates a mode name. An empty name means Same.
func Parse(s string) (Mode, error) {
	if s == "" {
		return Same, nil
	}
	m := Mode(strings.ToLower(s))
	for _, known := range Modes {
		if m == known {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown naming mode %q (want one of %v)", s, Modes)
}

// ContentBased reports whether the name depends on the encoded bytes, which
// means it is only known after encoding.
func (m Mode) ContentBased() bool {
	switch m {
	case XXHash, MD5, SHA256, Blake2:
		return true
	}
	return false
}

// Name returns the output file name (with extension) for a source stem and
// its encoded bytes.
func (m Mode) Name(stem string, encoded []byte) string {
	switch m {
	case XXHash:
		return hasher.ContentHash(encoded, 16) + Ext
	case MD5:
		sum := md5.Sum(encoded)
		return hex.EncodeToString(sum[:]) + Ext
	case SHA256:
		sum := sha256.Sum256(encoded)
		return hex.EncodeToString(sum[:]) + Ext
	case Blake2:
		h, _ := blake2b.New(16, nil) // only fails for sizes outside 1..64 or long keys
		h.Write(encoded)
		return hex.EncodeToString(h.Sum(nil)) + Ext
	case Random:
		return strings.ReplaceAll(uuid.NewString(), "-", "") + Ext
	default:
		return stem + Ext
	}
}
