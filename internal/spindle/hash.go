package spindle

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// domainKey is a 32-byte key for BLAKE3 keyed hashing. Domain separation
// keeps an output hash from ever colliding with a diff or plan hash for the
// same bytes, so the detector's windows never cross-contaminate. The byte
// values are the ASCII encoding of the domain name, zero-padded to 32 bytes,
// which keeps them readable in hex dumps.
type domainKey [32]byte

var (
	outputDomainKey = domainKey{
		't', 'i', 'l', 'l', 'e', 'r', '.', 's', 'p', 'i', 'n', 'd', 'l', 'e', '.',
		'o', 'u', 't', 'p', 'u', 't',
	}
	diffDomainKey = domainKey{
		't', 'i', 'l', 'l', 'e', 'r', '.', 's', 'p', 'i', 'n', 'd', 'l', 'e', '.',
		'd', 'i', 'f', 'f',
	}
	planDomainKey = domainKey{
		't', 'i', 'l', 'l', 'e', 'r', '.', 's', 'p', 'i', 'n', 'd', 'l', 'e', '.',
		'p', 'l', 'a', 'n',
	}
	commandDomainKey = domainKey{
		't', 'i', 'l', 'l', 'e', 'r', '.', 's', 'p', 'i', 'n', 'd', 'l', 'e', '.',
		'c', 'o', 'm', 'm', 'a', 'n', 'd',
	}
)

// hashInDomain returns the hex encoding of the first 16 bytes of the keyed
// BLAKE3 digest of content. 16 bytes is plenty for window comparison and
// keeps persisted state files compact.
func hashInDomain(key domainKey, content string) string {
	h, err := blake3.NewKeyed(key[:])
	if err != nil {
		// The key length is fixed at compile time; NewKeyed cannot fail.
		panic(err)
	}
	_, _ = h.Write([]byte(content))
	sum := h.Sum(nil)
	return hex.EncodeToString(sum[:16])
}

// HashOutput hashes raw agent output for the repetition window.
func HashOutput(content string) string { return hashInDomain(outputDomainKey, content) }

// HashDiff hashes a unified diff for the oscillation window.
func HashDiff(content string) string { return hashInDomain(diffDomainKey, content) }

// HashPlan hashes a serialized plan for replan-loop detection.
func HashPlan(content string) string { return hashInDomain(planDomainKey, content) }

// HashCommandFailure hashes a failing-command signature (command plus the
// salient error line) for the ping-pong and repeat-failure windows.
func HashCommandFailure(signature string) string {
	return hashInDomain(commandDomainKey, signature)
}
