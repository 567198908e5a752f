package cache

import (
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"

	"github.com/pario-ai/google-proxy/pkg/codec"
	"github.com/pario-ai/google-proxy/pkg/models"
)

// Fingerprint returns the hex BLAKE3-256 digest of the deterministic CBOR
// encoding of o. Structurally equal requests have equal fingerprints.
func Fingerprint(o models.Outbound) (string, error) {
	data, err := codec.Marshal(o)
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
