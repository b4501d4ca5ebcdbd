package order

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const trackingAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// NewTrackingKey returns prefix followed by random characters from crypto/rand,
// filling the rail's 30 character limit.
func NewTrackingKey(prefix string) (string, error) {
	if len(prefix) >= MaxTrackingKeyLength {
		return "", fmt.Errorf("tracking key prefix %q is too long", prefix)
	}

	n := MaxTrackingKeyLength - len(prefix)
	if n > 20 {
		n = 20
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate tracking key: %w", err)
	}
	for i, b := range buf {
		buf[i] = trackingAlphabet[int(b)%len(trackingAlphabet)]
	}
	return prefix + string(buf), nil
}

// NewNumericalReference returns a random reference in [1, 9999999].
func NewNumericalReference() (int32, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(MaxNumericalReference))
	if err != nil {
		return 0, fmt.Errorf("failed to generate numerical reference: %w", err)
	}
	return int32(n.Int64()) + 1, nil
}
