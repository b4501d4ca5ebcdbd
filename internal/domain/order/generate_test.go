package order

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTrackingKey(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		key, err := NewTrackingKey("SL")
		require.NoError(t, err)
		assert.Len(t, key, 22)
		assert.Equal(t, "SL", key[:2])
		assert.False(t, seen[key], "tracking keys must not repeat")
		seen[key] = true

		o := validOrder()
		o.TrackingKey = key
		assert.Empty(t, Validate(o))
	}

	_, err := NewTrackingKey("THIS_PREFIX_IS_WAY_TOO_LONG_FOR_IT")
	assert.Error(t, err)
}

func TestNewNumericalReference(t *testing.T) {
	for i := 0; i < 100; i++ {
		ref, err := NewNumericalReference()
		require.NoError(t, err)
		assert.GreaterOrEqual(t, ref, int32(1))
		assert.LessOrEqual(t, ref, int32(MaxNumericalReference))
	}
}
