package shared

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestReconciliationRequest_Validate(t *testing.T) {
	valid := ReconciliationRequest{RequestID: uuid.New(), Window: 24 * time.Hour}
	assert.NoError(t, valid.Validate())

	missingID := ReconciliationRequest{}
	assert.ErrorIs(t, missingID.Validate(), ErrInvalidReconciliationRequest)

	negative := ReconciliationRequest{RequestID: uuid.New(), Window: -time.Hour}
	assert.ErrorIs(t, negative.Validate(), ErrInvalidReconciliationRequest)
}
