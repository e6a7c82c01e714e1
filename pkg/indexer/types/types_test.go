package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStageResult(t *testing.T) {
	r := StageResult{From: 10, To: 9}
	assert.True(t, r.Empty())
	assert.Zero(t, r.SkippedTotal())

	r = StageResult{From: 10, To: 20, Skipped: map[string]int{ReasonBlockUnavailable: 2, ReasonTxUnavailable: 3}}
	assert.False(t, r.Empty())
	assert.Equal(t, 5, r.SkippedTotal())
}
