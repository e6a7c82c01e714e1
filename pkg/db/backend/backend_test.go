package backend

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/zephyr-analytics/zephscan/pkg/db"
)

func TestValidate(t *testing.T) {
	assert.NoError(t, Config{Backend: CSV, DataDir: "./csvs"}.Validate())
	assert.NoError(t, Config{Backend: Redis}.Validate())
	assert.NoError(t, Config{Backend: Postgres}.Validate())
	assert.Error(t, Config{Backend: CSV}.Validate())
	assert.Error(t, Config{Backend: "sqlite"}.Validate())
}

func TestOpenCSV(t *testing.T) {
	h, err := Open(context.Background(), Config{Backend: CSV, DataDir: t.TempDir()}, "scanner", zap.NewNop())
	require.NoError(t, err)
	defer func() { _ = h.Close() }()

	assert.Nil(t, h.Redis)
	_, ok, err := h.Progress(context.Background(), db.ProgressPricing)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOpenUnknown(t *testing.T) {
	_, err := Open(context.Background(), Config{Backend: "sqlite"}, "scanner", zap.NewNop())
	require.Error(t, err)
}
