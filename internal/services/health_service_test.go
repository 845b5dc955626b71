package services

import (
	"context"
	"errors"
	"testing"

	"github.com/nimasrn/payment-reconciler/test/helpers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHealthService_Check(t *testing.T) {
	db := helpers.SetupTestDB(t)
	mr, adapter := helpers.SetupTestRedis(t)

	svc := NewHealthService(db, adapter)
	report, err := svc.Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"postgres": "up", "redis": "up"}, report)

	mr.Close()
	report, err = svc.Check(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis")
	assert.Equal(t, "down", report["redis"])
	assert.Equal(t, "up", report["postgres"])
}

func TestHealthService_SkipsMissingDependency(t *testing.T) {
	svc := NewHealthService(pingFunc(func(context.Context) error { return errors.New("refused") }), nil)
	report, err := svc.Check(context.Background())
	require.Error(t, err)
	assert.Equal(t, map[string]string{"postgres": "down"}, report)
}
