package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lumipay/reconciliation-service/internal/config"
	"github.com/lumipay/reconciliation-service/internal/domain"
)

func TestInitStorage_MemorySeedsDefaultMerchant(t *testing.T) {
	cfg := &config.Config{} // no DB_HOST selects the in-memory store

	repos, health, cleanup, err := initStorage(cfg, zap.NewNop())
	require.NoError(t, err)
	defer cleanup()
	require.NotNil(t, health)

	merchant, err := repos.merchants.GetByCode(context.Background(), domain.DefaultMerchantCode)
	require.NoError(t, err)
	assert.True(t, merchant.IsDefault())
	// Seeded inactive, like the migration: deliveries fail closed until an
	// operator configures a callback destination.
	assert.False(t, merchant.IsActive)
	assert.False(t, merchant.CanDeliver())
}
