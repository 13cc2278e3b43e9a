package configs

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		old, had := os.LookupEnv(k)
		os.Unsetenv(k)
		t.Cleanup(func() {
			if had {
				os.Setenv(k, old)
			}
		})
	}
}

func TestLoad_FailsFastWithoutPrivateKey(t *testing.T) {
	clearEnv(t, "PRIVATE_KEY")
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PRIVATE_KEY")
}

func TestLoad_AppliesDefaults(t *testing.T) {
	clearEnv(t, "PRIVATE_KEY", "CHECK_INTERVAL", "SLIPPAGE_BPS", "RANGE_MULTIPLIER", "REBALANCE_THRESHOLD", "GAS_STRATEGY")
	os.Setenv("PRIVATE_KEY", "0xabc")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 30_000_000_000, int(cfg.CheckInterval))
	assert.Equal(t, 300, cfg.SlippageBps)
	assert.Equal(t, 20.0, cfg.MinSwapValueUSDC)
	assert.False(t, cfg.AutoRebalance)
	assert.Equal(t, 2.6, cfg.RangeMultiplier)
	assert.Equal(t, 20.0, cfg.RebalanceThresholdPct)
	assert.Equal(t, "auto", string(cfg.GasStrategy))
}

func TestLoad_RejectsUnknownGasStrategy(t *testing.T) {
	clearEnv(t, "PRIVATE_KEY", "GAS_STRATEGY")
	os.Setenv("PRIVATE_KEY", "0xabc")
	os.Setenv("GAS_STRATEGY", "yolo")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GAS_STRATEGY")
}

func TestLoad_RejectsInvalidAllowedRouter(t *testing.T) {
	clearEnv(t, "PRIVATE_KEY", "ALLOWED_ROUTERS")
	os.Setenv("PRIVATE_KEY", "0xabc")
	os.Setenv("ALLOWED_ROUTERS", "not-an-address")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ALLOWED_ROUTERS")
}

func TestLoad_ParsesAllowedRouters(t *testing.T) {
	clearEnv(t, "PRIVATE_KEY", "ALLOWED_ROUTERS")
	os.Setenv("PRIVATE_KEY", "0xabc")
	os.Setenv("ALLOWED_ROUTERS", "0x0000000000000000000000000000000000000001,0x0000000000000000000000000000000000000002")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Len(t, cfg.Aggregator.AllowedRouters, 2)
}

func TestContractBook_Factories_RejectsInvalidAddress(t *testing.T) {
	book := ContractBook{Factories: []ContractEntry{{Address: "nope", FeeTier: 500}}}
	_, _, err := book.Factories()
	require.Error(t, err)
}

func TestContractBook_Factories_ResolvesAddressesAndFeeTiers(t *testing.T) {
	book := ContractBook{Factories: []ContractEntry{
		{Address: "0x0000000000000000000000000000000000000001", FeeTier: 500},
		{Address: "0x0000000000000000000000000000000000000002", FeeTier: 3000},
	}}
	addrs, fees, err := book.Factories()
	require.NoError(t, err)
	require.Len(t, addrs, 2)
	require.Len(t, fees, 2)
	assert.Equal(t, int64(500), fees[0].Int64())
	assert.Equal(t, int64(3000), fees[1].Int64())
}
