package chain

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBaseFeeReader struct {
	baseFee   *big.Int
	gasPrice  *big.Int
	headerErr error
	gasErr    error
}

func (f fakeBaseFeeReader) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return f.gasPrice, f.gasErr
}

func (f fakeBaseFeeReader) HeaderBaseFee(ctx context.Context) (*big.Int, error) {
	return f.baseFee, f.headerErr
}

func TestFeePolicy_Compute_EIP1559NoClamp(t *testing.T) {
	reader := fakeBaseFeeReader{baseFee: big.NewInt(20_000_000_000)} // 20 gwei
	policy := NewFeePolicy(reader, FeePolicyConfig{
		MaxGasPriceWei: WeiFromGwei(100),
		PriorityFeeWei: WeiFromGwei(0.001),
	})

	fees, err := policy.Compute(context.Background())
	require.NoError(t, err)
	assert.False(t, fees.Legacy)
	assert.Equal(t, 0, fees.MaxPriorityFeePerGas.Cmp(WeiFromGwei(0.001)))
	assert.True(t, fees.MaxPriorityFeePerGas.Cmp(fees.MaxFeePerGas) <= 0)
}

func TestFeePolicy_Compute_ClampsPriorityFeeToCap(t *testing.T) {
	// baseFee alone already exceeds the configured cap, forcing maxFee down
	// to the cap; the configured priority fee is above that cap as well, so
	// priorityFee must then clamp to maxFee (testable property 4:
	// maxPriorityFeePerGas <= maxFeePerGas always holds).
	var warned string
	reader := fakeBaseFeeReader{baseFee: WeiFromGwei(500)}
	policy := NewFeePolicy(reader, FeePolicyConfig{
		MaxGasPriceWei: WeiFromGwei(100),
		PriorityFeeWei: WeiFromGwei(200),
		WarnOnClamp:    func(msg string) { warned = msg },
	})

	fees, err := policy.Compute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, fees.MaxFeePerGas.Cmp(WeiFromGwei(100)))
	assert.Equal(t, 0, fees.MaxPriorityFeePerGas.Cmp(fees.MaxFeePerGas))
	assert.NotEmpty(t, warned)
}

func TestFeePolicy_Compute_LegacyStrategyCapsGasPrice(t *testing.T) {
	reader := fakeBaseFeeReader{gasPrice: WeiFromGwei(250)}
	policy := NewFeePolicy(reader, FeePolicyConfig{
		Strategy:       GasStrategyLegacy,
		MaxGasPriceWei: WeiFromGwei(100),
	})

	fees, err := policy.Compute(context.Background())
	require.NoError(t, err)
	assert.True(t, fees.Legacy)
	assert.Equal(t, 0, fees.GasPrice.Cmp(WeiFromGwei(100)))
}

func TestFeePolicy_Compute_PropertyNeverViolatesPriorityLEMax(t *testing.T) {
	// spec.md §8 property 4, swept over a range of base fees and caps.
	for _, baseFeeGwei := range []float64{0, 1, 10, 50, 100, 1000} {
		for _, capGwei := range []float64{0.5, 1, 5, 50, 500} {
			reader := fakeBaseFeeReader{baseFee: WeiFromGwei(baseFeeGwei)}
			policy := NewFeePolicy(reader, FeePolicyConfig{
				MaxGasPriceWei: WeiFromGwei(capGwei),
				PriorityFeeWei: WeiFromGwei(0.001),
			})
			fees, err := policy.Compute(context.Background())
			require.NoError(t, err)
			assert.LessOrEqual(t, fees.MaxPriorityFeePerGas.Cmp(fees.MaxFeePerGas), 0,
				"baseFee=%v cap=%v", baseFeeGwei, capGwei)
		}
	}
}
