package cache

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTokenReader struct {
	decimalsCalls int
	symbolCalls   int
	decimals      uint8
	symbol        string
}

func (f *fakeTokenReader) Decimals(ctx context.Context, token common.Address) (uint8, error) {
	f.decimalsCalls++
	return f.decimals, nil
}

func (f *fakeTokenReader) Symbol(ctx context.Context, token common.Address) (string, error) {
	f.symbolCalls++
	return f.symbol, nil
}

type fakePoolReader struct {
	calls int
	info  PoolInfo
}

func (f *fakePoolReader) PoolStructure(ctx context.Context, pool common.Address) (PoolInfo, error) {
	f.calls++
	return f.info, nil
}

func TestCache_Token_MemoizesAfterFirstRead(t *testing.T) {
	reader := &fakeTokenReader{decimals: 6, symbol: "USDC"}
	c := New()
	token := common.HexToAddress("0x1")

	first, err := c.Token(context.Background(), reader, token)
	require.NoError(t, err)
	assert.Equal(t, TokenInfo{Symbol: "USDC", Decimals: 6}, first)

	second, err := c.Token(context.Background(), reader, token)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	assert.Equal(t, 1, reader.decimalsCalls)
	assert.Equal(t, 1, reader.symbolCalls)
}

func TestCache_Pool_MemoizesAfterFirstRead(t *testing.T) {
	reader := &fakePoolReader{info: PoolInfo{
		Token0:      common.HexToAddress("0xa"),
		Token1:      common.HexToAddress("0xb"),
		TickSpacing: 60,
	}}
	c := New()
	pool := common.HexToAddress("0xpool")

	first, err := c.Pool(context.Background(), reader, pool)
	require.NoError(t, err)
	assert.Equal(t, reader.info, first)

	_, err = c.Pool(context.Background(), reader, pool)
	require.NoError(t, err)
	assert.Equal(t, 1, reader.calls)
}

func TestCache_PutPool_SeedsWithoutFetch(t *testing.T) {
	reader := &fakePoolReader{}
	c := New()
	pool := common.HexToAddress("0xpool")
	seeded := PoolInfo{Token0: common.HexToAddress("0xa"), Token1: common.HexToAddress("0xb"), TickSpacing: 200}

	c.PutPool(pool, seeded)

	got, ok := c.CachedPool(pool)
	assert.True(t, ok)
	assert.Equal(t, seeded, got)

	fetched, err := c.Pool(context.Background(), reader, pool)
	require.NoError(t, err)
	assert.Equal(t, seeded, fetched)
	assert.Zero(t, reader.calls, "seeded pool must not trigger a chain read")
}

func TestCache_DistinctAddressesAreIndependent(t *testing.T) {
	reader := &fakeTokenReader{decimals: 18, symbol: "WETH"}
	c := New()

	_, err := c.Token(context.Background(), reader, common.HexToAddress("0x1"))
	require.NoError(t, err)
	_, err = c.Token(context.Background(), reader, common.HexToAddress("0x2"))
	require.NoError(t, err)

	assert.Equal(t, 2, reader.decimalsCalls)
}
