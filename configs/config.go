// Package configs loads the engine's runtime configuration: environment
// variables for everything that changes between deployments (spec.md §6),
// plus an optional YAML address book for contracts that rarely change per
// deployment. Grounded on the teacher's configs/config.go, which loaded a
// single YAML file via gopkg.in/yaml.v3 and derived two sub-configs from it;
// this rewrite keeps the yaml.v3 dependency and the same two-stage
// load-then-derive shape but moves the frequently-tuned knobs to env vars,
// loaded with github.com/joho/godotenv for local .env convenience.
package configs

import (
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"blackholego/internal/chain"
)

// ContractBook is the optional YAML address book for contracts that rarely
// change per deployment: factories and their fee tiers.
type ContractBook struct {
	Factories []ContractEntry `yaml:"factories"`
}

// ContractEntry names one deployed factory address and the fee tier it
// serves, matching position.PoolLocator's (factory, feeTier) pairing.
type ContractEntry struct {
	Address string `yaml:"address"`
	FeeTier int64  `yaml:"feeTier"`
}

// Config is the engine's fully-resolved configuration: every field an
// operator can tune, read once at startup.
type Config struct {
	PrivateKey string
	RPCURL     string

	CheckInterval         time.Duration
	SlippageBps           int
	MinSwapValueUSDC      float64
	AutoRebalance         bool
	RangeMultiplier       float64
	RebalanceThresholdPct float64

	GasStrategy    chain.GasStrategy
	MaxGasPriceWei *big.Int
	PriorityFeeWei *big.Int

	RPCCallTimeout time.Duration
	TxWaitTimeout  time.Duration

	PositionManager common.Address
	Router          common.Address
	Quoter          common.Address

	BootstrapTokenA common.Address
	BootstrapTokenB common.Address

	Aggregator AggregatorConfig

	Book ContractBook
}

// AggregatorConfig bundles the off-chain route-aggregator settings
// (spec.md §6's "Aggregator" env group).
type AggregatorConfig struct {
	BaseURL         string
	Chain           string
	ClientID        string
	Source          string
	IncludedSources []string
	AllowedRouters  []common.Address
}

// Load reads a .env file if present (local-development convenience; absence
// is not an error), then resolves every field from the environment, applying
// spec.md §6's defaults and failing fast on a missing PRIVATE_KEY or a
// malformed numeric/address value. bookPath is optional; an empty path skips
// the YAML contract book entirely.
func Load(bookPath string) (*Config, error) {
	_ = godotenv.Load()

	pk := os.Getenv("PRIVATE_KEY")
	if pk == "" {
		return nil, fmt.Errorf("configs: PRIVATE_KEY is required")
	}

	cfg := &Config{
		PrivateKey: pk,
		RPCURL:     os.Getenv("BASE_RPC_URL"),
	}

	var err error
	if cfg.CheckInterval, err = durationMsEnv("CHECK_INTERVAL", 30_000); err != nil {
		return nil, err
	}
	if cfg.SlippageBps, err = intEnv("SLIPPAGE_BPS", 300); err != nil {
		return nil, err
	}
	if cfg.MinSwapValueUSDC, err = floatEnv("MIN_SWAP_VALUE_USDC", 20); err != nil {
		return nil, err
	}
	cfg.AutoRebalance = boolEnv("AUTO_REBALANCE", false)
	if cfg.RangeMultiplier, err = floatEnv("RANGE_MULTIPLIER", 2.6); err != nil {
		return nil, err
	}
	if cfg.RebalanceThresholdPct, err = floatEnv("REBALANCE_THRESHOLD", 20); err != nil {
		return nil, err
	}

	strategy := strings.ToLower(envOr("GAS_STRATEGY", string(chain.GasStrategyAuto)))
	switch chain.GasStrategy(strategy) {
	case chain.GasStrategyAuto, chain.GasStrategyLegacy:
		cfg.GasStrategy = chain.GasStrategy(strategy)
	default:
		return nil, fmt.Errorf("configs: GAS_STRATEGY must be %q or %q, got %q", chain.GasStrategyAuto, chain.GasStrategyLegacy, strategy)
	}
	if cfg.MaxGasPriceWei, err = gweiEnv("MAX_GAS_PRICE"); err != nil {
		return nil, err
	}
	if cfg.PriorityFeeWei, err = gweiEnv("PRIORITY_FEE_GWEI"); err != nil {
		return nil, err
	}

	if cfg.RPCCallTimeout, err = durationMsEnv("RPC_CALL_TIMEOUT_MS", 30_000); err != nil {
		return nil, err
	}
	if cfg.TxWaitTimeout, err = durationMsEnv("TX_WAIT_TIMEOUT_MS", 180_000); err != nil {
		return nil, err
	}

	if cfg.PositionManager, err = addressEnv("POSITION_MANAGER"); err != nil {
		return nil, err
	}
	if cfg.Router, err = addressEnv("ROUTER"); err != nil {
		return nil, err
	}
	if cfg.Quoter, err = addressEnv("QUOTER"); err != nil {
		return nil, err
	}
	if cfg.BootstrapTokenA, err = addressEnv("BOOTSTRAP_TOKEN_A"); err != nil {
		return nil, err
	}
	if cfg.BootstrapTokenB, err = addressEnv("BOOTSTRAP_TOKEN_B"); err != nil {
		return nil, err
	}

	cfg.Aggregator = AggregatorConfig{
		BaseURL:         os.Getenv("API_BASE_URL"),
		Chain:           os.Getenv("CHAIN"),
		ClientID:        os.Getenv("CLIENT_ID"),
		Source:          os.Getenv("SOURCE"),
		IncludedSources: splitCSV(os.Getenv("INCLUDED_SOURCES")),
	}
	for _, raw := range splitCSV(os.Getenv("ALLOWED_ROUTERS")) {
		if !common.IsHexAddress(raw) {
			return nil, fmt.Errorf("configs: ALLOWED_ROUTERS entry %q is not a valid address", raw)
		}
		cfg.Aggregator.AllowedRouters = append(cfg.Aggregator.AllowedRouters, common.HexToAddress(raw))
	}

	if bookPath != "" {
		book, err := loadContractBook(bookPath)
		if err != nil {
			return nil, err
		}
		cfg.Book = *book
	}

	return cfg, nil
}

func loadContractBook(path string) (*ContractBook, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("configs: read contract book: %w", err)
	}
	var book ContractBook
	if err := yaml.Unmarshal(data, &book); err != nil {
		return nil, fmt.Errorf("configs: parse contract book YAML: %w", err)
	}
	return &book, nil
}

// Factories resolves the book's configured factory addresses and fee tiers,
// in the order position.NewPoolLocator expects them.
func (b ContractBook) Factories() ([]common.Address, []*big.Int, error) {
	addrs := make([]common.Address, 0, len(b.Factories))
	fees := make([]*big.Int, 0, len(b.Factories))
	for _, e := range b.Factories {
		if !common.IsHexAddress(e.Address) {
			return nil, nil, fmt.Errorf("configs: factory address %q is invalid", e.Address)
		}
		addrs = append(addrs, common.HexToAddress(e.Address))
		fees = append(fees, big.NewInt(e.FeeTier))
	}
	return addrs, fees, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func intEnv(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("configs: %s must be an integer, got %q: %w", key, v, err)
	}
	return n, nil
}

func floatEnv(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("configs: %s must be a number, got %q: %w", key, v, err)
	}
	return f, nil
}

func boolEnv(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func durationMsEnv(key string, fallbackMs int) (time.Duration, error) {
	n, err := intEnv(key, fallbackMs)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("configs: %s must not be negative, got %d", key, n)
	}
	return time.Duration(n) * time.Millisecond, nil
}

// gweiEnv returns nil (meaning "no cap configured") rather than zero, since
// chain.FeePolicyConfig treats a nil MaxGasPriceWei/PriorityFeeWei as "use
// the built-in default" rather than "cap at zero".
func gweiEnv(key string) (*big.Int, error) {
	v := os.Getenv(key)
	if v == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return nil, fmt.Errorf("configs: %s must be a number, got %q: %w", key, v, err)
	}
	if f <= 0 {
		return nil, nil
	}
	return chain.WeiFromGwei(f), nil
}

func addressEnv(key string) (common.Address, error) {
	v := os.Getenv(key)
	if v == "" {
		return common.Address{}, nil
	}
	if !common.IsHexAddress(v) {
		return common.Address{}, fmt.Errorf("configs: %s is not a valid address: %q", key, v)
	}
	return common.HexToAddress(v), nil
}

func splitCSV(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
