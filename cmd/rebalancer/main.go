// Command rebalancer wires the engine's components into a running process:
// load config, dial the chain, build the Signer/FeePolicy/Chain Client, pick
// a swap Executor variant, and hand everything to the Orchestrator's tick
// loop until a signal asks it to stop. Grounded on the teacher's cmd/main.go
// (decrypt key, load YAML config, dial ethclient, build a TxListener, start
// a recorder, launch the strategy goroutine, range over its report channel),
// generalized to the rewritten component set.
package main

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"blackholego/configs"
	"blackholego/internal/abiutil"
	"blackholego/internal/cache"
	"blackholego/internal/chain"
	"blackholego/internal/db"
	"blackholego/internal/logx"
	"blackholego/internal/monitor"
	"blackholego/internal/orchestrator"
	"blackholego/internal/position"
	"blackholego/internal/rebalance"
	"blackholego/internal/swap"
	"blackholego/internal/txlistener"
)

var logger = logx.New(os.Stdout)

func main() {
	if err := run(); err != nil {
		log.Fatalf("rebalancer: %v", err)
	}
}

func run() error {
	cfg, err := configs.Load(os.Getenv("CONTRACT_BOOK_PATH"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	rawKey, err := resolvePrivateKey(cfg.PrivateKey)
	if err != nil {
		return fmt.Errorf("resolve PRIVATE_KEY: %w", err)
	}
	privateKey, err := crypto.HexToECDSA(trimHexPrefix(rawKey))
	if err != nil {
		return fmt.Errorf("parse PRIVATE_KEY: %w", err)
	}

	backend, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		return fmt.Errorf("dial rpc: %w", err)
	}

	signer := chain.NewSigner(privateKey, backend)

	feePolicy := chain.NewFeePolicy(backend, chain.FeePolicyConfig{
		Strategy:       cfg.GasStrategy,
		MaxGasPriceWei: cfg.MaxGasPriceWei,
		PriorityFeeWei: cfg.PriorityFeeWei,
		WarnOnClamp:    func(msg string) { logger.Warn("fee policy: %s", msg) },
	})

	listener := txlistener.NewTxListener(backend, txlistener.WithTimeout(cfg.TxWaitTimeout))

	abis, quoterABI, routerABI, permit2ABI := chain.DefaultABISet()
	if path := os.Getenv("POSITION_MANAGER_ABI_PATH"); path != "" {
		parsed, err := abiutil.LoadABI(path)
		if err != nil {
			return fmt.Errorf("load position manager abi override: %w", err)
		}
		abis.PositionManager = parsed
	}
	client := chain.NewClient(backend, signer, feePolicy, listener, abis)

	factories, feeTiers, err := cfg.Book.Factories()
	if err != nil {
		return fmt.Errorf("resolve contract book: %w", err)
	}
	if len(factories) == 0 {
		return fmt.Errorf("contract book must configure at least one factory")
	}

	c := cache.New()
	locator := position.NewPoolLocator(client, factories, feeTiers)
	reader := position.NewReader(client, c, locator, cfg.PositionManager, nil)

	executor := buildExecutor(cfg, client, quoterABI, routerABI, permit2ABI, signer.Address())

	monCfg := monitor.Config{
		Account:               signer.Address(),
		Manager:               cfg.PositionManager,
		AutoRebalance:         cfg.AutoRebalance,
		RebalanceThresholdPct: cfg.RebalanceThresholdPct,
		RangeMultiplier:       cfg.RangeMultiplier,
		BootstrapTokenA:       cfg.BootstrapTokenA,
		BootstrapTokenB:       cfg.BootstrapTokenB,
		BootstrapDustHuman:    0.01,
	}
	mon := monitor.New(reader, c, locator, client, logger, monCfg)

	machineCfg := rebalance.Config{
		Account:          signer.Address(),
		SlippageBps:      cfg.SlippageBps,
		MinSwapValueUSDC: cfg.MinSwapValueUSDC,
		DeadlineWindow:   20 * time.Minute,
	}
	machine := rebalance.NewMachine(client, executor, machineCfg, logger, func() int64 { return time.Now().Unix() })

	reports := make(chan orchestrator.Report, 64)
	orchCfg := orchestrator.Config{
		CheckInterval:   cfg.CheckInterval,
		RangeMultiplier: cfg.RangeMultiplier,
	}
	orch := orchestrator.New(mon, machine, orchCfg, logger, reports)

	recorder := buildRecorder()
	if recorder != nil {
		defer recorder.Close()
	}
	go relayReports(reports, recorder)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("rebalancer: starting, check interval %s", cfg.CheckInterval)
	orch.Run(ctx)
	logger.Info("rebalancer: shut down cleanly")
	return nil
}

// buildExecutor picks the swap Executor variant from configuration: the
// off-chain aggregator variant when an aggregator base URL is configured,
// otherwise the direct on-chain router+quoter variant (spec.md §4.4's two
// variants).
func buildExecutor(cfg *configs.Config, client *chain.Client, quoterABI, routerABI, permit2ABI abi.ABI, owner common.Address) swap.Executor {
	allowlist := swap.Allowlist{}
	for _, r := range cfg.Aggregator.AllowedRouters {
		allowlist[r] = true
	}

	if cfg.Aggregator.BaseURL != "" {
		httpClient := swap.NewHTTPAggregatorClient(swap.HTTPAggregatorConfig{
			BaseURL:         cfg.Aggregator.BaseURL,
			Chain:           cfg.Aggregator.Chain,
			ClientID:        cfg.Aggregator.ClientID,
			Source:          cfg.Aggregator.Source,
			IncludedSources: cfg.Aggregator.IncludedSources,
		})
		permit2 := swap.Permit2Config{ABI: permit2ABI}
		return swap.NewAggregatorExecutor(httpClient, client, permit2, allowlist, cfg.SlippageBps, owner, owner)
	}

	routerCfg := swap.RouterConfig{
		Router:    cfg.Router,
		RouterABI: routerABI,
		Quoter:    cfg.Quoter,
		QuoterABI: quoterABI,
		Fee:       big.NewInt(500),
		Deadline:  func() *big.Int { return big.NewInt(time.Now().Add(20 * time.Minute).Unix()) },
	}
	allowlist[cfg.Router] = true
	return swap.NewRouterExecutor(client, routerCfg, allowlist, cfg.SlippageBps, owner)
}

// relayReports persists a cumulative-gas snapshot on every cycle start, when
// a recorder is configured. recorder is typed *db.MySQLRecorder (not the
// narrower db.Recorder interface) so a nil value here is genuinely nil, not
// a non-nil interface wrapping a nil pointer.
func relayReports(reports <-chan orchestrator.Report, recorder *db.MySQLRecorder) {
	for r := range reports {
		if recorder == nil || r.EventType != orchestrator.EventCycleStart {
			continue
		}
		snapshot := db.CycleSnapshot{
			Timestamp:     time.Unix(r.Timestamp, 0),
			CumulativeGas: zeroIfNil(r.CumulativeGasWei),
		}
		if err := recorder.RecordCycle(snapshot); err != nil {
			logger.Warn("recorder: %v", err)
		}
	}
}

func buildRecorder() *db.MySQLRecorder {
	dsn := os.Getenv("MYSQL_DSN")
	if dsn == "" {
		return nil
	}
	recorder, err := db.NewMySQLRecorder(dsn)
	if err != nil {
		logger.Warn("recorder disabled, connect failed: %v", err)
		return nil
	}
	return recorder
}

func zeroIfNil(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v
}

// resolvePrivateKey returns raw as-is unless PRIVATE_KEY_CIPHER_KEY is set,
// in which case raw is treated as an AES-GCM ciphertext (operator
// convenience for keeping the signing key off disk in plaintext, matching
// the teacher's own ENC_PK/KEY convention) and decrypted with it.
func resolvePrivateKey(raw string) (string, error) {
	cipherKey := os.Getenv("PRIVATE_KEY_CIPHER_KEY")
	if cipherKey == "" {
		return raw, nil
	}
	return abiutil.Decrypt([]byte(cipherKey), raw)
}

func trimHexPrefix(s string) string {
	if len(s) > 1 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}
