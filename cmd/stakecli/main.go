package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ligun0805/stake-export/internal/config"
	"github.com/ligun0805/stake-export/internal/explorer"
	core "github.com/ligun0805/stake-export/internal/stakecore"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var envFile, chainsFile, outPath string
	var concurrency int
	var verbose bool

	cmd := &cobra.Command{
		Use:   "stakecli",
		Short: "Export staking positions on ETH and BSC into one combined CSV",
		Long: "stakecli discovers every address that interacted with the staking contract\n" +
			"on each configured chain, reads each address's current stake over RPC and\n" +
			"writes the combined table to staking_data_combined.csv.",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, contractABI, err := loadConfig(envFile, chainsFile, outPath, concurrency, verbose)
			if err != nil {
				fmt.Fprintln(os.Stderr, err.Error())
				os.Exit(2)
			}
			printConfig(cfg)
			return run(cfg, contractABI)
		},
	}
	cmd.PersistentFlags().StringVar(&envFile, "env-file", "", "extra env file loaded over .env")
	cmd.PersistentFlags().StringVar(&chainsFile, "chains", "", "YAML chains file replacing the built-in ETH/BSC set")
	cmd.Flags().StringVar(&outPath, "out", "", "output CSV path")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "parallel contract reads per chain")
	cmd.Flags().BoolVar(&verbose, "verbose", false, "per-address diagnostic logs")

	check := &cobra.Command{
		Use:           "check",
		Short:         "Dial every configured RPC and explorer and report what answers",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(envFile, chainsFile, "", 0, false)
			if err != nil {
				fmt.Fprintln(os.Stderr, err.Error())
				os.Exit(2)
			}
			printConfig(cfg)
			return runCheck(cfg)
		},
	}
	cmd.AddCommand(check)
	return cmd
}

// loadConfig resolves env files, flags and the ABI. Anything wrong here is a
// configuration error: reported before any network call, exit code 2.
func loadConfig(envFile, chainsFile, outPath string, concurrency int, verbose bool) (config.Settings, abi.ABI, error) {
	_ = godotenv.Load()
	_ = godotenv.Overload(".env.local")
	if envFile != "" {
		if err := godotenv.Overload(envFile); err != nil {
			return config.Settings{}, abi.ABI{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	cfg := config.Load()
	if outPath != "" { cfg.OutPath = outPath }
	if concurrency > 0 { cfg.Concurrency = concurrency }
	if verbose { cfg.Verbose = true }
	if chainsFile != "" { cfg.ChainsFile = chainsFile }
	if cfg.ChainsFile != "" {
		if err := cfg.LoadChainsFile(cfg.ChainsFile); err != nil {
			return config.Settings{}, abi.ABI{}, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return config.Settings{}, abi.ABI{}, err
	}

	contractABI, err := core.LoadABI(cfg.ABIPath)
	if err != nil {
		return config.Settings{}, abi.ABI{}, err
	}
	if err := core.ValidateLookup(contractABI, cfg.Method); err != nil {
		return config.Settings{}, abi.ABI{}, err
	}
	for _, ch := range cfg.Chains {
		if ch.Discovery == config.DiscoveryEvents {
			if _, ok := contractABI.Events[cfg.Event]; !ok {
				return config.Settings{}, abi.ABI{}, fmt.Errorf("ABI has no event %q (needed by %s discovery)", cfg.Event, ch.Name)
			}
		}
	}
	return cfg, contractABI, nil
}

func printConfig(cfg config.Settings) {
	fmt.Println("=== CONFIG (.env) ===")
	fmt.Println("STAKING_CONTRACT :", cfg.Contract)
	fmt.Println("STAKING_ABI_PATH :", cfg.ABIPath)
	fmt.Println("STAKING_METHOD   :", cfg.Method)
	fmt.Println("TOKEN_DECIMALS   :", cfg.Decimals)
	fmt.Println("OUT              :", cfg.OutPath)
	fmt.Println("CONCURRENCY      :", cfg.Concurrency)
	for _, ch := range cfg.Chains {
		fmt.Printf("[%s] rpc=%s discovery=%s start_block=%d explorer=%s key=%s\n",
			ch.Name, ch.RPCURL, ch.Discovery, ch.StartBlock, ch.ExplorerURL, mask(ch.ExplorerKey))
	}
	fmt.Println("=====================")
}

func mask(s string) string {
	s = strings.TrimSpace(s)
	if s == "" { return "(none)" }
	if len(s) <= 10 { return "***" }
	return s[:6] + "…" + s[len(s)-4:]
}

func run(cfg config.Settings, contractABI abi.ABI) error {
	ctx := context.Background()
	contract := common.HexToAddress(cfg.Contract)

	var jobs []core.ChainJob
	var closers []func()
	defer func() {
		for _, c := range closers {
			c()
		}
	}()

	for _, ch := range cfg.Chains {
		ec, err := newEthClientWithTimeout(ch.RPCURL)
		if err != nil {
			return fmt.Errorf("[%s] dial rpc: %w", ch.Name, err)
		}
		closers = append(closers, ec.Close)

		reader, err := core.NewChainClient(ec, contractABI, contract, cfg.Method)
		if err != nil {
			return err
		}
		jobs = append(jobs, core.ChainJob{
			Chain:      ch.Name,
			Discoverer: newDiscoverer(cfg, ch, contract, contractABI, ec),
			Collector:  &core.Collector{Chain: ch.Name, Reader: reader, Workers: cfg.Concurrency, Verbose: cfg.Verbose},
		})
	}

	agg := &core.Aggregator{Jobs: jobs, OutPath: cfg.OutPath, Decimals: cfg.Decimals}
	if err := agg.Run(ctx); err != nil {
		return err
	}
	fmt.Println("Done =>", cfg.OutPath)
	return nil
}

func newDiscoverer(cfg config.Settings, ch config.ChainSettings, contract common.Address, contractABI abi.ABI, ec *ethclient.Client) core.Discoverer {
	if ch.Discovery == config.DiscoveryEvents {
		return core.DiscoverFunc(func(ctx context.Context) ([]common.Address, error) {
			head, err := ec.BlockNumber(ctx)
			if err != nil {
				return nil, fmt.Errorf("head block: %w", err)
			}
			return core.ScanStakers(ctx, ec, contract, contractABI, cfg.Event, ch.StartBlock, head, cfg.EventChunk)
		})
	}
	expl := explorer.NewClient(ch.ExplorerURL, ch.ExplorerKey)
	expl.ChainID = ch.ChainID
	expl.PageSize = cfg.PageSize
	expl.StartBlock = ch.StartBlock
	expl.Throttle = time.Duration(cfg.ThrottleMS) * time.Millisecond
	return core.DiscoverFunc(func(ctx context.Context) ([]common.Address, error) {
		return expl.DiscoverAddresses(ctx, contract)
	})
}

// runCheck exercises each chain's RPC and explorer without touching the
// output file, so an operator can verify a new .env before the first export.
func runCheck(cfg config.Settings) error {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	contract := common.HexToAddress(cfg.Contract)

	failed := 0
	for _, ch := range cfg.Chains {
		if err := checkChain(ctx, cfg, ch, contract); err != nil {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d chain(s) failed the connectivity check", failed, len(cfg.Chains))
	}
	return nil
}

func checkChain(ctx context.Context, cfg config.Settings, ch config.ChainSettings, contract common.Address) error {
	started := time.Now()
	ec, err := newEthClientWithTimeout(ch.RPCURL)
	if err != nil {
		fmt.Printf("[net] %s: rpc dial failed: %v\n", ch.Name, err)
		return err
	}
	defer ec.Close()

	head, err := ec.BlockNumber(ctx)
	if err != nil {
		fmt.Printf("[net] %s: rpc %s not answering: %v\n", ch.Name, ch.RPCURL, err)
		return err
	}
	id, err := ec.ChainID(ctx)
	if err != nil {
		fmt.Printf("[net] %s: chain id: %v\n", ch.Name, err)
		return err
	}
	fmt.Printf("[net] %s: rpc ok, chain id %s, head %d (%s)\n", ch.Name, id, head, time.Since(started).Round(time.Millisecond))

	code, err := ec.CodeAt(ctx, contract, nil)
	if err != nil {
		fmt.Printf("[net] %s: code at %s: %v\n", ch.Name, contract.Hex(), err)
		return err
	}
	if len(code) == 0 {
		fmt.Printf("[net] %s: no contract code at %s\n", ch.Name, contract.Hex())
		return fmt.Errorf("%s: no contract code at %s", ch.Name, contract.Hex())
	}
	fmt.Printf("[net] %s: contract code %d bytes\n", ch.Name, len(code))

	if ch.Discovery != config.DiscoveryTxList {
		fmt.Printf("[net] %s: events discovery, explorer not used\n", ch.Name)
		return nil
	}
	expl := explorer.NewClient(ch.ExplorerURL, ch.ExplorerKey)
	expl.ChainID = ch.ChainID
	expl.PageSize = 1
	txs, err := expl.TransactionPage(ctx, contract, ch.StartBlock, 1)
	if err != nil {
		fmt.Printf("[net] %s: explorer %s: %v\n", ch.Name, ch.ExplorerURL, err)
		return err
	}
	if len(txs) == 0 {
		fmt.Printf("[net] %s: explorer ok, no transactions at or after block %d\n", ch.Name, ch.StartBlock)
	} else {
		fmt.Printf("[net] %s: explorer ok, first tx at block %s\n", ch.Name, txs[0].BlockNumber)
	}
	return nil
}

// newEthClientWithTimeout dials RPC with keep-alives and sane timeouts.
func newEthClientWithTimeout(rpcURL string) (*ethclient.Client, error) {
	transport := &http.Transport{
		MaxIdleConns:       100,
		IdleConnTimeout:    90 * time.Second,
		DisableCompression: false,
	}
	httpClient := &http.Client{
		Timeout:   30 * time.Second,
		Transport: transport,
	}
	rpcClient, err := rpc.DialHTTPWithClient(rpcURL, httpClient)
	if err != nil {
		return nil, err
	}
	return ethclient.NewClient(rpcClient), nil
}
