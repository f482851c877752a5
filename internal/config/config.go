package config

import (
	"fmt"
	"os"
	"strings"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
)

// Discovery modes for a chain's staker-address lookup.
const (
	DiscoveryTxList = "txlist"
	DiscoveryEvents = "events"
)

// ChainSettings describes one chain the exporter walks.
type ChainSettings struct {
	Name        string `yaml:"name"`         // output tag, e.g. ETH / BSC
	RPCURL      string `yaml:"rpc_url"`
	ExplorerURL string `yaml:"explorer_url"`
	ExplorerKey string `yaml:"explorer_key"`
	ChainID     int64  `yaml:"chain_id"`     // optional, for v2-style multi-chain explorer endpoints
	Discovery   string `yaml:"discovery"`    // txlist | events
	StartBlock  uint64 `yaml:"start_block"`
}

// Settings keeps all configuration options.
// Chain order here is the output concatenation order.
type Settings struct {
	Contract    string
	ABIPath     string
	Method      string
	Event       string
	Decimals    int
	PageSize    int
	ThrottleMS  int
	EventChunk  uint64
	Concurrency int
	OutPath     string
	ChainsFile  string
	Verbose     bool
	Chains      []ChainSettings
}

// Load reads settings from environment supporting both UPPER_CASE and lower_case keys.
func Load() Settings {
	get := func(keys []string, def string) string {
		for _, k := range keys {
			if v := strings.TrimSpace(os.Getenv(k)); v != "" { return v }
		}
		return def
	}
	getInt := func(keys []string, def int) int {
		s := get(keys, "")
		if s == "" { return def }
		if n, err := strconv.Atoi(strings.TrimSpace(s)); err == nil { return n }
		return def
	}
	getUint64 := func(keys []string, def uint64) uint64 {
		s := get(keys, "")
		if s == "" { return def }
		if n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64); err == nil { return n }
		return def
	}
	getBool := func(keys []string, def bool) bool {
		s := strings.ToLower(get(keys, ""))
		if s == "" { return def }
		return s == "1" || s == "true" || s == "yes" || s == "on"
	}

	st := Settings{}
	st.Contract   = get([]string{"staking_contract", "STAKING_CONTRACT"}, "0x1e7866B5A5A4F09EFD235D28d49568C2fe2f7eCD")
	st.ABIPath    = get([]string{"staking_abi_path", "STAKING_ABI_PATH"}, "contract_abi.json")
	st.Method     = get([]string{"staking_method", "STAKING_METHOD"}, "getUserStakes")
	st.Event      = get([]string{"staking_event", "STAKING_EVENT"}, "Staked")
	st.Decimals   = getInt([]string{"token_decimals", "TOKEN_DECIMALS"}, 9)
	st.PageSize   = getInt([]string{"explorer_page_size", "EXPLORER_PAGE_SIZE"}, 10000)
	st.ThrottleMS = getInt([]string{"explorer_throttle_ms", "EXPLORER_THROTTLE_MS"}, 1000)
	st.EventChunk  = getUint64([]string{"event_chunk_blocks", "EVENT_CHUNK_BLOCKS"}, 50000)
	st.Concurrency = getInt([]string{"stake_rpc_concurrency", "STAKE_RPC_CONCURRENCY"}, 4)
	st.OutPath    = get([]string{"stake_out", "STAKE_OUT"}, "staking_data_combined.csv")
	st.ChainsFile = get([]string{"chains_file", "CHAINS_FILE"}, "")
	st.Verbose    = getBool([]string{"stake_verbose", "STAKE_VERBOSE"}, false)

	st.Chains = []ChainSettings{
		{
			Name:        "ETH",
			RPCURL:      get([]string{"eth_rpc_url", "ETH_RPC_URL"}, ""),
			ExplorerURL: get([]string{"eth_explorer_url", "ETH_EXPLORER_URL"}, "https://api.etherscan.io/api"),
			ExplorerKey: get([]string{"etherscan_api_key", "ETHERSCAN_API_KEY"}, ""),
			ChainID:     int64(getInt([]string{"eth_chain_id", "ETH_CHAIN_ID"}, 0)),
			Discovery:   get([]string{"eth_discovery", "ETH_DISCOVERY"}, DiscoveryTxList),
			StartBlock:  getUint64([]string{"eth_start_block", "ETH_START_BLOCK"}, 0),
		},
		{
			Name:        "BSC",
			RPCURL:      get([]string{"bsc_rpc_url", "BSC_RPC_URL"}, ""),
			ExplorerURL: get([]string{"bsc_explorer_url", "BSC_EXPLORER_URL"}, "https://api.bscscan.com/api"),
			ExplorerKey: get([]string{"bscscan_api_key", "BSCSCAN_API_KEY"}, ""),
			ChainID:     int64(getInt([]string{"bsc_chain_id", "BSC_CHAIN_ID"}, 0)),
			Discovery:   get([]string{"bsc_discovery", "BSC_DISCOVERY"}, DiscoveryTxList),
			// Contract deployment block on BSC; scanning earlier blocks is wasted work.
			StartBlock: getUint64([]string{"bsc_start_block", "BSC_START_BLOCK"}, 34181130),
		},
	}
	return st
}

// Validate checks the loaded settings before anything dials out.
func (st Settings) Validate() error {
	if !common.IsHexAddress(st.Contract) {
		return fmt.Errorf("invalid staking contract address %q", st.Contract)
	}
	if strings.TrimSpace(st.ABIPath) == "" {
		return fmt.Errorf("missing ABI path: set STAKING_ABI_PATH")
	}
	if strings.TrimSpace(st.Method) == "" {
		return fmt.Errorf("missing lookup method: set STAKING_METHOD")
	}
	if st.Decimals < 0 || st.Decimals > 77 {
		return fmt.Errorf("token decimals %d out of range", st.Decimals)
	}
	if st.PageSize <= 0 {
		return fmt.Errorf("explorer page size must be positive, got %d", st.PageSize)
	}
	if len(st.Chains) == 0 {
		return fmt.Errorf("no chains configured")
	}
	seen := map[string]bool{}
	for _, ch := range st.Chains {
		if strings.TrimSpace(ch.Name) == "" {
			return fmt.Errorf("chain with empty name")
		}
		if seen[ch.Name] {
			return fmt.Errorf("duplicate chain name %q", ch.Name)
		}
		seen[ch.Name] = true
		if strings.TrimSpace(ch.RPCURL) == "" {
			return fmt.Errorf("%s: missing RPC URL", ch.Name)
		}
		switch ch.Discovery {
		case DiscoveryTxList:
			if strings.TrimSpace(ch.ExplorerURL) == "" {
				return fmt.Errorf("%s: missing explorer URL", ch.Name)
			}
			if strings.TrimSpace(ch.ExplorerKey) == "" {
				return fmt.Errorf("%s: missing explorer API key", ch.Name)
			}
		case DiscoveryEvents:
			if strings.TrimSpace(st.Event) == "" {
				return fmt.Errorf("%s: events discovery needs STAKING_EVENT", ch.Name)
			}
		default:
			return fmt.Errorf("%s: unknown discovery mode %q", ch.Name, ch.Discovery)
		}
	}
	return nil
}
