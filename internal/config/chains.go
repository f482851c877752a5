package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type chainsDocument struct {
	Chains []ChainSettings `yaml:"chains"`
}

// LoadChainsFile replaces the built-in chain set with the one from a YAML file.
// File order is the output concatenation order. Fields left empty for a chain
// whose name matches a built-in entry (ETH, BSC) inherit that entry's values,
// so a chains file may list only what differs from the env-derived defaults.
func (st *Settings) LoadChainsFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read chains file: %w", err)
	}
	var doc chainsDocument
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("parse chains file: %w", err)
	}
	if len(doc.Chains) == 0 {
		return fmt.Errorf("chains file %s lists no chains", path)
	}

	defaults := map[string]ChainSettings{}
	for _, ch := range st.Chains {
		defaults[ch.Name] = ch
	}
	merged := make([]ChainSettings, 0, len(doc.Chains))
	for _, ch := range doc.Chains {
		ch.Name = strings.TrimSpace(ch.Name)
		if base, ok := defaults[ch.Name]; ok {
			if ch.RPCURL == "" { ch.RPCURL = base.RPCURL }
			if ch.ExplorerURL == "" { ch.ExplorerURL = base.ExplorerURL }
			if ch.ExplorerKey == "" { ch.ExplorerKey = base.ExplorerKey }
			if ch.ChainID == 0 { ch.ChainID = base.ChainID }
			if ch.Discovery == "" { ch.Discovery = base.Discovery }
			if ch.StartBlock == 0 { ch.StartBlock = base.StartBlock }
		}
		if ch.Discovery == "" {
			ch.Discovery = DiscoveryTxList
		}
		merged = append(merged, ch)
	}
	st.Chains = merged
	return nil
}
