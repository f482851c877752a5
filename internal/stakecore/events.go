package stakecore

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// LogFilterer is the part of an RPC client the event scan needs.
type LogFilterer interface {
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

// ScanStakers walks [fromBlock, toBlock] in fixed chunks filtering the
// contract's stake event and collects the indexed staker address from each
// log. Failed chunks are logged and skipped; if any chunk failed the partial
// set is returned together with an error so the caller can flag it.
func ScanStakers(ctx context.Context, lf LogFilterer, contract common.Address, contractABI abi.ABI, eventName string, fromBlock, toBlock, chunk uint64) ([]common.Address, error) {
	ev, ok := contractABI.Events[eventName]
	if !ok {
		return nil, fmt.Errorf("ABI has no event %q", eventName)
	}
	if len(ev.Inputs) == 0 || !ev.Inputs[0].Indexed || ev.Inputs[0].Type.T != abi.AddressTy {
		return nil, fmt.Errorf("event %q must have an indexed address as first argument", eventName)
	}
	if chunk == 0 {
		chunk = 50000
	}

	seen := make(map[common.Address]struct{})
	failed := 0
	var lastErr error
	for start := fromBlock; start <= toBlock; start += chunk {
		if err := ctx.Err(); err != nil {
			return sortAddressSet(seen), err
		}
		end := start + chunk - 1
		if end > toBlock || end < start {
			end = toBlock
		}
		q := ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(start),
			ToBlock:   new(big.Int).SetUint64(end),
			Addresses: []common.Address{contract},
			Topics:    [][]common.Hash{{ev.ID}},
		}
		logs, err := lf.FilterLogs(ctx, q)
		if err != nil {
			log.Printf("warning: %s logs for blocks %d-%d failed: %v", eventName, start, end, err)
			failed++
			lastErr = err
			continue
		}
		for _, lg := range logs {
			if len(lg.Topics) < 2 {
				continue
			}
			seen[common.BytesToAddress(lg.Topics[1].Bytes())] = struct{}{}
		}
	}
	out := sortAddressSet(seen)
	if failed > 0 {
		return out, fmt.Errorf("%d block ranges failed, last: %w", failed, lastErr)
	}
	return out, nil
}

func sortAddressSet(set map[common.Address]struct{}) []common.Address {
	out := make([]common.Address, 0, len(set))
	for a := range set {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out
}
