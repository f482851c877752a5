package stakecore

import (
	"context"
	"log"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// StakeReader reads all stake entries for one address.
type StakeReader interface {
	Stakes(ctx context.Context, addr common.Address) ([]Stake, error)
}

// Record is one output row: an address's folded stake on one chain.
type Record struct {
	Address    common.Address
	Amount     *big.Int // raw smallest units, sum over the address's stakes
	Expiration uint64   // unix seconds, latest over the address's stakes
	Chain      string
}

// Collector turns an address set into stake records for one chain.
type Collector struct {
	Chain   string
	Reader  StakeReader
	Workers int // reads in flight at once; 1 = strictly sequential
	Verbose bool
}

// Collect reads every address's stakes, drops zero stakes, and returns the
// records in the input order regardless of the worker count. A failed read
// is logged and skipped; it never aborts the batch.
func (c *Collector) Collect(ctx context.Context, addrs []common.Address) []Record {
	workers := c.Workers
	if workers < 1 {
		workers = 1
	}
	type slot struct {
		rec Record
		ok  bool
	}
	results := make([]slot, len(addrs))
	gate := make(chan struct{}, workers)
	var wg sync.WaitGroup
	for i, addr := range addrs {
		gate <- struct{}{}
		wg.Add(1)
		go func(i int, addr common.Address) {
			defer wg.Done()
			defer func() { <-gate }()
			stakes, err := c.Reader.Stakes(ctx, addr)
			if err != nil {
				log.Printf("[%s] skip %s: %s", c.Chain, addr.Hex(), describeCallError(err))
				return
			}
			rec, ok := foldStakes(addr, c.Chain, stakes)
			if !ok {
				if c.Verbose {
					log.Printf("[%s] %s: no active stake", c.Chain, addr.Hex())
				}
				return
			}
			if c.Verbose {
				log.Printf("[%s] %s: %d stake(s), total %s", c.Chain, addr.Hex(), len(stakes), rec.Amount)
			}
			results[i] = slot{rec: rec, ok: true}
		}(i, addr)
	}
	wg.Wait()

	out := make([]Record, 0, len(addrs))
	for _, s := range results {
		if s.ok {
			out = append(out, s.rec)
		}
	}
	return out
}

// foldStakes collapses an address's stakes into one record: amounts summed,
// expiration set to the latest lock. Zero totals report ok=false.
func foldStakes(addr common.Address, chain string, stakes []Stake) (Record, bool) {
	total := new(big.Int)
	var latest uint64
	for _, s := range stakes {
		if s.Amount != nil {
			total.Add(total, s.Amount)
		}
		if s.Expiration > latest {
			latest = s.Expiration
		}
	}
	if total.Sign() <= 0 {
		return Record{}, false
	}
	return Record{Address: addr, Amount: total, Expiration: latest, Chain: chain}, true
}
