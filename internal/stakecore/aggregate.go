package stakecore

import (
	"context"
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
)

// CSVHeader is the fixed column header of the combined output file.
var CSVHeader = []string{"address", "amount", "expiration", "chain"}

// Discoverer produces the candidate address set for one chain.
type Discoverer interface {
	Discover(ctx context.Context) ([]common.Address, error)
}

// DiscoverFunc adapts a closure to the Discoverer interface.
type DiscoverFunc func(ctx context.Context) ([]common.Address, error)

func (f DiscoverFunc) Discover(ctx context.Context) ([]common.Address, error) { return f(ctx) }

// ChainJob bundles one chain's discovery and collection, in output order.
type ChainJob struct {
	Chain      string
	Discoverer Discoverer
	Collector  *Collector
}

// Aggregator runs every chain job in order and writes the combined CSV.
type Aggregator struct {
	Jobs     []ChainJob
	OutPath  string
	Decimals int
}

// Run executes the pipeline. Discovery failures are logged and the partial
// or empty set is used; only an output write failure is returned as fatal.
func (a *Aggregator) Run(ctx context.Context) error {
	var all []Record
	for _, job := range a.Jobs {
		addrs, err := job.Discoverer.Discover(ctx)
		if err != nil {
			log.Printf("[%s] discovery failed, continuing with %d address(es): %v", job.Chain, len(addrs), err)
		}
		log.Printf("[%s] %d candidate address(es)", job.Chain, len(addrs))
		recs := job.Collector.Collect(ctx, addrs)
		log.Printf("[%s] %d active stake(s)", job.Chain, len(recs))
		all = append(all, recs...)
	}
	if err := WriteCSV(a.OutPath, all, a.Decimals); err != nil {
		return fmt.Errorf("write %s: %w", a.OutPath, err)
	}
	log.Printf("saved %d record(s) to %s", len(all), a.OutPath)
	return nil
}

// WriteCSV writes the records to a temp file in the destination directory
// and renames it over the final path, so a failed write never leaves a
// truncated output file behind.
func WriteCSV(path string, records []Record, decimals int) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	w := csv.NewWriter(tmp)
	if err := writeRows(w, records, decimals); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}

func writeRows(w *csv.Writer, records []Record, decimals int) error {
	if err := w.Write(CSVHeader); err != nil {
		return err
	}
	for _, r := range records {
		row := []string{
			r.Address.Hex(),
			FormatUnits(r.Amount, decimals),
			strconv.FormatUint(r.Expiration, 10),
			r.Chain,
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}
