package stakecore_test

import (
	"bytes"
	"context"
	"errors"
	"log"
	"math/big"
	"os"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ligun0805/stake-export/internal/stakecore"
)

var (
	addrA = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	addrB = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	addrC = common.HexToAddress("0x00000000000000000000000000000000000000c3")
)

type stubReader struct {
	stakes map[common.Address][]stakecore.Stake
	errs   map[common.Address]error
	delays map[common.Address]time.Duration
}

func (s *stubReader) Stakes(ctx context.Context, addr common.Address) ([]stakecore.Stake, error) {
	if d := s.delays[addr]; d > 0 {
		time.Sleep(d)
	}
	if err := s.errs[addr]; err != nil {
		return nil, err
	}
	return s.stakes[addr], nil
}

func TestCollect(t *testing.T) {
	t.Run("drops addresses with zero total stake", func(t *testing.T) {
		reader := &stubReader{stakes: map[common.Address][]stakecore.Stake{
			addrA: {{Amount: big.NewInt(1000000000), Expiration: 1700000000}},
			addrB: {{Amount: big.NewInt(0), Expiration: 1700000000}},
			addrC: {},
		}}
		c := &stakecore.Collector{Chain: "ETH", Reader: reader}

		records := c.Collect(context.Background(), []common.Address{addrA, addrB, addrC})

		require.Len(t, records, 1)
		assert.Equal(t, addrA, records[0].Address)
		assert.Equal(t, "ETH", records[0].Chain)
	})

	t.Run("folds stakes into one record per address", func(t *testing.T) {
		reader := &stubReader{stakes: map[common.Address][]stakecore.Stake{
			addrA: {
				{Amount: big.NewInt(1500000000), Expiration: 1800000000},
				{Amount: big.NewInt(2500000000), Expiration: 1700000000},
			},
		}}
		c := &stakecore.Collector{Chain: "BSC", Reader: reader}

		records := c.Collect(context.Background(), []common.Address{addrA})

		require.Len(t, records, 1)
		assert.Equal(t, big.NewInt(4000000000), records[0].Amount)
		assert.Equal(t, uint64(1800000000), records[0].Expiration)
	})

	t.Run("skips a failed lookup and keeps the rest", func(t *testing.T) {
		var buf bytes.Buffer
		log.SetOutput(&buf)
		defer log.SetOutput(os.Stderr)

		reader := &stubReader{
			stakes: map[common.Address][]stakecore.Stake{
				addrA: {{Amount: big.NewInt(10), Expiration: 1}},
				addrC: {{Amount: big.NewInt(30), Expiration: 3}},
			},
			errs: map[common.Address]error{addrB: errors.New("connection reset by peer")},
		}
		c := &stakecore.Collector{Chain: "ETH", Reader: reader}

		records := c.Collect(context.Background(), []common.Address{addrA, addrB, addrC})

		require.Len(t, records, 2)
		assert.Equal(t, addrA, records[0].Address)
		assert.Equal(t, addrC, records[1].Address)
		assert.Contains(t, buf.String(), "skip "+addrB.Hex())
	})

	t.Run("keeps input order with concurrent workers", func(t *testing.T) {
		reader := &stubReader{
			stakes: map[common.Address][]stakecore.Stake{
				addrA: {{Amount: big.NewInt(1), Expiration: 1}},
				addrB: {{Amount: big.NewInt(2), Expiration: 2}},
				addrC: {{Amount: big.NewInt(3), Expiration: 3}},
			},
			delays: map[common.Address]time.Duration{
				addrA: 30 * time.Millisecond,
				addrB: 15 * time.Millisecond,
			},
		}
		c := &stakecore.Collector{Chain: "ETH", Reader: reader, Workers: 3}

		records := c.Collect(context.Background(), []common.Address{addrA, addrB, addrC})

		require.Len(t, records, 3)
		assert.Equal(t, addrA, records[0].Address)
		assert.Equal(t, addrB, records[1].Address)
		assert.Equal(t, addrC, records[2].Address)
	})

	t.Run("no addresses yields no records", func(t *testing.T) {
		c := &stakecore.Collector{Chain: "BSC", Reader: &stubReader{}}
		records := c.Collect(context.Background(), nil)
		assert.Empty(t, records)
	})
}
