package stakecore_test

import (
	"context"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ligun0805/stake-export/internal/stakecore"
)

const lookupABIJSON = `[{
	"inputs": [{"name": "user", "type": "address"}],
	"name": "getUserStakes",
	"outputs": [{
		"components": [
			{"name": "amount", "type": "uint256"},
			{"name": "expiration", "type": "uint256"}
		],
		"name": "", "type": "tuple[]"
	}],
	"stateMutability": "view", "type": "function"
}]`

const pairABIJSON = `[{
	"inputs": [{"name": "user", "type": "address"}],
	"name": "stakeOf",
	"outputs": [
		{"name": "amount", "type": "uint256"},
		{"name": "expiration", "type": "uint256"}
	],
	"stateMutability": "view", "type": "function"
}]`

const stringABIJSON = `[{
	"inputs": [{"name": "user", "type": "address"}],
	"name": "getUserStakes",
	"outputs": [{"name": "", "type": "string"}],
	"stateMutability": "view", "type": "function"
}]`

const twoArgABIJSON = `[{
	"inputs": [{"name": "user", "type": "address"}, {"name": "index", "type": "uint256"}],
	"name": "stakeAt",
	"outputs": [{"name": "amount", "type": "uint256"}],
	"stateMutability": "view", "type": "function"
}]`

const uintArrayABIJSON = `[{
	"inputs": [{"name": "user", "type": "address"}],
	"name": "getUserStakes",
	"outputs": [{"name": "", "type": "uint256[]"}],
	"stateMutability": "view", "type": "function"
}]`

type stakeOut struct {
	Amount     *big.Int
	Expiration *big.Int
}

type fakeCaller struct {
	calls   int
	respond func(msg ethereum.CallMsg) ([]byte, error)
}

func (f *fakeCaller) CodeAt(ctx context.Context, contract common.Address, blockNumber *big.Int) ([]byte, error) {
	return []byte{0x01}, nil
}

func (f *fakeCaller) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	f.calls++
	return f.respond(msg)
}

func mustABI(t *testing.T, raw string) abi.ABI {
	t.Helper()
	parsed, err := abi.JSON(strings.NewReader(raw))
	require.NoError(t, err)
	return parsed
}

func TestChainClientStakes(t *testing.T) {
	contract := common.HexToAddress("0x1e7866b5a5a4f09efd235d28d49568c2fe2f7ecd")
	staker := common.HexToAddress("0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed")

	t.Run("decodes a stake tuple array exactly as returned", func(t *testing.T) {
		lookupABI := mustABI(t, lookupABIJSON)
		caller := &fakeCaller{respond: func(msg ethereum.CallMsg) ([]byte, error) {
			require.NotNil(t, msg.To)
			assert.Equal(t, contract, *msg.To)
			assert.Equal(t, staker, common.BytesToAddress(msg.Data[4:36]))
			return lookupABI.Methods["getUserStakes"].Outputs.Pack([]stakeOut{
				{Amount: big.NewInt(1500000000), Expiration: big.NewInt(1700000000)},
				{Amount: big.NewInt(2500000000), Expiration: big.NewInt(1800000000)},
			})
		}}
		client, err := stakecore.NewChainClient(caller, lookupABI, contract, "getUserStakes")
		require.NoError(t, err)

		stakes, err := client.Stakes(context.Background(), staker)

		require.NoError(t, err)
		require.Len(t, stakes, 2)
		assert.Equal(t, big.NewInt(1500000000), stakes[0].Amount)
		assert.Equal(t, uint64(1700000000), stakes[0].Expiration)
		assert.Equal(t, big.NewInt(2500000000), stakes[1].Amount)
		assert.Equal(t, uint64(1800000000), stakes[1].Expiration)
	})

	t.Run("decodes an amount and expiration pair", func(t *testing.T) {
		pairABI := mustABI(t, pairABIJSON)
		caller := &fakeCaller{respond: func(msg ethereum.CallMsg) ([]byte, error) {
			return pairABI.Methods["stakeOf"].Outputs.Pack(big.NewInt(42), big.NewInt(1750000000))
		}}
		client, err := stakecore.NewChainClient(caller, pairABI, contract, "stakeOf")
		require.NoError(t, err)

		stakes, err := client.Stakes(context.Background(), staker)

		require.NoError(t, err)
		require.Len(t, stakes, 1)
		assert.Equal(t, big.NewInt(42), stakes[0].Amount)
		assert.Equal(t, uint64(1750000000), stakes[0].Expiration)
	})

	t.Run("empty stake list is not an error", func(t *testing.T) {
		lookupABI := mustABI(t, lookupABIJSON)
		caller := &fakeCaller{respond: func(msg ethereum.CallMsg) ([]byte, error) {
			return lookupABI.Methods["getUserStakes"].Outputs.Pack([]stakeOut{})
		}}
		client, err := stakecore.NewChainClient(caller, lookupABI, contract, "getUserStakes")
		require.NoError(t, err)

		stakes, err := client.Stakes(context.Background(), staker)

		require.NoError(t, err)
		assert.Empty(t, stakes)
	})

	t.Run("yields a typed shape error on unexpected returns", func(t *testing.T) {
		stringABI := mustABI(t, stringABIJSON)
		caller := &fakeCaller{respond: func(msg ethereum.CallMsg) ([]byte, error) {
			return stringABI.Methods["getUserStakes"].Outputs.Pack("not a stake")
		}}
		client, err := stakecore.NewChainClient(caller, stringABI, contract, "getUserStakes")
		require.NoError(t, err)

		_, err = client.Stakes(context.Background(), staker)

		var shapeErr *stakecore.ShapeError
		require.ErrorAs(t, err, &shapeErr)
		assert.Equal(t, "getUserStakes", shapeErr.Method)
	})

	t.Run("rejects an integer array return with a typed error", func(t *testing.T) {
		arrayABI := mustABI(t, uintArrayABIJSON)
		caller := &fakeCaller{respond: func(msg ethereum.CallMsg) ([]byte, error) {
			return arrayABI.Methods["getUserStakes"].Outputs.Pack([]*big.Int{big.NewInt(5)})
		}}
		client, err := stakecore.NewChainClient(caller, arrayABI, contract, "getUserStakes")
		require.NoError(t, err)

		_, err = client.Stakes(context.Background(), staker)

		var shapeErr *stakecore.ShapeError
		require.ErrorAs(t, err, &shapeErr)
		assert.Contains(t, shapeErr.Detail, "big.Int")
	})

	t.Run("retries provider throttling once before succeeding", func(t *testing.T) {
		lookupABI := mustABI(t, lookupABIJSON)
		caller := &fakeCaller{}
		caller.respond = func(msg ethereum.CallMsg) ([]byte, error) {
			if caller.calls == 1 {
				return nil, errors.New("429 Too Many Requests")
			}
			return lookupABI.Methods["getUserStakes"].Outputs.Pack([]stakeOut{
				{Amount: big.NewInt(7), Expiration: big.NewInt(100)},
			})
		}
		client, err := stakecore.NewChainClient(caller, lookupABI, contract, "getUserStakes")
		require.NoError(t, err)

		stakes, err := client.Stakes(context.Background(), staker)

		require.NoError(t, err)
		require.Len(t, stakes, 1)
		assert.Equal(t, 2, caller.calls)
	})

	t.Run("surfaces read failures to the caller", func(t *testing.T) {
		lookupABI := mustABI(t, lookupABIJSON)
		caller := &fakeCaller{respond: func(msg ethereum.CallMsg) ([]byte, error) {
			return nil, errors.New("execution reverted: unknown account")
		}}
		client, err := stakecore.NewChainClient(caller, lookupABI, contract, "getUserStakes")
		require.NoError(t, err)

		_, err = client.Stakes(context.Background(), staker)

		require.Error(t, err)
		assert.Contains(t, err.Error(), "execution reverted")
	})
}

func TestValidateLookup(t *testing.T) {
	t.Run("rejects a missing method", func(t *testing.T) {
		err := stakecore.ValidateLookup(mustABI(t, lookupABIJSON), "getStakes")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "getStakes")
	})

	t.Run("rejects a method with extra arguments", func(t *testing.T) {
		err := stakecore.ValidateLookup(mustABI(t, twoArgABIJSON), "stakeAt")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "single address argument")
	})

	t.Run("accepts the default lookup", func(t *testing.T) {
		require.NoError(t, stakecore.ValidateLookup(mustABI(t, lookupABIJSON), "getUserStakes"))
	})
}

func TestLoadABI(t *testing.T) {
	t.Run("loads a JSON interface file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "abi.json")
		require.NoError(t, os.WriteFile(path, []byte(lookupABIJSON), 0o644))

		parsed, err := stakecore.LoadABI(path)

		require.NoError(t, err)
		_, ok := parsed.Methods["getUserStakes"]
		assert.True(t, ok)
	})

	t.Run("fails on a missing file", func(t *testing.T) {
		_, err := stakecore.LoadABI(filepath.Join(t.TempDir(), "absent.json"))
		require.Error(t, err)
	})

	t.Run("fails on malformed JSON", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "abi.json")
		require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

		_, err := stakecore.LoadABI(path)

		require.Error(t, err)
	})
}
