package stakecore

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"os"
	"reflect"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
)

// Stake is one contract-level stake entry for an address.
type Stake struct {
	Amount     *big.Int // raw smallest units
	Expiration uint64   // unix seconds
}

// ShapeError reports a contract return value that matches neither of the
// supported lookup shapes (a stake tuple array, or an amount/expiration pair).
type ShapeError struct {
	Method string
	Detail string
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("%s: unexpected return shape: %s", e.Method, e.Detail)
}

// LoadABI reads and parses a JSON contract interface file.
func LoadABI(path string) (abi.ABI, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return abi.ABI{}, fmt.Errorf("read ABI: %w", err)
	}
	parsed, err := abi.JSON(bytes.NewReader(raw))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("parse ABI %s: %w", path, err)
	}
	return parsed, nil
}

// ChainClient reads stake positions from the staking contract on one chain.
type ChainClient struct {
	caller   bind.ContractCaller
	abi      abi.ABI
	contract common.Address
	method   string
}

// ValidateLookup checks that the ABI carries a usable stake-lookup method.
func ValidateLookup(contractABI abi.ABI, method string) error {
	m, ok := contractABI.Methods[method]
	if !ok {
		return fmt.Errorf("ABI has no method %q", method)
	}
	if len(m.Inputs) != 1 || m.Inputs[0].Type.T != abi.AddressTy {
		return fmt.Errorf("method %q must take a single address argument", method)
	}
	return nil
}

func NewChainClient(caller bind.ContractCaller, contractABI abi.ABI, contract common.Address, method string) (*ChainClient, error) {
	if err := ValidateLookup(contractABI, method); err != nil {
		return nil, err
	}
	return &ChainClient{caller: caller, abi: contractABI, contract: contract, method: method}, nil
}

// Stakes calls the lookup method for one address and decodes its stake list.
func (c *ChainClient) Stakes(ctx context.Context, addr common.Address) ([]Stake, error) {
	data, err := c.abi.Pack(c.method, addr)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", c.method, err)
	}
	out, err := callWithRetry(ctx, c.caller, ethereum.CallMsg{To: &c.contract, Data: data})
	if err != nil {
		return nil, err
	}
	vals, err := c.abi.Unpack(c.method, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", c.method, err)
	}
	return decodeStakes(c.method, vals)
}

// decodeStakes accepts the two lookup shapes seen in the wild:
// a dynamic array of stake tuples, or a plain (amount, expiration) pair.
func decodeStakes(method string, vals []interface{}) ([]Stake, error) {
	switch len(vals) {
	case 1:
		rv := reflect.ValueOf(vals[0])
		if rv.Kind() != reflect.Slice {
			return nil, &ShapeError{Method: method, Detail: fmt.Sprintf("single %T return, want a stake array or an (amount, expiration) pair", vals[0])}
		}
		out := make([]Stake, 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			st, err := stakeFromTuple(method, rv.Index(i))
			if err != nil {
				return nil, err
			}
			out = append(out, st)
		}
		return out, nil
	case 2:
		amount, ok := asBigInt(vals[0])
		if !ok {
			return nil, &ShapeError{Method: method, Detail: fmt.Sprintf("amount is %T, want an integer", vals[0])}
		}
		expiration, err := unixSeconds(method, vals[1])
		if err != nil {
			return nil, err
		}
		return []Stake{{Amount: amount, Expiration: expiration}}, nil
	}
	return nil, &ShapeError{Method: method, Detail: fmt.Sprintf("%d return values", len(vals))}
}

// stakeFromTuple reads (amount, expiration) from the first two tuple fields,
// matching the positional access the contract's consumers rely on.
func stakeFromTuple(method string, v reflect.Value) (Stake, error) {
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct || v.NumField() < 2 {
		return Stake{}, &ShapeError{Method: method, Detail: fmt.Sprintf("stake entry is %s, want a tuple starting with (amount, expiration)", v.Kind())}
	}
	// Non-tuple structs (big.Int from a plain integer array) have unexported
	// fields that reflect refuses to read.
	if !v.Field(0).CanInterface() || !v.Field(1).CanInterface() {
		return Stake{}, &ShapeError{Method: method, Detail: fmt.Sprintf("stake entry is %s, want a tuple starting with (amount, expiration)", v.Type())}
	}
	amount, ok := asBigInt(v.Field(0).Interface())
	if !ok {
		return Stake{}, &ShapeError{Method: method, Detail: fmt.Sprintf("stake amount is %T, want an integer", v.Field(0).Interface())}
	}
	expiration, err := unixSeconds(method, v.Field(1).Interface())
	if err != nil {
		return Stake{}, err
	}
	return Stake{Amount: amount, Expiration: expiration}, nil
}

func asBigInt(v interface{}) (*big.Int, bool) {
	switch x := v.(type) {
	case *big.Int:
		if x == nil {
			return nil, false
		}
		return x, true
	case uint64:
		return new(big.Int).SetUint64(x), true
	case uint32:
		return big.NewInt(int64(x)), true
	case uint8:
		return big.NewInt(int64(x)), true
	case int64:
		return big.NewInt(x), true
	case int32:
		return big.NewInt(int64(x)), true
	}
	return nil, false
}

func unixSeconds(method string, v interface{}) (uint64, error) {
	n, ok := asBigInt(v)
	if !ok {
		return 0, &ShapeError{Method: method, Detail: fmt.Sprintf("expiration is %T, want an integer", v)}
	}
	if !n.IsUint64() {
		return 0, &ShapeError{Method: method, Detail: fmt.Sprintf("expiration %s is not a unix timestamp", n)}
	}
	return n.Uint64(), nil
}
