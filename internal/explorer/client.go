package explorer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ErrBadPayload marks an explorer response that does not match the
// documented envelope or transaction-list shape.
var ErrBadPayload = errors.New("unexpected explorer payload")

// APIError is a non-OK explorer envelope (bad key, throttled, etc).
type APIError struct {
	Status  string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("explorer status %s: %s", e.Status, e.Message)
}

// Client queries an Etherscan-family explorer for a contract's tx history.
type Client struct {
	BaseURL    string
	APIKey     string
	ChainID    int64 // optional, for v2-style multi-chain endpoints
	PageSize   int
	StartBlock uint64
	Throttle   time.Duration
	http       *http.Client
}

// Transaction is the subset of the txlist result rows the exporter reads.
type Transaction struct {
	BlockNumber string `json:"blockNumber"`
	Hash        string `json:"hash"`
	From        string `json:"from"`
	To          string `json:"to"`
}

type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

func NewClient(baseURL, apiKey string) *Client {
	return NewClientWithHTTP(baseURL, apiKey, &http.Client{Timeout: 30 * time.Second})
}

// NewClientWithHTTP lets tests point the client at a local fake server.
func NewClientWithHTTP(baseURL, apiKey string, hc *http.Client) *Client {
	return &Client{
		BaseURL:  strings.TrimRight(baseURL, "/"),
		APIKey:   apiKey,
		PageSize: 10000,
		Throttle: time.Second,
		http:     hc,
	}
}

// TransactionPage fetches one txlist page at or after fromBlock (page is
// 1-based). An empty slice means the explorer has no transactions there.
func (c *Client) TransactionPage(ctx context.Context, contract common.Address, fromBlock uint64, page int) ([]Transaction, error) {
	params := url.Values{}
	params.Set("module", "account")
	params.Set("action", "txlist")
	params.Set("address", contract.Hex())
	params.Set("startblock", strconv.FormatUint(fromBlock, 10))
	params.Set("page", strconv.Itoa(page))
	params.Set("offset", strconv.Itoa(c.PageSize))
	params.Set("sort", "asc")
	params.Set("apikey", c.APIKey)
	if c.ChainID > 0 {
		params.Set("chainid", strconv.FormatInt(c.ChainID, 10))
	}

	env, err := c.getWithRetry(ctx, c.BaseURL+"?"+params.Encode())
	if err != nil {
		return nil, err
	}
	if env.Status != "1" {
		// Etherscan reports an empty page as status 0 / "No transactions found".
		if strings.Contains(env.Message, "No transactions found") {
			return nil, nil
		}
		return nil, &APIError{Status: env.Status, Message: env.Message}
	}
	var txs []Transaction
	if err := json.Unmarshal(env.Result, &txs); err != nil {
		return nil, fmt.Errorf("%w: txlist result is not an array: %v", ErrBadPayload, err)
	}
	return txs, nil
}

// DiscoverAddresses walks txlist pages until an empty or short page and
// returns the distinct checksum-normalized "from" addresses, sorted. After a
// full page the start block advances past the last returned block, so
// histories larger than one explorer result window are still fully covered.
// On a mid-pagination failure the addresses collected so far are returned
// together with the error, so the caller can keep the partial set.
func (c *Client) DiscoverAddresses(ctx context.Context, contract common.Address) ([]common.Address, error) {
	seen := make(map[common.Address]struct{})
	from := c.StartBlock
	for page := 1; ; page++ {
		txs, err := c.TransactionPage(ctx, contract, from, 1)
		if err != nil {
			return sortedAddresses(seen), fmt.Errorf("txlist page %d (from block %d): %w", page, from, err)
		}
		if len(txs) == 0 {
			break
		}
		for _, tx := range txs {
			// Non-hex senders (e.g. "GENESIS") carry no stake to look up.
			if common.IsHexAddress(tx.From) {
				seen[common.HexToAddress(tx.From)] = struct{}{}
			}
		}
		if len(txs) < c.PageSize {
			break
		}
		last, err := lastBlock(txs)
		if err != nil {
			return sortedAddresses(seen), fmt.Errorf("txlist page %d: %w", page, err)
		}
		from = last + 1
		if err := c.sleep(ctx); err != nil {
			return sortedAddresses(seen), err
		}
	}
	return sortedAddresses(seen), nil
}

// lastBlock parses the block number of a page's final transaction, the point
// the next window starts after.
func lastBlock(txs []Transaction) (uint64, error) {
	raw := txs[len(txs)-1].BlockNumber
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: block number %q", ErrBadPayload, raw)
	}
	return n, nil
}

// sleep waits the configured throttle between page fetches.
func (c *Client) sleep(ctx context.Context) error {
	if c.Throttle <= 0 {
		return nil
	}
	t := time.NewTimer(c.Throttle)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// getWithRetry performs the GET with small exponential backoff.
func (c *Client) getWithRetry(ctx context.Context, u string) (*envelope, error) {
	const maxAttempts = 3
	backoff := 200 * time.Millisecond
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		env, err := c.getOnce(ctx, u)
		if err == nil {
			return env, nil
		}
		lastErr = err
		if attempt < maxAttempts {
			time.Sleep(backoff)
			if isThrottled(err) {
				backoff *= 2
			}
		}
	}
	return nil, lastErr
}

func (c *Client) getOnce(ctx context.Context, u string) (*envelope, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("explorer http %d: %s", resp.StatusCode, firstLine(body))
	}
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	return &env, nil
}

func isThrottled(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "429") || strings.Contains(s, "Too Many Requests") || strings.Contains(s, "rate limit")
}

func firstLine(b []byte) string {
	if i := bytes.IndexByte(b, '\n'); i >= 0 {
		b = b[:i]
	}
	if len(b) > 200 {
		b = b[:200]
	}
	return string(b)
}

func sortedAddresses(set map[common.Address]struct{}) []common.Address {
	out := make([]common.Address, 0, len(set))
	for a := range set {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out
}
