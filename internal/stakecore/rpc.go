package stakecore

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
)

// --- small RPC helpers (retry + backoff) ---

func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "Too Many Requests") || strings.Contains(s, "-32005")
}

// callWithRetry performs eth_call with small exponential backoff.
func callWithRetry(ctx context.Context, caller bind.ContractCaller, msg ethereum.CallMsg) ([]byte, error) {
	const maxAttempts = 3
	backoff := 200 * time.Millisecond
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		ret, err := caller.CallContract(ctx, msg, nil)
		if err == nil {
			return ret, nil
		}
		lastErr = err
		if attempt < maxAttempts {
			time.Sleep(backoff)
			if isRateLimitError(err) {
				backoff *= 2
			}
		}
	}
	return nil, lastErr
}

// classifyRPCError returns a coarse class for RPC transport errors.
func classifyRPCError(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) || strings.Contains(strings.ToLower(err.Error()), "context deadline exceeded") {
		return "rpc_timeout"
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return "rpc_timeout"
	}
	s := strings.ToLower(err.Error())
	if strings.Contains(s, "connection reset") || strings.Contains(s, "broken pipe") || strings.Contains(s, "eof") {
		return "rpc_unavailable"
	}
	if strings.Contains(s, "too many requests") || strings.Contains(s, "-32005") {
		return "rpc_rate_limited"
	}
	return "rpc_error"
}

// describeCallError produces a short, user-facing explanation for a failed
// per-address read; used only for log lines, never for control flow.
func describeCallError(err error) string {
	if err == nil {
		return ""
	}
	s := err.Error()
	if isRateLimitError(err) {
		return "[RATE_LIMIT] provider throttled the request"
	}
	if strings.Contains(s, "execution reverted") {
		if idx := strings.Index(s, ":"); idx >= 0 && idx+1 < len(s) {
			if reason := strings.TrimSpace(s[idx+1:]); reason != "" {
				return "[REVERT] " + reason
			}
		}
		return "[REVERT] execution reverted"
	}
	var se *ShapeError
	if errors.As(err, &se) {
		return "[SHAPE] " + se.Error()
	}
	return "[" + strings.ToUpper(classifyRPCError(err)) + "] " + s
}
