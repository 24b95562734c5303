package provider

import (
	"errors"
	"fmt"

	"github.com/rickgao/marketsync/internal/api"
	"github.com/rickgao/marketsync/internal/auth"
	"github.com/rickgao/marketsync/internal/model"
)

var (
	// ErrSnapshotUnavailable is retryable with backoff.
	ErrSnapshotUnavailable = errors.New("snapshot unavailable")

	// ErrMarketNotFound is not retryable.
	ErrMarketNotFound = errors.New("market not found")

	// ErrUnsupportedOperation is a caller error: check Capabilities first.
	ErrUnsupportedOperation = errors.New("unsupported operation")

	// ErrOrderTimeout means the venue did not answer in time. The order may
	// have executed and must be resolved by a status lookup.
	ErrOrderTimeout = errors.New("order request timed out")

	// ErrOrderRejected means the venue answered and refused the request.
	ErrOrderRejected = errors.New("order rejected")

	// ErrOrderNotFound means a status lookup found no such order.
	ErrOrderNotFound = errors.New("order not found")

	// ErrInvalidOrder means the order failed local validation and was never sent.
	ErrInvalidOrder = errors.New("invalid order")
)

// Unsupported returns an ErrUnsupportedOperation naming the venue and operation.
func Unsupported(venue model.Venue, op string) error {
	return fmt.Errorf("%w: %s does not support %s", ErrUnsupportedOperation, venue, op)
}

// Require fails with ErrUnsupportedOperation unless caps supports want.
func Require(venue model.Venue, caps, want Capability) error {
	if !caps.Supports(want) {
		return Unsupported(venue, (want &^ caps).String())
	}
	return nil
}

// SnapshotError maps a REST failure during a snapshot fetch onto the
// adapter taxonomy. Signing and auth errors pass through unchanged.
func SnapshotError(market string, err error) error {
	var keyErr *auth.InvalidKeyFormatError
	switch {
	case err == nil:
		return nil
	case errors.Is(err, auth.ErrAuthConfig), errors.Is(err, auth.ErrSigning), errors.As(err, &keyErr):
		return err
	case api.IsNotFound(err):
		return fmt.Errorf("%w: %s", ErrMarketNotFound, market)
	default:
		return fmt.Errorf("%w: %s: %v", ErrSnapshotUnavailable, market, err)
	}
}

// OrderError maps a REST failure during an order call onto the adapter
// taxonomy. Timeouts never become rejections.
func OrderError(err error) error {
	var apiErr *api.APIError
	switch {
	case err == nil:
		return nil
	case api.IsTimeout(err):
		return fmt.Errorf("%w: %v", ErrOrderTimeout, err)
	case errors.As(err, &apiErr) && apiErr.StatusCode < 500:
		return fmt.Errorf("%w: %v: %s", ErrOrderRejected, err, apiErr.Body)
	default:
		return err
	}
}
