// Package api is the signed REST client shared by the venue adapters.
//
// Every request is rate limited per venue, signed with the venue's
// auth.Signer, and classified on failure:
//   - *APIError for HTTP status >= 400 (IsRetryable for 5xx and 429)
//   - ErrTimeout when the deadline passed before a response arrived
//
// Only idempotent requests (GET, DELETE) are retried. A POST that times out
// is never replayed.
package api
