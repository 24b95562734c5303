// Package model defines the unified types shared by every venue adapter,
// the reconciliation engine and the aggregator.
//
// Conventions:
//   - Prices and sizes: shopspring decimal, never float64
//   - Prices on binary venues are probabilities in dollars (0.00-1.00)
//   - Timestamps: time.Time in UTC
//   - IDs: venue-native strings (tickers, token ids, order ids)
package model
