// Package wallet keeps coin balances and runs bet markets.
//
// Every balance change is a single guarded UPDATE plus a ledger row, so a
// balance can never go negative and concurrent adjustments cannot lose
// writes.
package wallet

import "errors"

var (
	ErrInvalidInput      = errors.New("wallet: invalid input")
	ErrNotFound          = errors.New("wallet: not found")
	ErrInsufficientFunds = errors.New("wallet: insufficient funds")
	ErrMarketClosed      = errors.New("wallet: market is not open")
	ErrUnknownOption     = errors.New("wallet: unknown option")
)
