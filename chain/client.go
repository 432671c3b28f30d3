// Copyright 2025 The pyrelay Authors
// This file is part of the pyrelay library.
//
// The pyrelay library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The pyrelay library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the pyrelay library. If not, see <http://www.gnu.org/licenses/>.

package chain

import (
	"context"

	"github.com/pyrelay/pyrelay/common"
)

// TokenAccount is one token holding, as returned by the owner scan.
type TokenAccount struct {
	Account  common.Pubkey
	Mint     common.Pubkey
	Amount   uint64
	Decimals uint8
}

// TokenSupply is a mint's circulating supply.
type TokenSupply struct {
	Amount   uint64
	Decimals uint8
}

// Client is the chain RPC surface the relay consumes. The pool wraps
// many of these, one per endpoint.
type Client interface {
	// GetBalance returns an account's native-coin balance in base units.
	GetBalance(ctx context.Context, account common.Pubkey) (uint64, error)
	// GetTokenAccountsByOwner lists owner's token holdings.
	GetTokenAccountsByOwner(ctx context.Context, owner common.Pubkey) ([]TokenAccount, error)
	// GetTokenBalance returns owner's balance of one mint, summed over
	// accounts.
	GetTokenBalance(ctx context.Context, owner, mint common.Pubkey) (uint64, error)
	// GetTokenSupply returns a mint's circulating supply.
	GetTokenSupply(ctx context.Context, mint common.Pubkey) (TokenSupply, error)
	// GetLatestBlockhash returns a recent blockhash to attach to new
	// transactions.
	GetLatestBlockhash(ctx context.Context) (Hash, error)
	// SendTransaction submits a fully signed transaction.
	SendTransaction(ctx context.Context, tx *Transaction) (common.Signature, error)
	// ConfirmTransaction blocks until the signature confirms or ctx
	// expires.
	ConfirmTransaction(ctx context.Context, sig common.Signature) error
	// Health checks endpoint liveness.
	Health(ctx context.Context) error
}
