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

package burner

import (
	"context"

	"github.com/pyrelay/pyrelay/chain"
	"github.com/pyrelay/pyrelay/common"
	"github.com/pyrelay/pyrelay/common/math"
	"github.com/pyrelay/pyrelay/core/types"
)

// refill tops the fee payer's native balance up to the velocity-derived
// target by swapping ecosystem-token treasury reserves. When the
// reserves cannot reach the target the maximum available is swapped and
// the shortfall waits for the next cycle.
func (w *Worker) refill(ctx context.Context) error {
	balance, err := w.pool.GetBalance(ctx, w.payer)
	if err != nil {
		return err
	}
	required, target, basis, err := w.velocity.RequiredBuffer(ctx, w.cfg.RunwayHours, w.cfg.MinBufferLamports)
	if err != nil {
		return err
	}
	if balance >= required {
		return nil
	}
	needed := target - balance
	w.logger.Info("Fee payer below required buffer", "balance", balance,
		"required", required, "target", target, "basis", basis)

	reserves, err := w.pool.GetTokenBalance(ctx, w.treasury.Pubkey(), w.cfg.EcotokenMint)
	if err != nil {
		return err
	}
	if reserves == 0 {
		w.logger.Warn("No ecosystem reserves to refill from", "needed", needed)
		return nil
	}

	// Price the whole reserve once, then swap the proportional slice
	// that covers the shortfall; short reserves swap entirely.
	quote, err := w.dex.Quote(ctx, w.cfg.EcotokenMint, w.cfg.NativeMint, reserves)
	if err != nil {
		return err
	}
	swapIn := reserves
	if quote.OutAmount > needed {
		if product, ok := math.SafeMul(reserves, needed); ok {
			swapIn = math.CeilDiv(product, quote.OutAmount)
		}
		if swapIn > reserves {
			swapIn = reserves
		}
	}
	out, err := w.swap(ctx, w.cfg.EcotokenMint, w.cfg.NativeMint, swapIn)
	if err != nil {
		return err
	}

	// Swap proceeds land on the treasury authority; forward them when
	// the fee payer is a different account.
	if w.payer != w.treasury.Pubkey() {
		if err := w.transferNative(ctx, w.payer, out); err != nil {
			return err
		}
	}
	ev := &types.TreasuryEvent{
		Kind:      "refill",
		AmountIn:  math.Amount(swapIn),
		AmountOut: math.Amount(out),
		Reason:    basis,
		Timestamp: w.now(),
	}
	if err := w.store.PushTreasuryEvent(ctx, ev); err != nil {
		w.logger.Warn("Treasury event write failed", "err", err)
	}
	w.audit.Record(ctx, &types.AuditEntry{
		Type: types.AuditRefillExecuted,
		Payload: map[string]interface{}{
			"swappedEco":     swapIn,
			"receivedNative": out,
			"basis":          basis,
		},
	})
	w.logger.Info("Refill executed", "swappedEco", swapIn, "receivedNative", out, "basis", basis)
	return nil
}

// transferNative moves refill proceeds from the treasury authority to
// the fee payer.
func (w *Worker) transferNative(ctx context.Context, to common.Pubkey, lamports uint64) error {
	blockhash, err := w.pool.LatestBlockhash(ctx)
	if err != nil {
		return err
	}
	tx, err := chain.NewTransaction(w.treasury.Pubkey(), blockhash,
		chain.TransferInstruction(w.treasury.Pubkey(), to, lamports))
	if err != nil {
		return err
	}
	if err := w.treasury.SignTransaction(tx); err != nil {
		return err
	}
	sig, err := w.pool.SendTransaction(ctx, tx)
	if err != nil {
		return err
	}
	return w.pool.ConfirmTransaction(ctx, sig)
}
