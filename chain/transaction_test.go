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
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pyrelay/pyrelay/common"
)

func testKeypair(t *testing.T) (common.Pubkey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return common.BytesToPubkey(pub), priv
}

func testBlockhash() Hash {
	var h Hash
	for i := range h {
		h[i] = byte(i + 1)
	}
	return h
}

func TestTransactionRoundTrip(t *testing.T) {
	payer, _ := testKeypair(t)
	user, _ := testKeypair(t)
	dest, _ := testKeypair(t)

	tx, err := NewTransaction(payer, testBlockhash(),
		TransferInstruction(user, dest, 1_000_000))
	require.NoError(t, err)

	raw, err := tx.Serialize()
	require.NoError(t, err)

	parsed, err := ParseTransaction(raw)
	require.NoError(t, err)
	require.Equal(t, tx.Message.Header, parsed.Message.Header)
	require.Equal(t, tx.Message.AccountKeys, parsed.Message.AccountKeys)
	require.Equal(t, tx.Message.RecentBlockhash, parsed.Message.RecentBlockhash)
	require.Equal(t, tx.Message.Instructions, parsed.Message.Instructions)

	reserialized, err := parsed.Serialize()
	require.NoError(t, err)
	require.True(t, bytes.Equal(raw, reserialized))
}

func TestParseTruncated(t *testing.T) {
	payer, _ := testKeypair(t)
	tx, err := NewTransaction(payer, testBlockhash())
	require.NoError(t, err)
	raw, err := tx.Serialize()
	require.NoError(t, err)

	for cut := 1; cut < len(raw); cut += 7 {
		_, err := ParseTransaction(raw[:len(raw)-cut])
		require.Error(t, err, "cut=%d", cut)
	}
}

func TestSignAndVerify(t *testing.T) {
	payerPub, payerPriv := testKeypair(t)
	userPub, userPriv := testKeypair(t)
	dest, _ := testKeypair(t)

	tx, err := NewTransaction(payerPub, testBlockhash(),
		TransferInstruction(userPub, dest, 500))
	require.NoError(t, err)
	require.Equal(t, 2, int(tx.Message.Header.NumRequiredSignatures))

	// The fee payer slot starts unsigned.
	require.False(t, tx.HasSignature(payerPub))

	require.NoError(t, tx.Sign(userPriv))
	require.True(t, tx.VerifySignature(userPub))
	require.False(t, tx.VerifySignature(payerPub))

	require.NoError(t, tx.Sign(payerPriv))
	require.True(t, tx.VerifySignature(payerPub))

	// Tampering with the message breaks verification.
	tx.Message.RecentBlockhash[0] ^= 0xff
	require.False(t, tx.VerifySignature(userPub))
}

func TestSignUnknownSigner(t *testing.T) {
	payer, _ := testKeypair(t)
	_, strangerPriv := testKeypair(t)
	tx, err := NewTransaction(payer, testBlockhash())
	require.NoError(t, err)
	require.ErrorIs(t, tx.Sign(strangerPriv), ErrUnknownSigner)
}

func TestFeePayerIsFirstAccount(t *testing.T) {
	payer, _ := testKeypair(t)
	user, _ := testKeypair(t)
	dest, _ := testKeypair(t)
	tx, err := NewTransaction(payer, testBlockhash(),
		TransferInstruction(user, dest, 1))
	require.NoError(t, err)
	fp, err := tx.FeePayer()
	require.NoError(t, err)
	require.Equal(t, payer, fp)
}

func TestFingerprintChangesWithSignature(t *testing.T) {
	payerPub, payerPriv := testKeypair(t)
	tx, err := NewTransaction(payerPub, testBlockhash())
	require.NoError(t, err)

	fp1, err := tx.Fingerprint()
	require.NoError(t, err)
	require.NoError(t, tx.Sign(payerPriv))
	fp2, err := tx.Fingerprint()
	require.NoError(t, err)
	require.NotEqual(t, fp1, fp2)
}

func TestCompactLenRoundTrip(t *testing.T) {
	for _, n := range []int{0, 1, 127, 128, 300, 16383, 16384, 65535} {
		var buf bytes.Buffer
		require.NoError(t, writeCompactLen(&buf, n))
		r := &reader{buf: buf.Bytes()}
		got, err := r.compactLen()
		require.NoError(t, err)
		require.Equal(t, n, got)
	}
	var buf bytes.Buffer
	require.ErrorIs(t, writeCompactLen(&buf, 0x10000), ErrTooManyEntries)
}

func TestParseSignerForms(t *testing.T) {
	_, priv := testKeypair(t)
	s := NewSigner(priv)
	require.False(t, s.Pubkey().IsZero())

	_, err := ParseSigner("not-base58-!!!")
	require.Error(t, err)
}
