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

// Package chain speaks to the proof-of-stake chain: the legacy
// transaction wire format, ed25519 signing, a JSON-RPC client and the
// priority-ordered endpoint pool with per-endpoint circuit breakers.
package chain

import (
	"bytes"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"

	"github.com/pyrelay/pyrelay/common"
)

// Hash is a 32 byte blockhash.
type Hash [32]byte

func (h Hash) Bytes() []byte  { return h[:] }
func (h Hash) Base58() string { return base58.Encode(h[:]) }
func (h Hash) String() string { return h.Base58() }
func (h Hash) IsZero() bool   { return h == Hash{} }

// Base58ToHash decodes a base58 blockhash.
func Base58ToHash(s string) (Hash, error) {
	raw, err := base58.Decode(s)
	if err != nil {
		return Hash{}, fmt.Errorf("invalid base58 hash: %w", err)
	}
	if len(raw) != len(Hash{}) {
		return Hash{}, fmt.Errorf("invalid hash length %d", len(raw))
	}
	var h Hash
	copy(h[:], raw)
	return h, nil
}

// MessageHeader counts the signature and read-only slots of a message's
// account list.
type MessageHeader struct {
	NumRequiredSignatures uint8
	NumReadonlySigned     uint8
	NumReadonlyUnsigned   uint8
}

// CompiledInstruction references accounts by their index in the
// message's account list.
type CompiledInstruction struct {
	ProgramIDIndex uint8
	Accounts       []uint8
	Data           []byte
}

// Message is the signed portion of a transaction.
type Message struct {
	Header          MessageHeader
	AccountKeys     []common.Pubkey
	RecentBlockhash Hash
	Instructions    []CompiledInstruction
}

// Transaction is a legacy-format transaction: a signature per required
// signer, in account order, followed by the message.
type Transaction struct {
	Signatures []common.Signature
	Message    Message
}

var (
	ErrNoAccounts     = errors.New("chain: transaction has no accounts")
	ErrUnknownSigner  = errors.New("chain: key is not a required signer")
	ErrShortBuffer    = errors.New("chain: truncated transaction bytes")
	ErrTooManyEntries = errors.New("chain: compact length exceeds u16")
)

// FeePayer returns the account paying the network fee, by convention
// the first account key.
func (tx *Transaction) FeePayer() (common.Pubkey, error) {
	if len(tx.Message.AccountKeys) == 0 {
		return common.Pubkey{}, ErrNoAccounts
	}
	return tx.Message.AccountKeys[0], nil
}

// SignerIndex returns key's slot among the required signers, or -1.
func (tx *Transaction) SignerIndex(key common.Pubkey) int {
	n := int(tx.Message.Header.NumRequiredSignatures)
	if n > len(tx.Message.AccountKeys) {
		n = len(tx.Message.AccountKeys)
	}
	for i := 0; i < n; i++ {
		if tx.Message.AccountKeys[i] == key {
			return i
		}
	}
	return -1
}

// Sign fills the signer's slot with an ed25519 signature over the
// serialized message.
func (tx *Transaction) Sign(priv ed25519.PrivateKey) error {
	pub := common.BytesToPubkey(priv.Public().(ed25519.PublicKey))
	idx := tx.SignerIndex(pub)
	if idx < 0 {
		return ErrUnknownSigner
	}
	msg, err := tx.Message.Serialize()
	if err != nil {
		return err
	}
	for len(tx.Signatures) < int(tx.Message.Header.NumRequiredSignatures) {
		tx.Signatures = append(tx.Signatures, common.Signature{})
	}
	tx.Signatures[idx] = common.BytesToSignature(ed25519.Sign(priv, msg))
	return nil
}

// VerifySignature checks the signature in key's slot against the
// message. Empty slots verify false.
func (tx *Transaction) VerifySignature(key common.Pubkey) bool {
	idx := tx.SignerIndex(key)
	if idx < 0 || idx >= len(tx.Signatures) {
		return false
	}
	sig := tx.Signatures[idx]
	if sig.IsZero() {
		return false
	}
	msg, err := tx.Message.Serialize()
	if err != nil {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(key.Bytes()), msg, sig.Bytes())
}

// HasSignature reports whether key's slot carries any signature.
func (tx *Transaction) HasSignature(key common.Pubkey) bool {
	idx := tx.SignerIndex(key)
	return idx >= 0 && idx < len(tx.Signatures) && !tx.Signatures[idx].IsZero()
}

// Fingerprint returns the anti-replay key for this transaction, the
// hex SHA-256 of its serialized bytes.
func (tx *Transaction) Fingerprint() (string, error) {
	raw, err := tx.Serialize()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

// Serialize renders the wire form: compact signature array followed by
// the message.
func (tx *Transaction) Serialize() ([]byte, error) {
	var buf bytes.Buffer
	if err := writeCompactLen(&buf, len(tx.Signatures)); err != nil {
		return nil, err
	}
	for _, sig := range tx.Signatures {
		buf.Write(sig.Bytes())
	}
	msg, err := tx.Message.Serialize()
	if err != nil {
		return nil, err
	}
	buf.Write(msg)
	return buf.Bytes(), nil
}

// Serialize renders the message wire form.
func (m *Message) Serialize() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(m.Header.NumRequiredSignatures)
	buf.WriteByte(m.Header.NumReadonlySigned)
	buf.WriteByte(m.Header.NumReadonlyUnsigned)
	if err := writeCompactLen(&buf, len(m.AccountKeys)); err != nil {
		return nil, err
	}
	for _, key := range m.AccountKeys {
		buf.Write(key.Bytes())
	}
	buf.Write(m.RecentBlockhash[:])
	if err := writeCompactLen(&buf, len(m.Instructions)); err != nil {
		return nil, err
	}
	for _, in := range m.Instructions {
		buf.WriteByte(in.ProgramIDIndex)
		if err := writeCompactLen(&buf, len(in.Accounts)); err != nil {
			return nil, err
		}
		buf.Write(in.Accounts)
		if err := writeCompactLen(&buf, len(in.Data)); err != nil {
			return nil, err
		}
		buf.Write(in.Data)
	}
	return buf.Bytes(), nil
}

// ParseTransaction decodes the wire form back into a Transaction.
func ParseTransaction(raw []byte) (*Transaction, error) {
	r := &reader{buf: raw}
	nsigs, err := r.compactLen()
	if err != nil {
		return nil, err
	}
	tx := &Transaction{Signatures: make([]common.Signature, 0, nsigs)}
	for i := 0; i < nsigs; i++ {
		b, err := r.take(common.SignatureLength)
		if err != nil {
			return nil, err
		}
		tx.Signatures = append(tx.Signatures, common.BytesToSignature(b))
	}
	hdr, err := r.take(3)
	if err != nil {
		return nil, err
	}
	tx.Message.Header = MessageHeader{hdr[0], hdr[1], hdr[2]}
	nkeys, err := r.compactLen()
	if err != nil {
		return nil, err
	}
	tx.Message.AccountKeys = make([]common.Pubkey, 0, nkeys)
	for i := 0; i < nkeys; i++ {
		b, err := r.take(common.PubkeyLength)
		if err != nil {
			return nil, err
		}
		tx.Message.AccountKeys = append(tx.Message.AccountKeys, common.BytesToPubkey(b))
	}
	bh, err := r.take(len(Hash{}))
	if err != nil {
		return nil, err
	}
	copy(tx.Message.RecentBlockhash[:], bh)
	ninstr, err := r.compactLen()
	if err != nil {
		return nil, err
	}
	tx.Message.Instructions = make([]CompiledInstruction, 0, ninstr)
	for i := 0; i < ninstr; i++ {
		prog, err := r.take(1)
		if err != nil {
			return nil, err
		}
		naccts, err := r.compactLen()
		if err != nil {
			return nil, err
		}
		accts, err := r.take(naccts)
		if err != nil {
			return nil, err
		}
		ndata, err := r.compactLen()
		if err != nil {
			return nil, err
		}
		data, err := r.take(ndata)
		if err != nil {
			return nil, err
		}
		in := CompiledInstruction{ProgramIDIndex: prog[0]}
		in.Accounts = append([]uint8(nil), accts...)
		in.Data = append([]byte(nil), data...)
		tx.Message.Instructions = append(tx.Message.Instructions, in)
	}
	if len(r.buf) != r.pos {
		return nil, fmt.Errorf("chain: %d trailing bytes after transaction", len(r.buf)-r.pos)
	}
	return tx, nil
}

// writeCompactLen emits the compact-u16 length prefix: 7 bits per byte,
// high bit set on continuation.
func writeCompactLen(buf *bytes.Buffer, n int) error {
	if n > 0xffff {
		return ErrTooManyEntries
	}
	v := uint16(n)
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v == 0 {
			buf.WriteByte(b)
			return nil
		}
		buf.WriteByte(b | 0x80)
	}
}

type reader struct {
	buf []byte
	pos int
}

func (r *reader) take(n int) ([]byte, error) {
	if r.pos+n > len(r.buf) {
		return nil, ErrShortBuffer
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *reader) compactLen() (int, error) {
	n, shift := 0, 0
	for i := 0; i < 3; i++ {
		b, err := r.take(1)
		if err != nil {
			return 0, err
		}
		n |= int(b[0]&0x7f) << shift
		if b[0]&0x80 == 0 {
			if n > 0xffff {
				return 0, ErrTooManyEntries
			}
			return n, nil
		}
		shift += 7
	}
	return 0, ErrTooManyEntries
}
