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
	"crypto/ed25519"
	"fmt"

	"github.com/mr-tron/base58"

	"github.com/pyrelay/pyrelay/common"
)

// Signer holds one ed25519 signing key. The private material never
// leaves this struct; callers sign through it.
type Signer struct {
	priv   ed25519.PrivateKey
	pubkey common.Pubkey
}

// ParseSigner decodes a base58 secret key. Both the 64 byte expanded
// form and the 32 byte seed form are accepted.
func ParseSigner(encoded string) (*Signer, error) {
	raw, err := base58.Decode(encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid base58 signer key: %w", err)
	}
	var priv ed25519.PrivateKey
	switch len(raw) {
	case ed25519.PrivateKeySize:
		priv = ed25519.PrivateKey(raw)
	case ed25519.SeedSize:
		priv = ed25519.NewKeyFromSeed(raw)
	default:
		return nil, fmt.Errorf("invalid signer key length %d", len(raw))
	}
	return NewSigner(priv), nil
}

// NewSigner wraps a pre-decoded private key.
func NewSigner(priv ed25519.PrivateKey) *Signer {
	return &Signer{
		priv:   priv,
		pubkey: common.BytesToPubkey(priv.Public().(ed25519.PublicKey)),
	}
}

// Pubkey returns the signer's account key.
func (s *Signer) Pubkey() common.Pubkey { return s.pubkey }

// SignTransaction fills the signer's slot in tx.
func (s *Signer) SignTransaction(tx *Transaction) error {
	return tx.Sign(s.priv)
}
