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

package common

import (
	"bytes"
	"fmt"

	"github.com/mr-tron/base58"
)

const (
	// PubkeyLength is the byte length of an ed25519 account key.
	PubkeyLength = 32
	// SignatureLength is the byte length of an ed25519 signature.
	SignatureLength = 64
)

// Pubkey represents a 32 byte account address on the chain.
type Pubkey [PubkeyLength]byte

func BytesToPubkey(b []byte) Pubkey {
	var p Pubkey
	p.SetBytes(b)
	return p
}

// Base58ToPubkey decodes a base58 account string. The zero key is
// returned together with the error when s does not decode to exactly
// PubkeyLength bytes.
func Base58ToPubkey(s string) (Pubkey, error) {
	raw, err := base58.Decode(s)
	if err != nil {
		return Pubkey{}, fmt.Errorf("invalid base58 key %q: %w", s, err)
	}
	if len(raw) != PubkeyLength {
		return Pubkey{}, fmt.Errorf("invalid key length %d, want %d", len(raw), PubkeyLength)
	}
	return BytesToPubkey(raw), nil
}

// MustBase58ToPubkey is Base58ToPubkey for test fixtures and constants
// known to be valid. It panics on malformed input.
func MustBase58ToPubkey(s string) Pubkey {
	p, err := Base58ToPubkey(s)
	if err != nil {
		panic(err)
	}
	return p
}

// IsBase58Pubkey reports whether s decodes to a well formed account key.
func IsBase58Pubkey(s string) bool {
	_, err := Base58ToPubkey(s)
	return err == nil
}

func (p Pubkey) Bytes() []byte { return p[:] }
func (p Pubkey) Base58() string {
	return base58.Encode(p[:])
}
func (p Pubkey) String() string { return p.Base58() }

// IsZero reports whether the key is the all zero key, used as the
// absent value throughout the relay.
func (p Pubkey) IsZero() bool {
	return p == Pubkey{}
}

// SetBytes sets the key to the value of b. If b is longer than
// PubkeyLength the right most bytes win.
func (p *Pubkey) SetBytes(b []byte) {
	if len(b) > len(p) {
		b = b[len(b)-PubkeyLength:]
	}
	copy(p[PubkeyLength-len(b):], b)
}

func (p Pubkey) MarshalText() ([]byte, error) {
	return []byte(p.Base58()), nil
}

func (p *Pubkey) UnmarshalText(input []byte) error {
	dec, err := Base58ToPubkey(string(input))
	if err != nil {
		return err
	}
	*p = dec
	return nil
}

func (p *Pubkey) UnmarshalJSON(input []byte) error {
	if !bytes.HasPrefix(input, []byte(`"`)) || !bytes.HasSuffix(input, []byte(`"`)) {
		return fmt.Errorf("pubkey must be a base58 string")
	}
	return p.UnmarshalText(input[1 : len(input)-1])
}

// Signature represents a 64 byte ed25519 transaction signature. The
// base58 form doubles as the chain wide transaction identifier.
type Signature [SignatureLength]byte

func BytesToSignature(b []byte) Signature {
	var s Signature
	if len(b) > len(s) {
		b = b[len(b)-SignatureLength:]
	}
	copy(s[SignatureLength-len(b):], b)
	return s
}

func Base58ToSignature(str string) (Signature, error) {
	raw, err := base58.Decode(str)
	if err != nil {
		return Signature{}, fmt.Errorf("invalid base58 signature: %w", err)
	}
	if len(raw) != SignatureLength {
		return Signature{}, fmt.Errorf("invalid signature length %d, want %d", len(raw), SignatureLength)
	}
	return BytesToSignature(raw), nil
}

func (s Signature) Bytes() []byte  { return s[:] }
func (s Signature) Base58() string { return base58.Encode(s[:]) }
func (s Signature) String() string { return s.Base58() }

func (s Signature) IsZero() bool {
	return s == Signature{}
}

func (s Signature) MarshalText() ([]byte, error) {
	return []byte(s.Base58()), nil
}

func (s *Signature) UnmarshalText(input []byte) error {
	dec, err := Base58ToSignature(string(input))
	if err != nil {
		return err
	}
	*s = dec
	return nil
}
