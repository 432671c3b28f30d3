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
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/pyrelay/pyrelay/common"
)

// AccountMeta describes one account an instruction touches.
type AccountMeta struct {
	Pubkey     common.Pubkey
	IsSigner   bool
	IsWritable bool
}

// Instruction is the uncompiled form used by builders; NewTransaction
// compiles it against the assembled account list.
type Instruction struct {
	ProgramID common.Pubkey
	Accounts  []AccountMeta
	Data      []byte
}

// Well-known program addresses.
var (
	SystemProgramID = common.Pubkey{} // all zeros

	// TokenProgramID is the SPL token program.
	TokenProgramID = common.MustBase58ToPubkey("TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA")
)

// SPL token and system program opcodes used by the burner.
const (
	tokenInstructionBurn  = 8
	systemInstructionXfer = 2
)

// NewTransaction compiles instructions into an unsigned transaction
// with feePayer first in the account list.
func NewTransaction(feePayer common.Pubkey, blockhash Hash, instrs ...Instruction) (*Transaction, error) {
	type slot struct {
		signer   bool
		writable bool
	}
	order := []common.Pubkey{feePayer}
	slots := map[common.Pubkey]*slot{feePayer: {signer: true, writable: true}}
	upsert := func(key common.Pubkey, signer, writable bool) {
		s, ok := slots[key]
		if !ok {
			s = &slot{}
			slots[key] = s
			order = append(order, key)
		}
		s.signer = s.signer || signer
		s.writable = s.writable || writable
	}
	for _, in := range instrs {
		for _, m := range in.Accounts {
			upsert(m.Pubkey, m.IsSigner, m.IsWritable)
		}
		upsert(in.ProgramID, false, false)
	}

	// Account order: writable signers, readonly signers, writable
	// non-signers, readonly non-signers. The fee payer stays first by
	// being the first writable signer appended.
	var keys []common.Pubkey
	var header MessageHeader
	for pass := 0; pass < 4; pass++ {
		for _, key := range order {
			s := slots[key]
			match := false
			switch pass {
			case 0:
				match = s.signer && s.writable
			case 1:
				match = s.signer && !s.writable
			case 2:
				match = !s.signer && s.writable
			case 3:
				match = !s.signer && !s.writable
			}
			if !match {
				continue
			}
			keys = append(keys, key)
			if s.signer {
				header.NumRequiredSignatures++
				if !s.writable {
					header.NumReadonlySigned++
				}
			} else if !s.writable {
				header.NumReadonlyUnsigned++
			}
		}
	}
	if len(keys) > 256 {
		return nil, fmt.Errorf("chain: %d accounts exceed message capacity", len(keys))
	}

	index := make(map[common.Pubkey]uint8, len(keys))
	for i, key := range keys {
		index[key] = uint8(i)
	}
	msg := Message{Header: header, AccountKeys: keys, RecentBlockhash: blockhash}
	for _, in := range instrs {
		ci := CompiledInstruction{
			ProgramIDIndex: index[in.ProgramID],
			Data:           in.Data,
		}
		for _, m := range in.Accounts {
			ci.Accounts = append(ci.Accounts, index[m.Pubkey])
		}
		msg.Instructions = append(msg.Instructions, ci)
	}
	return &Transaction{
		Signatures: make([]common.Signature, header.NumRequiredSignatures),
		Message:    msg,
	}, nil
}

// BurnInstruction builds an SPL token burn of amount base units from
// tokenAccount, reducing the mint's supply.
func BurnInstruction(tokenAccount, mint, owner common.Pubkey, amount uint64) Instruction {
	data := make([]byte, 9)
	data[0] = tokenInstructionBurn
	binary.LittleEndian.PutUint64(data[1:], amount)
	return Instruction{
		ProgramID: TokenProgramID,
		Accounts: []AccountMeta{
			{Pubkey: tokenAccount, IsWritable: true},
			{Pubkey: mint, IsWritable: true},
			{Pubkey: owner, IsSigner: true},
		},
		Data: data,
	}
}

// DeriveTokenAccount returns the deterministic token account address
// for an owner and mint, hashed from both keys and the token program.
// The same inputs always yield the same address, which is all the
// treasury registry needs.
func DeriveTokenAccount(owner, mint common.Pubkey) common.Pubkey {
	h := sha256.New()
	h.Write(owner[:])
	h.Write(TokenProgramID[:])
	h.Write(mint[:])
	return common.BytesToPubkey(h.Sum(nil))
}

// TransferInstruction builds a native-coin system transfer.
func TransferInstruction(from, to common.Pubkey, lamports uint64) Instruction {
	data := make([]byte, 12)
	binary.LittleEndian.PutUint32(data[0:], systemInstructionXfer)
	binary.LittleEndian.PutUint64(data[4:], lamports)
	return Instruction{
		ProgramID: SystemProgramID,
		Accounts: []AccountMeta{
			{Pubkey: from, IsSigner: true, IsWritable: true},
			{Pubkey: to, IsWritable: true},
		},
		Data: data,
	}
}
