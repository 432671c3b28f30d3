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

package config

import (
	"bytes"
	"crypto/ed25519"
	"os"
	"path/filepath"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/require"

	"github.com/pyrelay/pyrelay/params"
)

func testKey(seed byte) string {
	priv := ed25519.NewKeyFromSeed(bytes.Repeat([]byte{seed}, ed25519.SeedSize))
	return base58.Encode(priv)
}

func testMint(b byte) string {
	return base58.Encode(bytes.Repeat([]byte{b}, 32))
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, EnvDevelopment, cfg.Env)
	require.Equal(t, 8080, cfg.Port)
	require.Equal(t, uint64(params.DefaultBaseFeeLamports), cfg.BaseFeeLamports)
	require.InDelta(t, params.TreasuryRatio, cfg.TreasuryRatio, 1e-12)
	require.InDelta(t, params.BurnRatio, cfg.BurnRatio, 1e-12)
	require.Equal(t, params.DefaultQuoteTTLSeconds, cfg.QuoteTTLSeconds)
}

func TestEnvOverridesFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "pyrelay.toml")
	require.NoError(t, os.WriteFile(file, []byte("port = 9000\nfee_markup = 1.5\n"), 0o600))
	t.Setenv("PORT", "9100")

	cfg, err := Load(file)
	require.NoError(t, err)
	require.Equal(t, 9100, cfg.Port, "environment wins over the file")
	require.Equal(t, 1.5, cfg.FeeMarkup, "file wins over the default")
}

func TestProductionRequiresStores(t *testing.T) {
	t.Setenv("ENV", "production")

	_, err := Load("")
	require.Error(t, err)
	require.ErrorContains(t, err, "REDIS_URL")
	require.ErrorContains(t, err, "DATABASE_URL")
	require.ErrorContains(t, err, "ALLOWED_ORIGINS")
	require.ErrorContains(t, err, "FEE_PAYER_PRIVATE_KEY")
	require.ErrorContains(t, err, "ECOTOKEN_MINT")
}

func TestProductionAcceptsCompleteConfig(t *testing.T) {
	t.Setenv("ENV", "production")
	t.Setenv("REDIS_URL", "redis://localhost:6379")
	t.Setenv("DATABASE_URL", "postgres://relay@localhost/relay")
	t.Setenv("ALLOWED_ORIGINS", "https://app.example.com, https://www.example.com")
	t.Setenv("FEE_PAYER_PRIVATE_KEY", testKey(1))
	t.Setenv("FEE_PAYER_KEYS", testKey(1)+","+testKey(2))
	t.Setenv("ECOTOKEN_MINT", testMint(0x40))

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, []string{"https://app.example.com", "https://www.example.com"}, cfg.Origins())

	// The primary key is deduplicated out of the extended list.
	signers, err := cfg.Signers()
	require.NoError(t, err)
	require.Len(t, signers, 2)

	// No dedicated treasury key: the primary fee payer signs burns.
	treasury, err := cfg.TreasurySigner()
	require.NoError(t, err)
	require.Equal(t, signers[0].Pubkey(), treasury.Pubkey())
}

func TestPlaceholderMintFatalInProduction(t *testing.T) {
	t.Setenv("ENV", "staging")
	t.Setenv("REDIS_URL", "redis://localhost:6379")
	t.Setenv("DATABASE_URL", "postgres://relay@localhost/relay")
	t.Setenv("ALLOWED_ORIGINS", "https://app.example.com")
	t.Setenv("FEE_PAYER_PRIVATE_KEY", testKey(1))
	t.Setenv("ECOTOKEN_MINT", "PLACEHOLDER")

	_, err := Load("")
	require.Error(t, err)
	require.ErrorContains(t, err, "placeholder")
}

func TestMalformedSignerKeyRejected(t *testing.T) {
	t.Setenv("FEE_PAYER_PRIVATE_KEY", "not-base58-0OIl")

	_, err := Load("")
	require.Error(t, err)
	require.ErrorContains(t, err, "fee payer key")
}

func TestEndpointPriority(t *testing.T) {
	cfg := &Config{HeliusAPIKey: "hk", RPCURL: "https://rpc.example.com"}
	eps := cfg.Endpoints()
	require.Len(t, eps, 2)
	require.Equal(t, "helius", eps[0].Name)
	require.Equal(t, 0, eps[0].Priority)
	require.Equal(t, "custom", eps[1].Name)
	require.Equal(t, 1, eps[1].Priority)

	// Nothing configured falls back to the public endpoint.
	require.Equal(t, "public", (&Config{}).Endpoints()[0].Name)
}

func TestCoreConfigCarriesTreasuryAccount(t *testing.T) {
	t.Setenv("FEE_PAYER_PRIVATE_KEY", testKey(1))
	t.Setenv("TREASURY_PRIVATE_KEY", testKey(3))
	cfg, err := Load("")
	require.NoError(t, err)

	treasury, err := cfg.TreasurySigner()
	require.NoError(t, err)
	core := cfg.CoreConfig()
	require.False(t, core.TreasuryAccount.IsZero())
	require.Equal(t, treasury.Pubkey(), core.TreasuryAccount)

	// Without a dedicated key the primary fee payer is the destination.
	cfg.TreasuryPrivateKey = ""
	signers, err := cfg.Signers()
	require.NoError(t, err)
	require.Equal(t, signers[0].Pubkey(), cfg.CoreConfig().TreasuryAccount)
}

func TestEconomicRatiosPropagate(t *testing.T) {
	t.Setenv("BURN_RATIO", "0.7")
	t.Setenv("TREASURY_RATIO", "0.3")
	cfg, err := Load("")
	require.NoError(t, err)

	core := cfg.CoreConfig()
	require.Equal(t, 0.7, core.BurnRatio)
	require.Equal(t, 0.3, core.TreasuryRatio)
	require.Equal(t, 0.7, cfg.BurnerConfig().BurnRatio)
}

func TestCoreConfigCarriesMints(t *testing.T) {
	t.Setenv("ECOTOKEN_MINT", testMint(0x40))
	t.Setenv("NATIVE_MINT", testMint(0x41))
	cfg, err := Load("")
	require.NoError(t, err)

	core := cfg.CoreConfig()
	require.False(t, core.EcotokenMint.IsZero())
	require.False(t, core.NativeMint.IsZero())
	require.Equal(t, cfg.BaseFeeLamports, core.BaseFeeLamports)
}
