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

// Package config loads and validates the daemon configuration. Values
// layer in increasing precedence: built-in defaults, an optional TOML
// file, then environment variables (a .env file is folded into the
// environment first, for development). Validation is fatal at boot;
// nothing is deferred to first use.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"

	"github.com/pyrelay/pyrelay/burner"
	"github.com/pyrelay/pyrelay/chain"
	"github.com/pyrelay/pyrelay/common"
	"github.com/pyrelay/pyrelay/core"
	"github.com/pyrelay/pyrelay/feepayer"
	"github.com/pyrelay/pyrelay/log"
	"github.com/pyrelay/pyrelay/params"
)

// Environment names accepted for ENV.
const (
	EnvDevelopment = "development"
	EnvStaging     = "staging"
	EnvProduction  = "production"
)

// placeholderMints are values that must not survive into production.
var placeholderMints = map[string]bool{
	"": true, "TODO": true, "PLACEHOLDER": true, "CHANGEME": true,
}

// Config is the full daemon configuration. TOML keys mirror the
// environment names in lower case.
type Config struct {
	Env  string `toml:"env" env:"ENV"`
	Port int    `toml:"port" env:"PORT"`

	AllowedOrigins string `toml:"allowed_origins" env:"ALLOWED_ORIGINS"`

	// RPC pool. Helius and Triton keys promote their endpoints to the
	// head of the priority list; RPCURL is the generic fallback.
	RPCURL       string `toml:"rpc_url" env:"RPC_URL"`
	HeliusAPIKey string `toml:"helius_api_key" env:"HELIUS_API_KEY"`
	TritonAPIKey string `toml:"triton_api_key" env:"TRITON_API_KEY"`

	RedisURL    string `toml:"redis_url" env:"REDIS_URL"`
	DatabaseURL string `toml:"database_url" env:"DATABASE_URL"`

	// Signer material, base-58 encoded 64-byte secrets. FeePayerKeys
	// extends the pool beyond the primary key, comma separated.
	FeePayerPrivateKey string `toml:"fee_payer_private_key" env:"FEE_PAYER_PRIVATE_KEY"`
	FeePayerKeys       string `toml:"fee_payer_keys" env:"FEE_PAYER_KEYS"`
	// TreasuryPrivateKey signs burns and refill swaps; empty means the
	// primary fee payer doubles as the treasury authority.
	TreasuryPrivateKey string `toml:"treasury_private_key" env:"TREASURY_PRIVATE_KEY"`

	EcotokenMint string `toml:"ecotoken_mint" env:"ECOTOKEN_MINT"`
	NativeMint   string `toml:"native_mint" env:"NATIVE_MINT"`

	// Economic knobs. Zero values take the φ-derived defaults from
	// params.
	BurnRatio          float64 `toml:"burn_ratio" env:"BURN_RATIO"`
	TreasuryRatio      float64 `toml:"treasury_ratio" env:"TREASURY_RATIO"`
	BaseFeeLamports    uint64  `toml:"base_fee_lamports" env:"BASE_FEE_LAMPORTS"`
	FeeMarkup          float64 `toml:"fee_markup" env:"FEE_MARKUP"`
	NetworkFeeLamports uint64  `toml:"network_fee_lamports" env:"NETWORK_FEE_LAMPORTS"`

	QuoteTTLSeconds int `toml:"quote_ttl_seconds" env:"QUOTE_TTL_SECONDS"`

	WalletQuoteLimit  int `toml:"wallet_quote_limit" env:"WALLET_QUOTE_LIMIT"`
	WalletSubmitLimit int `toml:"wallet_submit_limit" env:"WALLET_SUBMIT_LIMIT"`

	AdminAPIKey string `toml:"admin_api_key" env:"ADMIN_API_KEY"`

	// Collaborator credentials.
	JupiterURL     string `toml:"jupiter_url" env:"JUPITER_URL"`
	JupiterAPIKey  string `toml:"jupiter_api_key" env:"JUPITER_API_KEY"`
	JitoURL        string `toml:"jito_url" env:"JITO_URL"`
	JitoAPIKey     string `toml:"jito_api_key" env:"JITO_API_KEY"`
	VerifierURL    string `toml:"verifier_url" env:"VERIFIER_URL"`
	DiamondWallets string `toml:"diamond_wallets" env:"DIAMOND_WALLETS"`

	// Ignition pipeline.
	IgnitionEnabled     bool   `toml:"ignition_enabled" env:"IGNITION_ENABLED"`
	IgnitionDestination string `toml:"ignition_destination" env:"IGNITION_DESTINATION"`
	IgnitionAmount      uint64 `toml:"ignition_amount" env:"IGNITION_AMOUNT"`

	// Burn worker.
	DustFloorUSD      float64 `toml:"dust_floor_usd" env:"DUST_FLOOR_USD"`
	RunwayHours       float64 `toml:"runway_hours" env:"RUNWAY_HOURS"`
	MinBufferLamports uint64  `toml:"min_buffer_lamports" env:"MIN_BUFFER_LAMPORTS"`
	ExplorerURL       string  `toml:"explorer_url" env:"EXPLORER_URL"`

	// Per-IP limiter for the public surface.
	IPRatePerSecond float64 `toml:"ip_rate_per_second" env:"IP_RATE_PER_SECOND"`
	IPRateBurst     int     `toml:"ip_rate_burst" env:"IP_RATE_BURST"`

	LogLevel string `toml:"log_level" env:"LOG_LEVEL"`
	LogJSON  bool   `toml:"log_json" env:"LOG_JSON"`
	LogFile  string `toml:"log_file" env:"LOG_FILE"`
}

// Load layers defaults, the optional TOML file, and the environment,
// then validates. file may be empty.
func Load(file string) (*Config, error) {
	// Development convenience; absence is not an error.
	_ = godotenv.Load()

	cfg := new(Config)
	if file != "" {
		if _, err := toml.DecodeFile(file, cfg); err != nil {
			return nil, fmt.Errorf("config file %s: %w", file, err)
		}
	}
	// Environment wins over the file. Unset variables leave the file
	// values untouched.
	if err := envdecode.Decode(cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("environment: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Env == "" {
		c.Env = EnvDevelopment
	}
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.BaseFeeLamports == 0 {
		c.BaseFeeLamports = params.DefaultBaseFeeLamports
	}
	if c.NetworkFeeLamports == 0 {
		c.NetworkFeeLamports = params.DefaultNetworkFeeLamports
	}
	if c.FeeMarkup == 0 {
		c.FeeMarkup = params.DefaultFeeMarkup
	}
	if c.TreasuryRatio == 0 {
		c.TreasuryRatio = params.TreasuryRatio
	}
	if c.BurnRatio == 0 {
		c.BurnRatio = params.BurnRatio
	}
	if c.QuoteTTLSeconds == 0 {
		c.QuoteTTLSeconds = params.DefaultQuoteTTLSeconds
	}
	if c.WalletQuoteLimit == 0 {
		c.WalletQuoteLimit = params.DefaultWalletQuoteLimit
	}
	if c.WalletSubmitLimit == 0 {
		c.WalletSubmitLimit = params.DefaultWalletSubmitLimit
	}
	if c.IPRatePerSecond == 0 {
		c.IPRatePerSecond = 10
	}
	if c.IPRateBurst == 0 {
		c.IPRateBurst = 30
	}
	if c.JupiterURL == "" {
		c.JupiterURL = "https://quote-api.jup.ag"
	}
}

// Production reports whether the config runs under staging or
// production rules.
func (c *Config) Production() bool {
	return c.Env == EnvStaging || c.Env == EnvProduction
}

// Validate enforces the boot-time rules. The returned error lists every
// problem found, not just the first.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...interface{}) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	switch c.Env {
	case EnvDevelopment, EnvStaging, EnvProduction:
	default:
		add("ENV must be development, staging or production, got %q", c.Env)
	}
	if c.Port <= 0 || c.Port > 65535 {
		add("PORT %d out of range", c.Port)
	}
	if c.BurnRatio < 0 || c.BurnRatio > 1 {
		add("BURN_RATIO %v outside [0,1]", c.BurnRatio)
	}
	if c.TreasuryRatio <= 0 || c.TreasuryRatio > params.MaxDualBurnRatio {
		add("TREASURY_RATIO %v outside (0, %v]", c.TreasuryRatio, params.MaxDualBurnRatio)
	}
	if c.FeeMarkup < 1 {
		add("FEE_MARKUP %v below 1", c.FeeMarkup)
	}
	if c.QuoteTTLSeconds < 1 || c.QuoteTTLSeconds > params.MaxQuoteTTLSeconds {
		add("QUOTE_TTL_SECONDS %d outside [1, %d]", c.QuoteTTLSeconds, params.MaxQuoteTTLSeconds)
	}
	for _, key := range c.signerMaterial() {
		if _, err := chain.ParseSigner(key); err != nil {
			add("fee payer key: %v", err)
		}
	}
	if c.TreasuryPrivateKey != "" {
		if _, err := chain.ParseSigner(c.TreasuryPrivateKey); err != nil {
			add("treasury key: %v", err)
		}
	}
	if c.EcotokenMint != "" && !common.IsBase58Pubkey(c.EcotokenMint) {
		add("ECOTOKEN_MINT %q is not a base-58 public key", c.EcotokenMint)
	}
	if c.IgnitionEnabled && c.IgnitionDestination != "" && !common.IsBase58Pubkey(c.IgnitionDestination) {
		add("IGNITION_DESTINATION %q is not a base-58 public key", c.IgnitionDestination)
	}

	if c.Production() {
		if c.RedisURL == "" {
			add("REDIS_URL is required in %s", c.Env)
		}
		if c.DatabaseURL == "" {
			add("DATABASE_URL is required in %s", c.Env)
		}
		if strings.TrimSpace(c.AllowedOrigins) == "" {
			add("ALLOWED_ORIGINS must not be empty in %s", c.Env)
		}
		if len(c.signerMaterial()) == 0 {
			add("FEE_PAYER_PRIVATE_KEY or FEE_PAYER_KEYS is required in %s", c.Env)
		}
		if placeholderMints[strings.ToUpper(c.EcotokenMint)] || !common.IsBase58Pubkey(c.EcotokenMint) {
			add("ECOTOKEN_MINT %q is a placeholder; a real mint is required in %s", c.EcotokenMint, c.Env)
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return nil
}

func (c *Config) signerMaterial() []string {
	var keys []string
	if c.FeePayerPrivateKey != "" {
		keys = append(keys, c.FeePayerPrivateKey)
	}
	for _, k := range splitCSV(c.FeePayerKeys) {
		if k != c.FeePayerPrivateKey {
			keys = append(keys, k)
		}
	}
	return keys
}

// Signers parses the configured fee-payer keys, primary first.
func (c *Config) Signers() ([]*chain.Signer, error) {
	material := c.signerMaterial()
	signers := make([]*chain.Signer, 0, len(material))
	for _, key := range material {
		s, err := chain.ParseSigner(key)
		if err != nil {
			return nil, err
		}
		signers = append(signers, s)
	}
	return signers, nil
}

// TreasurySigner parses the treasury key, falling back to the primary
// fee payer.
func (c *Config) TreasurySigner() (*chain.Signer, error) {
	if c.TreasuryPrivateKey != "" {
		return chain.ParseSigner(c.TreasuryPrivateKey)
	}
	signers, err := c.Signers()
	if err != nil {
		return nil, err
	}
	if len(signers) == 0 {
		return nil, errors.New("no treasury key and no fee payer to fall back to")
	}
	return signers[0], nil
}

// Endpoints builds the RPC pool priority list: keyed providers first,
// then the generic URL, then the public default.
func (c *Config) Endpoints() []chain.EndpointConfig {
	var eps []chain.EndpointConfig
	if c.HeliusAPIKey != "" {
		eps = append(eps, chain.EndpointConfig{
			Name:     "helius",
			URL:      "https://mainnet.helius-rpc.com/?api-key=" + c.HeliusAPIKey,
			Priority: len(eps),
		})
	}
	if c.TritonAPIKey != "" {
		eps = append(eps, chain.EndpointConfig{
			Name:     "triton",
			URL:      "https://pyrelay.rpcpool.com/" + c.TritonAPIKey,
			Priority: len(eps),
		})
	}
	if c.RPCURL != "" {
		eps = append(eps, chain.EndpointConfig{Name: "custom", URL: c.RPCURL, Priority: len(eps)})
	}
	if len(eps) == 0 {
		eps = append(eps, chain.EndpointConfig{Name: "public", URL: "https://api.mainnet-beta.solana.com"})
	}
	return eps
}

// Origins returns the parsed ALLOWED_ORIGINS list.
func (c *Config) Origins() []string { return splitCSV(c.AllowedOrigins) }

// Diamond returns the parsed diamond-wallet set; malformed entries are
// dropped rather than fatal, they only widen a discount.
func (c *Config) Diamond() []common.Pubkey {
	var out []common.Pubkey
	for _, s := range splitCSV(c.DiamondWallets) {
		if pk, err := common.Base58ToPubkey(s); err == nil {
			out = append(out, pk)
		}
	}
	return out
}

// CoreConfig assembles the quote/submit service configuration.
// Validate must have passed before calling.
func (c *Config) CoreConfig() core.Config {
	cfg := core.Config{
		BaseFeeLamports:    c.BaseFeeLamports,
		NetworkFeeLamports: c.NetworkFeeLamports,
		FeeMarkup:          c.FeeMarkup,
		BurnRatio:          c.BurnRatio,
		TreasuryRatio:      c.TreasuryRatio,
		QuoteTTL:           time.Duration(c.QuoteTTLSeconds) * time.Second,
		IgnitionEnabled:    c.IgnitionEnabled,
		IgnitionAmount:     c.IgnitionAmount,
	}
	// Quotes carry the treasury destination; without it every offer
	// would return a zero treasury.
	if treasury, err := c.TreasurySigner(); err == nil {
		cfg.TreasuryAccount = treasury.Pubkey()
	}
	if common.IsBase58Pubkey(c.EcotokenMint) {
		cfg.EcotokenMint = common.MustBase58ToPubkey(c.EcotokenMint)
	}
	if common.IsBase58Pubkey(c.NativeMint) {
		cfg.NativeMint = common.MustBase58ToPubkey(c.NativeMint)
	}
	if common.IsBase58Pubkey(c.IgnitionDestination) {
		cfg.IgnitionDestination = common.MustBase58ToPubkey(c.IgnitionDestination)
	}
	return cfg
}

// BurnerConfig assembles the burn worker configuration.
func (c *Config) BurnerConfig() burner.Config {
	cfg := burner.Config{
		BurnRatio:         c.BurnRatio,
		DustFloorUSD:      c.DustFloorUSD,
		RunwayHours:       c.RunwayHours,
		MinBufferLamports: c.MinBufferLamports,
		ExplorerURL:       c.ExplorerURL,
	}
	if common.IsBase58Pubkey(c.EcotokenMint) {
		cfg.EcotokenMint = common.MustBase58ToPubkey(c.EcotokenMint)
	}
	if common.IsBase58Pubkey(c.NativeMint) {
		cfg.NativeMint = common.MustBase58ToPubkey(c.NativeMint)
	}
	return cfg
}

// FeePayerConfig assembles the fee-payer pool configuration from
// defaults; there are no dedicated knobs yet.
func (c *Config) FeePayerConfig() feepayer.Config {
	return feepayer.Config{}
}

// LogConfig assembles the root logger configuration.
func (c *Config) LogConfig() log.Config {
	lvl, _ := log.LvlFromString(c.LogLevel)
	return log.Config{Level: lvl, JSON: c.LogJSON, File: c.LogFile}
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
