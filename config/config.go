package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is loaded once at startup from config.yaml plus environment
// overrides (TS_ prefix). Token and network registries are validated
// eagerly so a missing credential fails at boot, not at first transfer.
type Config struct {
	Server struct {
		Port int `mapstructure:"port"`
	} `mapstructure:"server"`

	Database struct {
		DSN string `mapstructure:"dsn"`
	} `mapstructure:"database"`

	BinancePay struct {
		APIURL            string `mapstructure:"api_url"`
		APIKey            string `mapstructure:"api_key"`
		SecretKey         string `mapstructure:"secret_key"`
		WebhookSecret     string `mapstructure:"webhook_secret"`
		SkipWebhookVerify bool   `mapstructure:"skip_webhook_verify"`
	} `mapstructure:"binance_pay"`

	Oracle struct {
		GoldAPIKey          string        `mapstructure:"gold_api_key"`
		FallbackGoldPriceOz string        `mapstructure:"fallback_gold_price_oz"`
		FallbackBNBPrice    string        `mapstructure:"fallback_bnb_price"`
		CacheTTL            time.Duration `mapstructure:"cache_ttl"`
	} `mapstructure:"oracle"`

	Verification struct {
		Strict bool `mapstructure:"strict"`
	} `mapstructure:"verification"`

	Networks struct {
		DefaultID string            `mapstructure:"default_id"`
		RPC       map[string]string `mapstructure:"rpc"`
	} `mapstructure:"networks"`

	Transfer struct {
		GasPriceGwei   int64         `mapstructure:"gas_price_gwei"`
		NativeGasLimit uint64        `mapstructure:"native_gas_limit"`
		TokenGasLimit  uint64        `mapstructure:"token_gas_limit"`
		ReceiptTimeout time.Duration `mapstructure:"receipt_timeout"`
		PollInterval   time.Duration `mapstructure:"poll_interval"`
	} `mapstructure:"transfer"`

	Tokens map[string]TokenConfig `mapstructure:"tokens"`
}

// TokenConfig describes one sellable token. The signing credential is
// either a raw hex private key or a mnemonic plus BIP-44 address index.
type TokenConfig struct {
	Native          bool   `mapstructure:"native"`
	ContractAddress string `mapstructure:"contract_address"`
	NetworkID       string `mapstructure:"network_id"`
	PrivateKey      string `mapstructure:"private_key"`
	Mnemonic        string `mapstructure:"mnemonic"`
	AddressIndex    uint32 `mapstructure:"address_index"`
}

func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(path)
	v.SetEnvPrefix("TS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.port", 8080)
	v.SetDefault("binance_pay.api_url", "https://bpay.binanceapi.com")
	v.SetDefault("binance_pay.skip_webhook_verify", false)
	v.SetDefault("oracle.fallback_gold_price_oz", "2000.00")
	v.SetDefault("oracle.fallback_bnb_price", "400")
	v.SetDefault("oracle.cache_ttl", 5*time.Minute)
	v.SetDefault("verification.strict", true)
	v.SetDefault("networks.default_id", "56")
	v.SetDefault("transfer.gas_price_gwei", 2000)
	v.SetDefault("transfer.native_gas_limit", 21000)
	v.SetDefault("transfer.token_gas_limit", 210000)
	v.SetDefault("transfer.receipt_timeout", 2*time.Minute)
	v.SetDefault("transfer.poll_interval", 3*time.Second)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if len(c.Tokens) == 0 {
		return fmt.Errorf("at least one token must be configured")
	}
	for symbol, tc := range c.Tokens {
		if tc.PrivateKey == "" && tc.Mnemonic == "" {
			return fmt.Errorf("token %s: no signing credential configured", symbol)
		}
		if !tc.Native && tc.ContractAddress == "" {
			return fmt.Errorf("token %s: contract address required for non-native token", symbol)
		}
	}
	if _, ok := c.Networks.RPC[c.Networks.DefaultID]; !ok {
		return fmt.Errorf("networks.rpc missing entry for default network %s", c.Networks.DefaultID)
	}
	return nil
}
