package lib

import (
	"flag"
	"fmt"
	"os"

	"github.com/spf13/viper"
)

// Config is the process configuration for the tidalswap binary, adapted
// from the teacher's CLIConfig: same spf13/viper + stdlib flag layering
// (flags override env vars override config file override defaults), the
// P2P/mempool/Tendermint fields stripped since there is no block-producing
// or gossip layer in this system, and the AMM-specific fields added.
type Config struct {
	Quiet              bool   `mapstructure:"quiet" json:"quiet"`
	DataDir            string `mapstructure:"data_dir" json:"data_dir"`
	APIPort            int    `mapstructure:"api_port" json:"api_port"`
	APIKey             string `mapstructure:"api_key" json:"api_key"`
	ClaimsInterval     int    `mapstructure:"claims_interval_seconds" json:"claims_interval_seconds"`
	ClaimsMaxAttempts  int    `mapstructure:"claims_max_attempts" json:"claims_max_attempts"`
	QuoteTokenSymbol   string `mapstructure:"quote_token_symbol" json:"quote_token_symbol"`
	ReplicationEnabled bool   `mapstructure:"replication_enabled" json:"replication_enabled"`
	ReplicationDSN     string `mapstructure:"replication_dsn" json:"replication_dsn"`
}

// ParseConfig parses command line flags and a tidalswap.json configuration
// file, in that precedence order, exactly mirroring the teacher's
// ParseCLI.
func ParseConfig() (*Config, error) {
	config := &Config{}

	viper.SetConfigName("tidalswap")
	viper.SetConfigType("json")
	viper.AddConfigPath(".")

	viper.SetEnvPrefix("TIDALSWAP")
	viper.AutomaticEnv()

	viper.SetDefault("quiet", false)
	viper.SetDefault("data_dir", "./data")
	viper.SetDefault("api_port", 8080)
	viper.SetDefault("api_key", "")
	viper.SetDefault("claims_interval_seconds", 30)
	viper.SetDefault("claims_max_attempts", MaxClaimAttempts)
	viper.SetDefault("quote_token_symbol", "ckUSDC")
	viper.SetDefault("replication_enabled", false)
	viper.SetDefault("replication_dsn", "")

	quietFlag := flag.Bool("quiet", false, "Suppress verbose startup output")
	dataDirFlag := flag.String("data-dir", "", "Directory for stable store data, defaults to ./data")
	apiPortFlag := flag.Int("api-port", 8080, "HTTP API listen port")
	apiKeyFlag := flag.String("api-key", "", "Admin API key for the /admin endpoints (or set TIDALSWAP_API_KEY env var)")
	claimsIntervalFlag := flag.Int("claims-interval", 30, "Seconds between claims processor ticks")
	replicationDSNFlag := flag.String("replication-dsn", "", "Postgres DSN for the off-chain replication worker (enables replication when set)")

	flag.Parse()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	if *quietFlag {
		viper.Set("quiet", true)
	}
	if *dataDirFlag != "" {
		viper.Set("data_dir", *dataDirFlag)
	}
	if *apiPortFlag != 8080 {
		viper.Set("api_port", *apiPortFlag)
	}
	if *apiKeyFlag != "" {
		viper.Set("api_key", *apiKeyFlag)
	}
	if *claimsIntervalFlag != 30 {
		viper.Set("claims_interval_seconds", *claimsIntervalFlag)
	}
	if *replicationDSNFlag != "" {
		viper.Set("replication_dsn", *replicationDSNFlag)
		viper.Set("replication_enabled", true)
	}

	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return config, nil
}

// PrintUsage prints command line usage information, matching the
// teacher's own PrintUsage.
func PrintUsage() {
	fmt.Fprintf(os.Stderr, "Usage: %s [options]\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "\ntidalswap - automated market maker exchange backend\n")
	fmt.Fprintf(os.Stderr, "====================================================\n\n")
	fmt.Fprintf(os.Stderr, "Options:\n")
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, "\nConfiguration:\n")
	fmt.Fprintf(os.Stderr, "  Config file: tidalswap.json (read if present)\n")
	fmt.Fprintf(os.Stderr, "  Command line flags override config file and environment values\n")
}
