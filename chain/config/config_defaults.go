package config

import (
	"github.com/rs/zerolog"
)

// DefaultRpcBlock is the mainnet height the default configuration pins to.
const DefaultRpcBlock = 19_500_000

// GetDefaultProjectConfig obtains a default configuration for a simulation run.
func GetDefaultProjectConfig() *ProjectConfig {
	return &ProjectConfig{
		Fork: ForkConfig{
			RpcUrl:                "https://rpc.ankr.com/eth",
			RpcBlock:              DefaultRpcBlock,
			PoolSize:              4,
			RequestTimeoutSeconds: 30,
			CacheDirectory:        "",
		},
		Logging: LoggingConfig{
			Level:                zerolog.InfoLevel,
			EnableConsoleLogging: true,
			LogDirectory:         "",
		},
	}
}
