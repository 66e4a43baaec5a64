package config

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// ProjectConfig describes the top-level configuration of a simulation run.
type ProjectConfig struct {
	// Fork describes the remote chain the simulation reads its state from.
	Fork ForkConfig `json:"fork"`

	// Logging describes the configuration used for logging.
	Logging LoggingConfig `json:"logging"`
}

// ForkConfig describes the remote endpoint and the pinned block height state reads are evaluated at.
type ForkConfig struct {
	// RpcUrl describes the endpoint of the node serving remote state.
	RpcUrl string `json:"rpcUrl"`

	// RpcBlock describes the block height every state read is pinned to. An explicit height is required; "latest"
	// would break determinism across runs.
	RpcBlock uint64 `json:"rpcBlock"`

	// PoolSize describes how many RPC clients to dial against the endpoint.
	PoolSize uint `json:"poolSize"`

	// RequestTimeoutSeconds bounds each RPC request attempt. Expiry surfaces as a transport failure.
	RequestTimeoutSeconds uint `json:"requestTimeout"`

	// CacheDirectory describes the directory holding the on-disk RPC result cache. If empty, results are cached in
	// memory only.
	CacheDirectory string `json:"cacheDirectory"`
}

// LoggingConfig describes the configuration options used for logging.
type LoggingConfig struct {
	// Level describes whether logs of certain severity levels (eg info, warning, etc.) will be emitted or discarded.
	// Increasing level values represent more severe logs.
	Level zerolog.Level `json:"level"`

	// EnableConsoleLogging describes whether console logging is enabled.
	EnableConsoleLogging bool `json:"enableConsoleLogging"`

	// LogDirectory describes the directory where structured log files will be outputted. If the string is empty,
	// then no log files are kept.
	LogDirectory string `json:"logDirectory"`
}

// ReadProjectConfigFromFile reads a JSON-serialized ProjectConfig from a provided file path.
// Returns the ProjectConfig if it succeeds, or an error if one occurs.
func ReadProjectConfigFromFile(path string) (*ProjectConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	// Unmarshal over the defaults so omitted keys keep their default values.
	projectConfig := GetDefaultProjectConfig()
	if err = json.Unmarshal(b, projectConfig); err != nil {
		return nil, errors.WithStack(err)
	}

	return projectConfig, nil
}

// WriteToFile writes the ProjectConfig to a provided file path in a JSON-serialized format.
// Returns an error if one occurs.
func (p *ProjectConfig) WriteToFile(path string) error {
	b, err := json.MarshalIndent(p, "", "\t")
	if err != nil {
		return errors.WithStack(err)
	}

	if err = os.WriteFile(path, b, 0644); err != nil {
		return errors.WithStack(err)
	}

	return nil
}

// Validate validates that the ProjectConfig meets certain requirements.
// Returns an error if one occurs.
func (p *ProjectConfig) Validate() error {
	if p.Fork.RpcUrl == "" {
		return errors.Errorf("a fork RPC endpoint must be provided")
	}

	// An explicit anchor is required so two runs against the same config observe identical state.
	if p.Fork.RpcBlock == 0 {
		return errors.Errorf("a non-zero fork block height must be provided")
	}

	if p.Fork.PoolSize == 0 {
		return errors.Errorf("the RPC client pool size must be a positive number")
	}

	if p.Fork.RequestTimeoutSeconds == 0 {
		return errors.Errorf("the RPC request timeout must be a positive number of seconds")
	}

	return nil
}
