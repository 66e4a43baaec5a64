package simulation

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/evmsim/evmsim/chain/config"
	"github.com/evmsim/evmsim/chain/state"
	"github.com/evmsim/evmsim/chain/state/cache"
	"github.com/evmsim/evmsim/logging"
)

/*
Simulation wires a forked state provider against the configured remote endpoint and drives the built-in
demonstration scenario through it. The provider serves any conformant execution engine; the scenario here stands in
for one, issuing the same kind of state reads and hypothetical writes an EVM interpreter would.
*/
type Simulation struct {
	// config describes the fork endpoint, anchored height and logging settings of this run.
	config *config.ProjectConfig

	// runID uniquely identifies this run in emitted traces and log files.
	runID uuid.UUID

	// provider serves all state reads of the run, pinned to the configured anchor.
	provider *state.ForkedStateProvider

	// ctx is cancelled when the run is terminated; it bounds every outstanding RPC request.
	ctx       context.Context
	ctxCancel context.CancelFunc

	logger *logging.Logger
}

// NewSimulation validates the provided configuration and constructs the cache, backend and provider for one run.
func NewSimulation(projectConfig *config.ProjectConfig) (*Simulation, error) {
	if err := projectConfig.Validate(); err != nil {
		return nil, err
	}

	runID := uuid.New()

	// Replace the global logger with one honoring the run's logging settings before any sub-loggers are derived.
	logging.GlobalLogger = logging.NewLogger(projectConfig.Logging.Level, projectConfig.Logging.EnableConsoleLogging)
	if projectConfig.Logging.LogDirectory != "" {
		if err := os.MkdirAll(projectConfig.Logging.LogDirectory, 0755); err != nil {
			return nil, errors.WithStack(err)
		}
		logFile, err := os.CreateTemp(projectConfig.Logging.LogDirectory, fmt.Sprintf("run-%s-*.log", runID))
		if err != nil {
			return nil, errors.WithStack(err)
		}
		logging.GlobalLogger.AddWriter(logFile)
	}

	ctx, ctxCancel := context.WithCancel(context.Background())

	stateCache, err := buildStateCache(ctx, projectConfig)
	if err != nil {
		ctxCancel()
		return nil, err
	}

	backend, err := state.NewRPCBackend(
		ctx,
		projectConfig.Fork.RpcUrl,
		projectConfig.Fork.PoolSize,
		time.Duration(projectConfig.Fork.RequestTimeoutSeconds)*time.Second,
	)
	if err != nil {
		ctxCancel()
		return nil, errors.WithMessage(err, "failed to connect to the fork RPC endpoint")
	}

	factory := state.NewProviderFactory(backend, stateCache, projectConfig.Fork.RpcBlock)

	return &Simulation{
		config:    projectConfig,
		runID:     runID,
		provider:  factory.New(),
		ctx:       ctx,
		ctxCancel: ctxCancel,
		logger:    logging.GlobalLogger.NewSubLogger("run", runID.String()),
	}, nil
}

// buildStateCache selects the on-disk cache when a cache directory is configured, and the in-memory cache
// otherwise. The cache file is scoped to the (endpoint, height) pair.
func buildStateCache(ctx context.Context, projectConfig *config.ProjectConfig) (cache.StateCache, error) {
	if projectConfig.Fork.CacheDirectory == "" {
		return cache.NewNonPersistentCache(), nil
	}
	cacheDir, err := filepath.Abs(projectConfig.Fork.CacheDirectory)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return cache.NewPersistentCache(ctx, cacheDir, projectConfig.Fork.RpcUrl, projectConfig.Fork.RpcBlock)
}

// Start runs the demonstration scenario to completion, or until the run is terminated. Any unrecovered state-read
// failure terminates the run with a descriptive error; partial traces are not persisted.
func (s *Simulation) Start() error {
	defer s.ctxCancel()

	s.logger.Info("starting simulation", logging.StructuredLogInfo{
		"endpoint": s.config.Fork.RpcUrl,
		"height":   s.config.Fork.RpcBlock,
	})

	if err := s.runScenario(); err != nil {
		s.logger.Error("simulation terminated", err)
		return err
	}

	s.logger.Info("simulation complete")
	return nil
}

// Terminate cancels the run. Outstanding RPC requests are abandoned and Start returns.
func (s *Simulation) Terminate() {
	s.logger.Info("terminating simulation")
	s.ctxCancel()
}
