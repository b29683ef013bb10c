package backtest

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	apperrors "crypto-backtester/internal/errors"
	"crypto-backtester/internal/performance"
)

// OptimizationSetting is a grid of strategy parameters and the statistic
// used to rank the runs.
type OptimizationSetting struct {
	params map[string][]float64
	target string
}

// NewOptimizationSetting creates an empty grid.
func NewOptimizationSetting() *OptimizationSetting {
	return &OptimizationSetting{params: make(map[string][]float64)}
}

// AddParameter adds the values start, start+step, ... up to end inclusive.
// start == end adds a single fixed value.
func (s *OptimizationSetting) AddParameter(name string, start, end, step float64) error {
	if name == "" {
		return apperrors.NewConfigError("name", name, "parameter name must not be empty")
	}
	if start == end {
		s.params[name] = []float64{start}
		return nil
	}
	if start > end {
		return apperrors.NewConfigError(name, start, "start must be less than end")
	}
	if step <= 0 {
		return apperrors.NewConfigError(name, step, "step must be positive")
	}

	var values []float64
	tolerance := step * 1e-9
	for i := 0; ; i++ {
		v := start + float64(i)*step
		if v > end+tolerance {
			break
		}
		values = append(values, v)
	}
	s.params[name] = values
	return nil
}

// SetTarget selects the statistic runs are ranked by, e.g. "sharpe_ratio".
func (s *OptimizationSetting) SetTarget(name string) { s.target = name }

// Target returns the ranking statistic.
func (s *OptimizationSetting) Target() string { return s.target }

// Names returns the parameter names in ascending order.
func (s *OptimizationSetting) Names() []string {
	names := make([]string, 0, len(s.params))
	for name := range s.params {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GenerateSettings returns the cartesian product of every parameter's
// values. The first name in ascending order varies slowest.
func (s *OptimizationSetting) GenerateSettings() []map[string]float64 {
	names := s.Names()
	if len(names) == 0 {
		return nil
	}

	settings := []map[string]float64{{}}
	for _, name := range names {
		next := make([]map[string]float64, 0, len(settings)*len(s.params[name]))
		for _, base := range settings {
			for _, v := range s.params[name] {
				m := make(map[string]float64, len(base)+1)
				for k, bv := range base {
					m[k] = bv
				}
				m[name] = v
				next = append(next, m)
			}
		}
		settings = next
	}
	return settings
}

// StrategyFactory builds a strategy bound to engine from one grid point.
type StrategyFactory func(engine StrategyEngine, settings map[string]float64) (Strategy, error)

// OptimizationResult is the outcome of one grid point.
type OptimizationResult struct {
	Settings   map[string]float64
	Target     float64
	Statistics Statistics
	Err        error
}

// ProgressFunc is called after each optimisation run with the number of
// finished runs. Calls are serialised.
type ProgressFunc func(done, total int)

// SetOptimizationProgress installs a progress callback for RunOptimization.
func (pb *PortfolioBacktester) SetOptimizationProgress(fn ProgressFunc) {
	pb.progress = fn
}

// RunOptimization backtests every grid point against the loaded history on
// a pool of workers and returns the successful runs ranked by the target
// statistic, best first. Each run gets its own engines; only the history
// slices are shared, and nothing writes to them.
func (pb *PortfolioBacktester) RunOptimization(ctx context.Context, setting *OptimizationSetting, factory StrategyFactory, workers int) ([]OptimizationResult, error) {
	target := setting.Target()
	if _, ok := (Statistics{}).Value(target); !ok {
		return nil, apperrors.NewConfigError("target", target, "unknown optimisation target")
	}

	settings := setting.GenerateSettings()
	if len(settings) == 0 {
		return nil, apperrors.Wrap(apperrors.ErrInvalidParameter, "optimisation grid is empty")
	}

	pool := performance.NewWorkerPool(workers)
	pool.Start()
	defer pool.Stop()

	pb.logger.Info().
		Int("runs", len(settings)).
		Int("workers", pool.Workers()).
		Str("target", target).
		Msg("Optimisation started")

	results := make([]OptimizationResult, len(settings))
	var (
		wg         sync.WaitGroup
		progressMu sync.Mutex
		done       int
	)
	for i, s := range settings {
		i, s := i, s
		wg.Add(1)
		err := pool.SubmitContext(ctx, func() {
			defer wg.Done()
			results[i] = pb.runGridPoint(i, s, factory, target)
			if pb.progress != nil {
				progressMu.Lock()
				done++
				pb.progress(done, len(settings))
				progressMu.Unlock()
			}
		})
		if err != nil {
			wg.Done()
			wg.Wait()
			return nil, apperrors.Wrap(err, "submitting optimisation run")
		}
	}
	wg.Wait()

	poolStats := pool.Stats()
	mem := performance.MemoryStats()
	pb.logger.Debug().
		Uint64("tasks_done", poolStats.TasksDone).
		Uint64("heap_inuse", mem.HeapInuse).
		Int("goroutines", mem.Goroutines).
		Msg("Optimisation pool drained")

	ranked := make([]OptimizationResult, 0, len(results))
	for _, r := range results {
		if r.Err != nil {
			pb.logger.Warn().Err(r.Err).Interface("settings", r.Settings).Msg("Optimisation run failed")
			continue
		}
		ranked = append(ranked, r)
	}
	if len(ranked) == 0 {
		return nil, fmt.Errorf("all %d optimisation runs failed: %w", len(results), results[0].Err)
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Target > ranked[j].Target
	})

	pb.logger.Info().
		Interface("best", ranked[0].Settings).
		Float64(target, ranked[0].Target).
		Msg("Optimisation finished")
	return ranked, nil
}

func (pb *PortfolioBacktester) runGridPoint(index int, settings map[string]float64, factory StrategyFactory, target string) OptimizationResult {
	result := OptimizationResult{Settings: settings, Target: math.Inf(-1)}

	logger := pb.logger.With().Int("run", index).Logger()
	if logger.GetLevel() < zerolog.WarnLevel {
		logger = logger.Level(zerolog.WarnLevel)
	}

	run := NewPortfolioBacktester(logger)
	run.SetParameters(pb.params)
	strategy, err := factory(run, settings)
	if err != nil {
		result.Err = err
		return result
	}
	run.AddStrategy(strategy)
	run.historyBars = pb.historyBars
	run.historyTicks = pb.historyTicks

	if err := run.RunBacktesting(); err != nil {
		result.Err = err
		return result
	}
	rows := run.CalculateResult()
	stats, _ := ComputeStatistics(rows, pb.params.Capital, logger)

	result.Statistics = stats
	result.Target, _ = stats.Value(target)
	return result
}
