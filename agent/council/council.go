package council

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/BaSui01/agentcouncil/internal/metrics"
	"github.com/BaSui01/agentcouncil/internal/telemetry"
	"github.com/BaSui01/agentcouncil/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Insufficient-model policies.
const (
	PolicyFailOpen   = "fail_open"
	PolicyFailClosed = "fail_closed"
)

// Config Council 配置
type Config struct {
	// Models is the preferred candidate list, in preference order.
	Models      []string      `json:"models" yaml:"models" env:"MODELS"`
	MaxParallel int           `json:"max_parallel" yaml:"max_parallel" env:"MAX_PARALLEL"`
	MinVotes    int           `json:"min_votes" yaml:"min_votes" env:"MIN_VOTES"`
	Timeout     time.Duration `json:"timeout" yaml:"timeout" env:"TIMEOUT"`
	// CollectionGrace is added to Timeout before giving up on stragglers.
	CollectionGrace time.Duration `json:"collection_grace" yaml:"collection_grace" env:"COLLECTION_GRACE"`

	Strategy     string             `json:"strategy" yaml:"strategy" env:"STRATEGY"`
	Threshold    float64            `json:"threshold" yaml:"threshold" env:"THRESHOLD"`
	MinQuorum    int                `json:"min_quorum" yaml:"min_quorum" env:"MIN_QUORUM"`
	VetoModels   []string           `json:"veto_models" yaml:"veto_models" env:"VETO_MODELS"`
	ModelWeights map[string]float64 `json:"model_weights" yaml:"model_weights" env:"MODEL_WEIGHTS"`

	OnlyOnUncertainty    bool    `json:"only_on_uncertainty" yaml:"only_on_uncertainty" env:"ONLY_ON_UNCERTAINTY"`
	UncertaintyThreshold float64 `json:"uncertainty_threshold" yaml:"uncertainty_threshold" env:"UNCERTAINTY_THRESHOLD"`

	Temperature float64 `json:"temperature" yaml:"temperature" env:"TEMPERATURE"`
	MaxTokens   int     `json:"max_tokens" yaml:"max_tokens" env:"MAX_TOKENS"`

	// InsufficientPolicy decides the result when fewer than MinVotes models
	// are available: fail_open approves, fail_closed rejects.
	InsufficientPolicy string `json:"insufficient_policy" yaml:"insufficient_policy" env:"INSUFFICIENT_POLICY"`
	// OversizedMarkers excludes registry models whose name contains any marker.
	OversizedMarkers []string `json:"oversized_markers" yaml:"oversized_markers" env:"OVERSIZED_MARKERS"`
	// RoundsPerMinute limits how often rounds may start; 0 disables the limit.
	RoundsPerMinute float64 `json:"rounds_per_minute" yaml:"rounds_per_minute" env:"ROUNDS_PER_MINUTE"`
}

// DefaultConfig returns the default council configuration.
func DefaultConfig() Config {
	return Config{
		MaxParallel:          5,
		MinVotes:             2,
		Timeout:              60 * time.Second,
		CollectionGrace:      2 * time.Second,
		Strategy:             StrategyMajority,
		Threshold:            0.5,
		MinQuorum:            3,
		OnlyOnUncertainty:    true,
		UncertaintyThreshold: 0.7,
		Temperature:          0.3,
		MaxTokens:            1024,
		InsufficientPolicy:   PolicyFailOpen,
		OversizedMarkers:     []string{"70b", "72b", "65b", "405b"},
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.MaxParallel < 1 {
		return types.Errorf(types.ErrInvalidConfig, "council max_parallel must be >= 1, got %d", c.MaxParallel)
	}
	if c.MinVotes < 0 {
		return types.Errorf(types.ErrInvalidConfig, "council min_votes must be >= 0, got %d", c.MinVotes)
	}
	if c.Timeout <= 0 {
		return types.Errorf(types.ErrInvalidConfig, "council timeout must be positive")
	}
	if c.Threshold < 0 || c.Threshold > 1 {
		return types.Errorf(types.ErrInvalidConfig, "council threshold must be in [0,1], got %v", c.Threshold)
	}
	if c.UncertaintyThreshold < 0 || c.UncertaintyThreshold > 1 {
		return types.Errorf(types.ErrInvalidConfig, "council uncertainty_threshold must be in [0,1], got %v", c.UncertaintyThreshold)
	}
	switch c.InsufficientPolicy {
	case PolicyFailOpen, PolicyFailClosed, "":
	default:
		return types.Errorf(types.ErrInvalidConfig, "unknown insufficient_policy %q", c.InsufficientPolicy)
	}
	switch strings.ToLower(c.Strategy) {
	case StrategyQuorum:
		if c.MinQuorum < 1 {
			return types.Errorf(types.ErrInvalidConfig, "quorum strategy needs min_quorum >= 1")
		}
	case StrategyVeto:
		if len(c.VetoModels) == 0 {
			return types.Errorf(types.ErrInvalidConfig, "veto strategy needs at least one veto model")
		}
	}
	for model, w := range c.ModelWeights {
		if w < 0 {
			return types.Errorf(types.ErrInvalidConfig, "model weight for %s must be >= 0", model)
		}
	}
	_, err := NewStrategy(c.Strategy, c.strategyConfig())
	return err
}

func (c Config) strategyConfig() StrategyConfig {
	return StrategyConfig{
		Threshold:    c.Threshold,
		MinQuorum:    c.MinQuorum,
		VetoModels:   c.VetoModels,
		ModelWeights: c.ModelWeights,
	}
}

// =============================================================================
// Council
// =============================================================================

// Council polls several models in parallel and reduces their votes with a
// Strategy.
type Council struct {
	config    Config
	generator Generator
	registry  ModelRegistry
	strategy  Strategy
	parser    VoteParser
	limiter   *rate.Limiter

	metrics *metrics.Collector
	logger  *zap.Logger
}

// Option configures a Council.
type Option func(*Council)

// WithParser replaces the default HeuristicParser.
func WithParser(p VoteParser) Option {
	return func(c *Council) { c.parser = p }
}

// WithStrategy replaces the strategy built from Config.Strategy.
func WithStrategy(s Strategy) Option {
	return func(c *Council) { c.strategy = s }
}

// WithMetrics records rounds and model calls on the collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(c *Council) { c.metrics = m }
}

// New validates the config and builds a Council.
func New(config Config, generator Generator, registry ModelRegistry, logger *zap.Logger, opts ...Option) (*Council, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if generator == nil {
		return nil, types.NewError(types.ErrInvalidConfig, "council generator is required")
	}
	if registry == nil {
		return nil, types.NewError(types.ErrInvalidConfig, "council model registry is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.CollectionGrace < 0 {
		config.CollectionGrace = 0
	}
	if config.InsufficientPolicy == "" {
		config.InsufficientPolicy = PolicyFailOpen
	}

	strategy, err := NewStrategy(config.Strategy, config.strategyConfig())
	if err != nil {
		return nil, err
	}

	c := &Council{
		config:    config,
		generator: generator,
		registry:  registry,
		strategy:  strategy,
		parser:    HeuristicParser{},
		logger:    logger.With(zap.String("component", "council")),
	}
	if config.RoundsPerMinute > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(config.RoundsPerMinute/60), 1)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// StrategyName returns the active strategy label.
func (c *Council) StrategyName() string {
	return c.strategy.Name()
}

// ShouldActivate reports whether a round is worth running for a caller that
// is confidence sure of its own answer.
func (c *Council) ShouldActivate(confidence float64) bool {
	if !c.config.OnlyOnUncertainty {
		return true
	}
	return confidence < c.config.UncertaintyThreshold
}

// AvailableModels lists installed models minus oversized ones. A registry
// failure yields an empty list.
func (c *Council) AvailableModels(ctx context.Context) []string {
	models, err := c.registry.ListModels(ctx)
	if err != nil {
		c.logger.Warn("model registry unavailable", zap.Error(err))
		return nil
	}

	out := make([]string, 0, len(models))
	for _, m := range models {
		if c.oversized(m) {
			continue
		}
		out = append(out, m)
	}
	return out
}

func (c *Council) oversized(model string) bool {
	lower := strings.ToLower(model)
	for _, marker := range c.config.OversizedMarkers {
		if marker != "" && strings.Contains(lower, strings.ToLower(marker)) {
			return true
		}
	}
	return false
}

// selectModels takes configured candidates that are available, capped at
// MaxParallel, then backfills from the rest of available up to MinVotes.
func (c *Council) selectModels(available []string) []string {
	avail := make(map[string]bool, len(available))
	for _, m := range available {
		avail[m] = true
	}

	chosen := make([]string, 0, c.config.MaxParallel)
	taken := make(map[string]bool)
	for _, m := range c.config.Models {
		if len(chosen) >= c.config.MaxParallel {
			break
		}
		if avail[m] && !taken[m] {
			chosen = append(chosen, m)
			taken[m] = true
		}
	}

	target := c.config.MinVotes
	if len(c.config.Models) == 0 {
		target = c.config.MaxParallel
	}
	for _, m := range available {
		if len(chosen) >= target || len(chosen) >= c.config.MaxParallel {
			break
		}
		if !taken[m] {
			chosen = append(chosen, m)
			taken[m] = true
		}
	}
	return chosen
}

// Vote runs one council round. It always returns a result: missing models,
// failed calls, timeouts and rate limiting all become explicit results.
func (c *Council) Vote(ctx context.Context, prompt string, taskType TaskType, promptContext map[string]string) *ConsensusResult {
	start := time.Now()
	ctx, span := telemetry.StartSpan(ctx, "council.vote",
		telemetry.AttrStrategy.String(c.strategy.Name()),
		telemetry.AttrTaskType.String(string(taskType)),
	)
	defer span.End()

	result := c.round(ctx, prompt, taskType, promptContext)

	span.SetAttributes(
		telemetry.AttrApproved.Bool(result.Approved),
		telemetry.AttrVotes.Int(len(result.Votes)),
	)
	c.metrics.RecordCouncilRound(result.Strategy, result.Approved, len(result.Votes), time.Since(start))
	c.logger.Info("council round finished",
		zap.String("strategy", result.Strategy),
		zap.Bool("approved", result.Approved),
		zap.Int("votes", len(result.Votes)),
		zap.Float64("confidence", result.Confidence),
		zap.Duration("duration", time.Since(start)),
	)
	return result
}

func (c *Council) round(ctx context.Context, prompt string, taskType TaskType, promptContext map[string]string) *ConsensusResult {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			c.logger.Warn("council round not started", zap.Error(err))
			r := noVotes(c.strategy.Name())
			r.Summary = "rate limited: " + err.Error()
			return r
		}
	}

	available := c.AvailableModels(ctx)
	models := c.selectModels(available)
	if len(models) < c.config.MinVotes || len(models) == 0 {
		return c.insufficient(len(models))
	}

	req := GenerateRequest{
		Prompt:      UserPrompt(prompt, promptContext),
		System:      SystemPrompt(taskType),
		Temperature: c.config.Temperature,
		MaxTokens:   c.config.MaxTokens,
	}
	votes := c.collectVotes(ctx, models, req)

	if len(votes) == 0 {
		return noVotes(c.strategy.Name())
	}
	return c.strategy.Aggregate(votes)
}

func (c *Council) insufficient(available int) *ConsensusResult {
	summary := fmt.Sprintf("insufficient models: %d available, %d required", available, c.config.MinVotes)
	c.logger.Warn("council degraded", zap.Int("available", available), zap.Int("min_votes", c.config.MinVotes),
		zap.String("policy", c.config.InsufficientPolicy))

	if c.config.InsufficientPolicy == PolicyFailClosed {
		return &ConsensusResult{
			Approved:   false,
			VoteCount:  map[string]int{string(VoteApprove): 0},
			Confidence: 0,
			Votes:      []Vote{},
			Strategy:   c.strategy.Name(),
			Summary:    summary + " (fail-closed)",
		}
	}
	return &ConsensusResult{
		Approved:   true,
		VoteCount:  map[string]int{string(VoteApprove): 0},
		Confidence: 0,
		Votes:      []Vote{},
		Strategy:   c.strategy.Name(),
		Summary:    summary + " (fail-open)",
	}
}

// collectVotes calls every model concurrently, bounded by MaxParallel, and
// returns whatever answered before Timeout+CollectionGrace, in model order.
func (c *Council) collectVotes(ctx context.Context, models []string, base GenerateRequest) []Vote {
	roundCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	type answer struct {
		idx  int
		vote Vote
	}
	answers := make(chan answer, len(models))
	done := make(chan struct{})

	go func() {
		defer close(done)
		var g errgroup.Group
		g.SetLimit(c.config.MaxParallel)
		for i, model := range models {
			g.Go(func() error {
				if v, ok := c.ask(roundCtx, model, base); ok {
					answers <- answer{idx: i, vote: v}
				}
				return nil
			})
		}
		_ = g.Wait()
	}()

	select {
	case <-done:
	case <-time.After(c.config.Timeout + c.config.CollectionGrace):
		c.logger.Warn("council collection deadline passed, using partial votes")
	case <-ctx.Done():
	}

	slots := make([]*Vote, len(models))
	for {
		select {
		case a := <-answers:
			v := a.vote
			slots[a.idx] = &v
			continue
		default:
		}
		break
	}

	votes := make([]Vote, 0, len(models))
	for _, v := range slots {
		if v != nil {
			votes = append(votes, *v)
		}
	}
	return votes
}

func (c *Council) ask(ctx context.Context, model string, base GenerateRequest) (Vote, bool) {
	req := base
	req.Model = model

	start := time.Now()
	raw, err := c.generator.Generate(ctx, req)
	elapsed := time.Since(start)

	if err != nil {
		status := "error"
		if ctx.Err() != nil {
			status = "timeout"
		}
		c.metrics.RecordModelCall(model, status, elapsed)
		c.logger.Warn("council member dropped", zap.String("model", model), zap.String("status", status), zap.Error(err))
		return Vote{}, false
	}
	// 回复到达时已超时的票同样丢弃
	if ctx.Err() != nil {
		c.metrics.RecordModelCall(model, "timeout", elapsed)
		c.logger.Warn("council member answered after deadline", zap.String("model", model))
		return Vote{}, false
	}

	c.metrics.RecordModelCall(model, "ok", elapsed)
	v := c.parser.Parse(model, raw)
	v.Model = model
	v.ResponseTime = elapsed
	return v, true
}

// =============================================================================
// Convenience wrappers
// =============================================================================

// ReviewCode runs a review round over code.
func (c *Council) ReviewCode(ctx context.Context, code, language string, promptContext map[string]string) *ConsensusResult {
	return c.Vote(ctx, reviewPrompt(code, language), TaskReview, promptContext)
}

// CheckSecurity runs a security round over code.
func (c *Council) CheckSecurity(ctx context.Context, code string, promptContext map[string]string) *ConsensusResult {
	return c.Vote(ctx, securityPrompt(code), TaskSecurity, promptContext)
}

// VerifyOutput asks whether output accomplishes task.
func (c *Council) VerifyOutput(ctx context.Context, task, output string, promptContext map[string]string) *ConsensusResult {
	return c.Vote(ctx, verifyPrompt(task, output), TaskQuality, promptContext)
}
