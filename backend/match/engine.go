package match

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"gitea.kood.tech/petrkubec/loveai/backend/ai"
	"go.uber.org/zap"
)

const (
	fallbackBioScore = 60
	fallbackSafety   = 95
	unsafeBelow      = 50

	defaultMaxLogLength = 200
)

// Generator is the language model the engine delegates to.
type Generator interface {
	Generate(ctx context.Context, system, prompt string) (ai.Completion, error)
}

// CallRecord describes a single model call for auditing and cost tracking.
type CallRecord struct {
	UserID    int
	Operation string
	Model     string
	Usage     ai.Usage
	CostUSD   float64
	Latency   time.Duration
	Err       error
}

// Recorder persists CallRecords. Implementations must not block for long.
type Recorder interface {
	RecordCall(ctx context.Context, rec CallRecord)
}

// Option configures an Engine.
type Option func(*Engine)

func WithGenerator(g Generator) Option { return func(e *Engine) { e.generator = g } }
func WithCache(c Cache) Option         { return func(e *Engine) { e.cache = c } }
func WithRecorder(r Recorder) Option   { return func(e *Engine) { e.recorder = r } }
func WithJitter(j Jitter) Option       { return func(e *Engine) { e.jitter = j } }
func WithLogger(l *zap.Logger) Option  { return func(e *Engine) { e.logger = l } }

// Engine produces compatibility verdicts, ice breakers, bio ideas and
// moderation scores. None of its methods fail: every LLM problem degrades
// to a local answer.
type Engine struct {
	generator Generator
	cache     Cache
	recorder  Recorder
	jitter    Jitter
	logger    *zap.Logger
}

func NewEngine(opts ...Option) *Engine {
	e := &Engine{jitter: RandomJitter, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(e)
	}
	if e.jitter == nil {
		e.jitter = NoJitter
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	return e
}

// LLMEnabled reports whether a generator is wired in.
func (e *Engine) LLMEnabled() bool { return e.generator != nil }

// Compatibility scores a against b. Results are cached per profile version.
func (e *Engine) Compatibility(ctx context.Context, a, b Profile) Result {
	key := CacheKey(a, b)
	if e.cache != nil {
		cached, ok, err := e.cache.Get(ctx, key)
		switch {
		case err != nil:
			e.logger.Warn("compatibility cache read failed", zap.String("key", key), zap.Error(err))
		case ok:
			compatibilityTotal.WithLabelValues(string(SourceCache)).Inc()
			cached.Source = SourceCache
			return cached
		}
	}

	res, err := e.llmCompatibility(ctx, a, b)
	// A heuristic that stands in for a failed call is not cached, so the
	// pair is retried once the model recovers.
	cacheable := err == nil || errors.Is(err, ai.ErrNotConfigured)
	if err != nil {
		if !errors.Is(err, ai.ErrNotConfigured) {
			e.logger.Warn("llm compatibility failed, using heuristic",
				zap.Int("user_id", a.UserID),
				zap.Int("target_user_id", b.UserID),
				zap.Error(err),
			)
			fallbackTotal.WithLabelValues("compatibility").Inc()
		}
		res = Heuristic(a, b, e.jitter)
	}
	compatibilityTotal.WithLabelValues(string(res.Source)).Inc()

	if e.cache != nil && cacheable {
		if err := e.cache.Set(ctx, key, res); err != nil {
			e.logger.Warn("compatibility cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return res
}

func (e *Engine) llmCompatibility(ctx context.Context, a, b Profile) (Result, error) {
	raw, err := e.call(ctx, a.UserID, "compatibility", compatibilitySystem, BuildCompatibilityPrompt(a, b))
	if err != nil {
		return Result{}, err
	}
	res, err := ParseCompatibility(raw)
	if err != nil {
		return Result{}, err
	}
	if len(res.IceBreakers) == 0 {
		res.IceBreakers = FallbackIceBreakers(a, b)
	}
	return res, nil
}

// IceBreakers suggests openers for a to send to b.
func (e *Engine) IceBreakers(ctx context.Context, a, b Profile) []string {
	raw, err := e.call(ctx, a.UserID, "ice_breaker_generation", iceBreakerSystem, buildIceBreakerPrompt(a, b))
	if err == nil {
		var out []string
		if out, err = parseIceBreakers(raw); err == nil {
			return out
		}
	}
	if !errors.Is(err, ai.ErrNotConfigured) {
		e.logger.Warn("llm ice breakers failed, using templates", zap.Int("user_id", a.UserID), zap.Error(err))
		fallbackTotal.WithLabelValues("ice_breakers").Inc()
	}
	return FallbackIceBreakers(a, b)
}

// BioRequest describes the person a bio is written for.
type BioRequest struct {
	UserID     int      `json:"-"`
	Name       string   `json:"name"`
	Age        int      `json:"age"`
	Gender     string   `json:"gender"`
	Occupation string   `json:"occupation"`
	Interests  []string `json:"interests"`
	Traits     []string `json:"personality_traits"`
}

type BioSuggestions struct {
	Suggestions []string `json:"bio_suggestions"`
	Score       float64  `json:"bio_score"`
	Tips        []string `json:"tips"`
}

func (e *Engine) BioSuggestions(ctx context.Context, req BioRequest) BioSuggestions {
	raw, err := e.call(ctx, req.UserID, "bio_generation", bioSystem, buildBioPrompt(req))
	if err == nil {
		var out BioSuggestions
		if out, err = parseBioSuggestions(raw); err == nil {
			if len(out.Tips) == 0 {
				out.Tips = fallbackTips()
			}
			return out
		}
	}
	if !errors.Is(err, ai.ErrNotConfigured) {
		e.logger.Warn("llm bio suggestions failed, using templates", zap.Int("user_id", req.UserID), zap.Error(err))
		fallbackTotal.WithLabelValues("bio").Inc()
	}
	return FallbackBioSuggestions(req)
}

// FallbackBioSuggestions fills the bio templates from the request.
func FallbackBioSuggestions(req BioRequest) BioSuggestions {
	occupation := orDefault(req.Occupation, "Professional")
	first := func(def string) string {
		for _, it := range req.Interests {
			if it = orDefault(it, ""); it != "" {
				return it
			}
		}
		return def
	}
	gender := orDefault(req.Gender, "person")

	return BioSuggestions{
		Suggestions: []string{
			fmt.Sprintf("%s who loves %s. Always up for an adventure!", occupation, first("new experiences")),
			fmt.Sprintf("Passionate about %s and good conversations. Let's grab coffee!", first("life")),
			fmt.Sprintf("%s-year-old %s seeking meaningful connections. I enjoy %s.", ageText(req.Age), gender, first("exploring new things")),
		},
		Score: fallbackBioScore,
		Tips:  fallbackTips(),
	}
}

func fallbackTips() []string {
	return []string{
		"Add more specific details about your interests",
		"Include a conversation starter or question",
		"Show your personality and humor",
	}
}

// Moderate returns a safety score in [0, 100] and whether text may be shown
// without a flag. When moderation is unavailable text is treated as safe.
func (e *Engine) Moderate(ctx context.Context, userID int, text string) (float64, bool) {
	raw, err := e.call(ctx, userID, "moderation", moderationSystem, buildModerationPrompt(text))
	if err == nil {
		var (
			score float64
			safe  bool
		)
		if score, safe, err = parseModeration(raw); err == nil {
			return score, safe
		}
	}
	if !errors.Is(err, ai.ErrNotConfigured) {
		e.logger.Warn("llm moderation failed, assuming safe", zap.Int("user_id", userID), zap.Error(err))
		fallbackTotal.WithLabelValues("moderation").Inc()
	}
	return fallbackSafety, true
}

func (e *Engine) call(ctx context.Context, userID int, operation, system, prompt string) (string, error) {
	if e.generator == nil {
		return "", ai.ErrNotConfigured
	}

	e.logger.Debug("llm request",
		zap.String("operation", operation),
		zap.Int("user_id", userID),
		zap.Int("prompt_length", utf8.RuneCountInString(prompt)),
		zap.String("prompt_preview", truncateForLog(prompt, defaultMaxLogLength)),
	)

	started := time.Now()
	out, err := e.generator.Generate(ctx, system, prompt)
	llmDuration.WithLabelValues(operation).Observe(time.Since(started).Seconds())

	if e.recorder != nil {
		e.recorder.RecordCall(ctx, CallRecord{
			UserID:    userID,
			Operation: operation,
			Model:     out.Model,
			Usage:     out.Usage,
			CostUSD:   ai.CostUSD(out.Model, out.Usage),
			Latency:   time.Since(started),
			Err:       err,
		})
	}
	if err != nil {
		return "", err
	}

	e.logger.Debug("llm response",
		zap.String("operation", operation),
		zap.Int("response_length", utf8.RuneCountInString(out.Text)),
		zap.String("response_preview", truncateForLog(out.Text, defaultMaxLogLength)),
	)
	return out.Text, nil
}

func truncateForLog(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit]) + "..."
}
