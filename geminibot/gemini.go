package geminibot

import (
	"context"
	"errors"
	"fmt"
	"golang.org/x/time/rate"
	"google.golang.org/genai"
	"log/slog"
	"net/http"
	"time"
)

var (
	// ErrEmptyResponse indicates the API returned successfully, but with
	// no usable text and no block reason.
	ErrEmptyResponse = errors.New("gemini returned an empty response")
)

// GeminiClient defines the subset of the genai client used by this
// application, to enable testing/mocking.
type GeminiClient interface {
	// GenerateContent sends the given contents to the named model and
	// returns the raw API response.
	GenerateContent(
		ctx context.Context,
		model string,
		contents []*genai.Content,
		config *genai.GenerateContentConfig,
	) (*genai.GenerateContentResponse, error)
}

// geminiAPIClient implements GeminiClient on a real genai.Client.
type geminiAPIClient struct {
	client *genai.Client
}

func (g geminiAPIClient) GenerateContent(
	ctx context.Context,
	model string,
	contents []*genai.Content,
	config *genai.GenerateContentConfig,
) (*genai.GenerateContentResponse, error) {
	return g.client.Models.GenerateContent(ctx, model, contents, config)
}

// Reply is the outcome of a generation request: either text, or a
// safety block with its reason. A block is a normal response variant,
// not an error.
type Reply struct {
	Text        string
	Blocked     bool
	BlockReason string
}

func (r Reply) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("text", truncate(r.Text, 100)),
		slog.Bool("blocked", r.Blocked),
		slog.String("block_reason", r.BlockReason),
	)
}

// Gemini manages Gemini API integration: it converts turn sequences to
// API contents, applies the appropriate generation profile and safety
// settings, rate-limits requests, and normalizes responses and blocks.
type Gemini struct {
	client         GeminiClient
	config         *GeminiConfig
	logger         *slog.Logger
	requestLimiter *rate.Limiter
	errorLog       *ErrorLog
}

func newGemini(
	ctx context.Context,
	config *GeminiConfig,
	handler slog.Handler,
	errorLog *ErrorLog,
	httpClient *http.Client,
) (*Gemini, error) {
	client, err := genai.NewClient(
		ctx,
		&genai.ClientConfig{
			APIKey:     config.APIKey,
			Backend:    genai.BackendGeminiAPI,
			HTTPClient: httpClient,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("error creating gemini client: %w", err)
	}

	rps := config.MaxRequestsPerSecond
	if rps <= 0 {
		rps = DefaultGeminiMaxRequestsPerSecond
	}

	return &Gemini{
		client: geminiAPIClient{client: client},
		config: config,
		logger: slog.New(handler).With(loggerNameKey, "gemini"),
		requestLimiter: rate.NewLimiter(
			rate.Limit(rps),
			rps,
		),
		errorLog: errorLog,
	}, nil
}

// geminiSettings converts the configured thresholds into the API's
// safety settings, one per harm category.
func (s SafetyConfig) geminiSettings() []*genai.SafetySetting {
	return []*genai.SafetySetting{
		{
			Category:  genai.HarmCategoryHarassment,
			Threshold: s.Harassment.threshold(),
		},
		{
			Category:  genai.HarmCategoryHateSpeech,
			Threshold: s.HateSpeech.threshold(),
		},
		{
			Category:  genai.HarmCategorySexuallyExplicit,
			Threshold: s.SexuallyExplicit.threshold(),
		},
		{
			Category:  genai.HarmCategoryDangerousContent,
			Threshold: s.DangerousContent.threshold(),
		},
	}
}

func (h HarmBlockLevel) threshold() genai.HarmBlockThreshold {
	switch h {
	case HarmBlockLow:
		return genai.HarmBlockThresholdBlockLowAndAbove
	case HarmBlockMedium:
		return genai.HarmBlockThresholdBlockMediumAndAbove
	case HarmBlockHigh:
		return genai.HarmBlockThresholdBlockOnlyHigh
	default:
		return genai.HarmBlockThresholdBlockNone
	}
}

// contentsFromTurns converts domain turns into genai contents,
// preserving part order.
func contentsFromTurns(turns []Turn) []*genai.Content {
	contents := make([]*genai.Content, 0, len(turns))
	for _, t := range turns {
		parts := make([]*genai.Part, 0, len(t.Parts))
		for _, p := range t.Parts {
			if p.IsMedia() {
				parts = append(parts, genai.NewPartFromBytes(p.Data, p.MIMEType))
			} else {
				parts = append(parts, genai.NewPartFromText(p.Text))
			}
		}
		contents = append(
			contents,
			&genai.Content{Role: string(t.Role), Parts: parts},
		)
	}
	return contents
}

// profileFor selects the generation profile based on whether the
// request carries inline media.
func (g *Gemini) profileFor(turns []Turn) GenerationProfile {
	for _, t := range turns {
		if t.HasMedia() {
			return g.config.Media
		}
	}
	return g.config.Text
}

// Generate sends the full turn sequence to the Gemini API and returns
// the model's reply. Safety blocks are returned as a Reply with Blocked
// set, never as an error. API failures are recorded to the error log
// before being returned.
func (g *Gemini) Generate(ctx context.Context, turns []Turn) (Reply, error) {
	profile := g.profileFor(turns)

	genConfig := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(profile.Temperature),
		TopP:            genai.Ptr(profile.TopP),
		TopK:            genai.Ptr(profile.TopK),
		MaxOutputTokens: profile.MaxOutputTokens,
		SafetySettings:  g.config.Safety.geminiSettings(),
	}

	if err := g.requestLimiter.Wait(ctx); err != nil {
		return Reply{}, fmt.Errorf("error waiting for rate limiter: %w", err)
	}

	started := time.Now()
	res, err := g.client.GenerateContent(
		ctx,
		profile.Model,
		contentsFromTurns(turns),
		genConfig,
	)
	if err != nil {
		g.recordFailure(turns, err, res)
		return Reply{}, fmt.Errorf("gemini generate content: %w", err)
	}

	g.logger.InfoContext(
		ctx,
		"generate content completed",
		"model", profile.Model,
		"turns", len(turns),
		"elapsed", time.Since(started),
	)

	if res.PromptFeedback != nil && res.PromptFeedback.BlockReason != "" {
		return Reply{
			Blocked:     true,
			BlockReason: string(res.PromptFeedback.BlockReason),
		}, nil
	}
	if len(res.Candidates) > 0 &&
		res.Candidates[0].FinishReason == genai.FinishReasonSafety {
		return Reply{
			Blocked:     true,
			BlockReason: string(genai.FinishReasonSafety),
		}, nil
	}

	text := res.Text()
	if text == "" {
		g.recordFailure(turns, ErrEmptyResponse, res)
		return Reply{}, ErrEmptyResponse
	}
	return Reply{Text: text}, nil
}

func (g *Gemini) recordFailure(
	turns []Turn,
	err error,
	res *genai.GenerateContentResponse,
) {
	entry := ErrorLogEntry{
		Err:     err.Error(),
		History: fmt.Sprintf("%d turns", len(turns)),
	}
	if len(turns) > 0 {
		entry.Message = turns[len(turns)-1].Text()
	}
	if res != nil {
		entry.Candidates = fmt.Sprintf("%d candidates", len(res.Candidates))
		if res.PromptFeedback != nil {
			entry.BlockReason = string(res.PromptFeedback.BlockReason)
		}
	}
	g.errorLog.Record(entry)
}
