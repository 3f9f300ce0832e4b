package completion

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-go-golems/convrelay/pkg/transcript"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"
)

const DefaultModel = openai.GPT4o

type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string

	// AttemptTimeout bounds each HTTP attempt.
	AttemptTimeout time.Duration
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	HTTPClient *http.Client
}

type OpenAIGateway struct {
	client *openai.Client
	cfg    OpenAIConfig
}

var _ Gateway = (*OpenAIGateway)(nil)

func NewOpenAIGateway(cfg OpenAIConfig) (*OpenAIGateway, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("openai api key is empty")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 30 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 250 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 2 * time.Second
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.HTTPClient != nil {
		clientCfg.HTTPClient = cfg.HTTPClient
	}
	return &OpenAIGateway{client: openai.NewClientWithConfig(clientCfg), cfg: cfg}, nil
}

func (g *OpenAIGateway) Complete(ctx context.Context, msgs []transcript.Message) (transcript.Message, error) {
	if err := ValidateRequest(msgs); err != nil {
		return transcript.Message{}, err
	}

	req := openai.ChatCompletionRequest{
		Model:    g.cfg.Model,
		Messages: toOpenAIMessages(msgs),
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = g.cfg.InitialBackoff
	eb.MaxInterval = g.cfg.MaxBackoff
	eb.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(g.cfg.MaxRetries)), ctx)

	start := time.Now()
	attempts := 0
	var resp openai.ChatCompletionResponse
	op := func() error {
		attempts++
		attemptCtx, cancel := context.WithTimeout(ctx, g.cfg.AttemptTimeout)
		defer cancel()

		r, err := g.client.CreateChatCompletion(attemptCtx, req)
		if err != nil {
			gerr := classifyOpenAIError(ctx, err)
			if !gerr.retryable {
				return backoff.Permanent(gerr)
			}
			log.Warn().Err(err).
				Str("component", "completion").
				Str("kind", string(gerr.Kind)).
				Int("attempt", attempts).
				Msg("completion attempt failed, retrying")
			return gerr
		}
		resp = r
		return nil
	}

	if err := backoff.Retry(op, policy); err != nil {
		gerr := AsGenerationError(err)
		gerr.Attempts = attempts
		return transcript.Message{}, gerr
	}

	reply, err := parseReply(resp)
	if err != nil {
		err.Attempts = attempts
		return transcript.Message{}, err
	}

	log.Debug().
		Str("component", "completion").
		Str("model", g.cfg.Model).
		Int("attempts", attempts).
		Int("prompt_tokens", resp.Usage.PromptTokens).
		Int("completion_tokens", resp.Usage.CompletionTokens).
		Dur("latency", time.Since(start)).
		Msg("completion finished")

	return reply, nil
}

func toOpenAIMessages(msgs []transcript.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		role := openai.ChatMessageRoleUser
		switch m.Role {
		case transcript.RoleSystem:
			role = openai.ChatMessageRoleSystem
		case transcript.RoleAssistant:
			role = openai.ChatMessageRoleAssistant
		case transcript.RoleUser:
		}
		out = append(out, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	return out
}

func parseReply(resp openai.ChatCompletionResponse) (transcript.Message, *GenerationError) {
	if len(resp.Choices) == 0 {
		return transcript.Message{}, newGenerationError(KindMalformed, errors.New("response has no choices"), false)
	}
	msg := resp.Choices[0].Message
	if msg.Role != "" && msg.Role != openai.ChatMessageRoleAssistant {
		return transcript.Message{}, newGenerationError(KindMalformed, errors.Errorf("unexpected reply role %q", msg.Role), false)
	}
	content := strings.TrimSpace(msg.Content)
	if content == "" {
		return transcript.Message{}, newGenerationError(KindMalformed, errors.New("reply content is empty"), false)
	}
	return transcript.Assistant(content), nil
}

// classifyOpenAIError maps a client error to a GenerationError. parent is the
// caller's context, used to tell an attempt timeout from a caller cancellation.
func classifyOpenAIError(parent context.Context, err error) *GenerationError {
	if perr := parent.Err(); perr != nil {
		if errors.Is(perr, context.DeadlineExceeded) {
			return newGenerationError(KindTimeout, err, false)
		}
		return newGenerationError(KindCanceled, err, false)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return newGenerationError(KindTimeout, err, true)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return newGenerationError(KindBackend, err, retryableStatus(apiErr.HTTPStatusCode))
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		if reqErr.HTTPStatusCode >= 200 && reqErr.HTTPStatusCode < 300 {
			return newGenerationError(KindMalformed, err, false)
		}
		return newGenerationError(KindBackend, err, retryableStatus(reqErr.HTTPStatusCode))
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return newGenerationError(KindMalformed, err, false)
	}
	return newGenerationError(KindUnreachable, err, true)
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}
