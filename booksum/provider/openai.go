package provider

import (
	"context"
	"errors"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"
	"golang.org/x/time/rate"
)

// OpenAI implements Completer on the OpenAI Responses API.
// A shared client-side rate limiter runs ahead of every call so concurrent
// book workers stay under the provider's request budget.
type OpenAI struct {
	client  *openai.Client
	limiter *rate.Limiter
}

// NewOpenAI builds a Completer for the given API key. requestsPerSecond <= 0
// disables client-side rate limiting.
func NewOpenAI(apiKey string, requestsPerSecond float64) *OpenAI {
	client := openai.NewClient(option.WithAPIKey(apiKey))
	var limiter *rate.Limiter
	if requestsPerSecond > 0 {
		burst := int(requestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
	}
	return &OpenAI{client: &client, limiter: limiter}
}

func (o *OpenAI) Complete(ctx context.Context, req Request) (string, error) {
	if o.client == nil {
		return "", &CompletionError{Kind: InvalidResponse, Err: errors.New("OpenAI: client is nil")}
	}
	if req.Model == "" {
		return "", &CompletionError{Kind: InvalidResponse, Err: errors.New("OpenAI: model is empty")}
	}

	if o.limiter != nil {
		if err := o.limiter.Wait(ctx); err != nil {
			return "", classifyError(err)
		}
	}

	maxTokens := int64(req.MaxOutputTokens)
	if maxTokens <= 0 {
		maxTokens = 4000
	}

	params := responses.ResponseNewParams{
		Model:           req.Model,
		MaxOutputTokens: openai.Int(maxTokens),
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: []responses.ResponseInputItemUnionParam{
				responses.ResponseInputItemParamOfMessage(req.Input, responses.EasyInputMessageRoleUser),
			},
		},
	}
	if req.Instructions != "" {
		params.Instructions = openai.String(req.Instructions)
	}
	if req.Schema != nil {
		name := req.SchemaName
		if name == "" {
			name = "Response"
		}
		params.Text = responses.ResponseTextConfigParam{
			Format: responses.ResponseFormatTextConfigUnionParam{
				OfJSONSchema: &responses.ResponseFormatTextJSONSchemaConfigParam{
					Name:   name,
					Schema: req.Schema,
					Strict: openai.Bool(true),
					Type:   "json_schema",
				},
			},
		}
	}

	resp, err := o.client.Responses.New(ctx, params)
	if err != nil {
		return "", classifyError(err)
	}

	out := strings.TrimSpace(resp.OutputText())
	if out == "" {
		return "", &CompletionError{Kind: InvalidResponse, Err: errors.New("empty model output")}
	}
	return out, nil
}

func classifyError(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &CompletionError{Kind: Timeout, Err: err}
	case errors.Is(err, context.Canceled):
		return err
	case isRateLimitError(err):
		return &CompletionError{Kind: RateLimited, Err: err}
	case isAuthError(err):
		return &CompletionError{Kind: AuthFailure, Err: err}
	case isServerError(err):
		return &CompletionError{Kind: ServerError, Err: err}
	default:
		return &CompletionError{Kind: InvalidResponse, Err: err}
	}
}

func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "too many requests")
}

func isAuthError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "401") ||
		strings.Contains(errStr, "403") ||
		strings.Contains(errStr, "invalid api key") ||
		strings.Contains(errStr, "unauthorized")
}

func isServerError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "500") ||
		strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "internal server error") ||
		strings.Contains(errStr, "server_error")
}
