// Package llm wraps the generative model used for narratives and price
// estimates behind a small interface.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/googleapis/gax-go/v2/apierror"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"

	perrors "roadsafety-cost/pkg/errors"
	"roadsafety-cost/pkg/platform"
)

// Generator produces text for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// GeminiClient is a Generator backed by Google Gemini.
type GeminiClient struct {
	client *genai.Client
	model  *genai.GenerativeModel
	policy platform.RetryPolicy
}

// NewGeminiClient connects to Gemini. Responses are requested as JSON.
func NewGeminiClient(ctx context.Context, apiKey, model string, policy platform.RetryPolicy) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, errors.New("gemini api key not configured")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	m := client.GenerativeModel(model)
	m.SetTemperature(0.2)
	m.ResponseMIMEType = "application/json"

	return &GeminiClient{client: client, model: m, policy: policy}, nil
}

// Generate sends the prompt, retrying rate-limited and unavailable calls.
func (g *GeminiClient) Generate(ctx context.Context, prompt string) (string, error) {
	var out string
	err := g.policy.Do(ctx, "gemini", func(ctx context.Context) error {
		resp, err := g.model.GenerateContent(ctx, genai.Text(prompt))
		if err != nil {
			return classify(err)
		}
		text := responseText(resp)
		if text == "" {
			return errors.New("gemini returned no text")
		}
		out = text
		return nil
	})
	return out, err
}

// Close releases the underlying connection.
func (g *GeminiClient) Close() error {
	return g.client.Close()
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	var sb strings.Builder
	for _, c := range resp.Candidates {
		if c == nil || c.Content == nil {
			continue
		}
		for _, p := range c.Content.Parts {
			if t, ok := p.(genai.Text); ok {
				sb.WriteString(string(t))
			}
		}
		if sb.Len() > 0 {
			break
		}
	}
	return sb.String()
}

// classify marks quota and availability failures as transient, carrying
// the server's retry delay when one is supplied.
func classify(err error) error {
	ae, ok := apierror.FromError(err)
	if !ok {
		return err
	}
	code := ae.GRPCStatus().Code()
	if ae.HTTPCode() != http.StatusTooManyRequests && ae.HTTPCode() < 500 &&
		code != codes.ResourceExhausted && code != codes.Unavailable {
		return err
	}
	te := &perrors.TransientError{Source: "gemini", Err: err}
	if ri := ae.Details().RetryInfo; ri != nil && ri.GetRetryDelay() != nil {
		te.RetryAfter = ri.GetRetryDelay().AsDuration()
	}
	return te
}

// ExtractJSON trims markdown fences and surrounding prose from a model
// reply, returning the outermost JSON object.
func ExtractJSON(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return strings.TrimSpace(s)
	}
	return s[start : end+1]
}
