// Package extraction talks to the generative model that turns free text into a
// job offer document.
package extraction

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cuongbtq/offer-ingest/internal/ingest/domain"
	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// ErrUnavailable wraps failures to reach the extraction service at all
var ErrUnavailable = errors.New("extraction service unavailable")

// StatusError is returned when the extraction service answers with a non-2xx status
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("extraction service returned status %d: %s", e.StatusCode, e.Body)
}

// Temporary reports whether retrying the same request later may succeed
func (e *StatusError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

// Reader streams the raw extraction output for an instruction
type Reader interface {
	Stream(ctx context.Context, instruction string) iter.Seq2[string, error]
}

// Config holds extraction client configuration
type Config struct {
	Endpoint    string // optional API endpoint override
	APIKey      string
	Model       string
	Temperature float64
	Timeout     time.Duration
}

// responseStream is the part of genai.GenerateContentResponseIterator the client reads
type responseStream interface {
	Next() (*genai.GenerateContentResponse, error)
}

// Client streams job offer documents from a Gemini model
type Client struct {
	config *Config
	gemini *genai.Client
	open   func(ctx context.Context, instruction string) responseStream
	logger *slog.Logger
}

// NewClient creates the Gemini client. The model is asked for a JSON document.
func NewClient(ctx context.Context, config *Config, logger *slog.Logger) (*Client, error) {
	opts := []option.ClientOption{option.WithAPIKey(config.APIKey)}
	if config.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(config.Endpoint))
	}

	gemini, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Gemini: %w", err)
	}

	model := gemini.GenerativeModel(config.Model)
	model.SetTemperature(float32(config.Temperature))
	model.ResponseMIMEType = "application/json"

	logger.Info("Extraction client initialized",
		slog.String("model", config.Model),
	)

	return &Client{
		config: config,
		gemini: gemini,
		open: func(ctx context.Context, instruction string) responseStream {
			return model.GenerateContentStream(ctx, genai.Text(instruction))
		},
		logger: logger,
	}, nil
}

// Close releases the underlying Gemini client
func (c *Client) Close() error {
	if c.gemini == nil {
		return nil
	}
	return c.gemini.Close()
}

// Stream sends the instruction and yields the text parts of the answer as the
// model produces them
func (c *Client) Stream(ctx context.Context, instruction string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if c.config.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, c.config.Timeout)
			defer cancel()
		}

		stream := c.open(ctx, instruction)
		responses := 0
		for {
			resp, err := stream.Next()
			if errors.Is(err, iterator.Done) {
				c.logger.Debug("Extraction stream finished",
					slog.Int("responses", responses),
				)
				return
			}
			if err != nil {
				yield("", classify(ctx, err))
				return
			}
			responses++

			for _, cand := range resp.Candidates {
				if cand.Content == nil {
					continue
				}
				for _, part := range cand.Content.Parts {
					text, ok := part.(genai.Text)
					if !ok || text == "" {
						continue
					}
					if !yield(string(text), nil) {
						return
					}
				}
			}
		}
	}
}

// classify maps a model error onto the errors the worker decides retries by
func classify(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return &StatusError{
			StatusCode: apiErr.Code,
			Body:       strings.TrimSpace(apiErr.Message),
		}
	}

	var blocked *genai.BlockedError
	if errors.As(err, &blocked) {
		return fmt.Errorf("extraction blocked: %w", err)
	}

	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

// ReadAll concatenates every chunk of the stream. An empty concatenation is
// domain.ErrEmptyExtractionResult.
func ReadAll(ctx context.Context, r Reader, instruction string) (string, error) {
	var b strings.Builder
	for chunk, err := range r.Stream(ctx, instruction) {
		if err != nil {
			return "", err
		}
		b.WriteString(chunk)
	}

	if strings.TrimSpace(b.String()) == "" {
		return "", domain.ErrEmptyExtractionResult
	}
	return b.String(), nil
}
