// Package prompt renders the instruction sent to the extraction service.
package prompt

import (
	"errors"
	"fmt"
	"strings"
	"text/template"

	"github.com/cuongbtq/offer-ingest/internal/ingest/domain"
)

// ErrEmptyMessage is returned when there is no text to extract from
var ErrEmptyMessage = errors.New("message is empty")

const instructionTemplate = `You extract job offers from free text.
Answer with a single JSON object and nothing else. The object has exactly one
key, "{{.PayloadKey}}", whose value describes the offer with these fields:

- external_id (string, required): stable identifier of the offer at its source
- title (string, required)
- source_url (string, required)
- description, seniority, language (string, optional)
- published_at, expires_at (string, optional, ISO 8601 date)
- location (object, optional): city (required), country, region
- company (object, optional): name (required), website, location
- salary (object, optional): min_value, max_value (numbers), currency, period
- industry, profession (string, optional)
{{- range .Lists}}
- {{.}} (array of strings, optional)
{{- end}}

Leave out every field the text does not mention. Never invent values.

Text:
"""
{{.Message}}
"""
`

var instruction = template.Must(template.New("instruction").Parse(instructionTemplate))

// Builder turns a user message into an extraction instruction
type Builder struct {
	payloadKey string
}

// NewBuilder creates a builder for the given payload wrapper key
func NewBuilder(payloadKey string) *Builder {
	if payloadKey == "" {
		payloadKey = domain.DefaultPayloadKey
	}
	return &Builder{payloadKey: payloadKey}
}

// Build renders the instruction for message
func (b *Builder) Build(message string) (string, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return "", ErrEmptyMessage
	}

	var sb strings.Builder
	err := instruction.Execute(&sb, struct {
		PayloadKey string
		Lists      []string
		Message    string
	}{
		PayloadKey: b.payloadKey,
		Lists:      []string{"benefits", "requirements", "workModes", "contractTypes", "keywords"},
		Message:    message,
	})
	if err != nil {
		return "", fmt.Errorf("failed to render instruction: %w", err)
	}

	return sb.String(), nil
}
