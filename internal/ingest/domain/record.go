package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// DefaultPayloadKey is the top-level key the extraction service wraps the record in
const DefaultPayloadKey = "jobOffer"

// Record is the job offer as extracted from free text
type Record struct {
	ExternalID  string `json:"external_id"`
	Title       string `json:"title"`
	SourceURL   string `json:"source_url"`
	Description string `json:"description"`
	Seniority   string `json:"seniority"`
	Language    string `json:"language"`
	PublishedAt string `json:"published_at"`
	ExpiresAt   string `json:"expires_at"`

	Location   *LocationInput `json:"location"`
	Company    *CompanyInput  `json:"company"`
	Salary     *SalaryInput   `json:"salary"`
	Industry   string         `json:"industry"`
	Profession string         `json:"profession"`

	Benefits      []string `json:"benefits"`
	Requirements  []string `json:"requirements"`
	WorkModes     []string `json:"workModes"`
	ContractTypes []string `json:"contractTypes"`
	Keywords      []string `json:"keywords"`
}

// LocationInput is a location as it appears in the record
type LocationInput struct {
	City    string  `json:"city"`
	Country *string `json:"country"`
	Region  *string `json:"region"`
}

// IsEmpty reports whether the location carries no natural key
func (l *LocationInput) IsEmpty() bool {
	return l == nil || l.City == ""
}

// CompanyInput is a company as it appears in the record
type CompanyInput struct {
	Name     string         `json:"name"`
	Website  *string        `json:"website"`
	Location *LocationInput `json:"location"`
}

// IsEmpty reports whether the company carries no natural key
func (c *CompanyInput) IsEmpty() bool {
	return c == nil || c.Name == ""
}

// SalaryInput is a salary band as it appears in the record
type SalaryInput struct {
	MinValue *float64 `json:"min_value"`
	MaxValue *float64 `json:"max_value"`
	Currency *string  `json:"currency"`
	Period   *string  `json:"period"`
}

// IsEmpty reports whether every part of the salary band is null
func (s *SalaryInput) IsEmpty() bool {
	return s == nil || (s.MinValue == nil && s.MaxValue == nil && s.Currency == nil && s.Period == nil)
}

// ParseRecord extracts the record wrapped under payloadKey from raw response text.
// It has no side effects.
func ParseRecord(raw, payloadKey string) (*Record, error) {
	if payloadKey == "" {
		payloadKey = DefaultPayloadKey
	}

	body := stripCodeFence(raw)
	if body == "" {
		return nil, fmt.Errorf("%w: empty document", ErrMalformedPayload)
	}

	var wrapper map[string]json.RawMessage
	if err := json.Unmarshal([]byte(body), &wrapper); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	inner, ok := wrapper[payloadKey]
	inner = bytes.TrimSpace(inner)
	if !ok || len(inner) == 0 || bytes.Equal(inner, []byte("null")) {
		return nil, fmt.Errorf("%w: wrapper key %q is absent", ErrMalformedPayload, payloadKey)
	}
	if inner[0] != '{' {
		return nil, fmt.Errorf("%w: %q is not an object", ErrMalformedPayload, payloadKey)
	}

	var record Record
	if err := json.Unmarshal(inner, &record); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	if err := record.validate(); err != nil {
		return nil, err
	}
	record.normalize()

	return &record, nil
}

// normalize turns empty optional strings of nested objects into nil, so that
// "" and null name the same natural key
func (r *Record) normalize() {
	r.Location.normalize()
	if r.Company != nil {
		r.Company.Website = nilIfEmpty(r.Company.Website)
		r.Company.Location.normalize()
	}
	if r.Salary != nil {
		r.Salary.Currency = nilIfEmpty(r.Salary.Currency)
		r.Salary.Period = nilIfEmpty(r.Salary.Period)
	}
}

func (l *LocationInput) normalize() {
	if l == nil {
		return
	}
	l.Country = nilIfEmpty(l.Country)
	l.Region = nilIfEmpty(l.Region)
}

func nilIfEmpty(s *string) *string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	return s
}

func (r *Record) validate() error {
	required := []struct {
		field string
		value string
	}{
		{"external_id", r.ExternalID},
		{"title", r.Title},
		{"source_url", r.SourceURL},
	}
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			return &MissingFieldError{Field: f.field}
		}
	}
	return nil
}

// stripCodeFence removes one Markdown code fence around the document, if present
func stripCodeFence(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	// drop the info string, e.g. ```json
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		return ""
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
