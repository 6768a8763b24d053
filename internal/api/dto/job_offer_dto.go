package dto

type JobOfferResponse struct {
	ID            int64        `json:"id"`
	ExternalID    string       `json:"external_id"`
	Title         string       `json:"title"`
	SourceURL     string       `json:"source_url"`
	Description   *string      `json:"description,omitempty"`
	Seniority     *string      `json:"seniority,omitempty"`
	Language      *string      `json:"language,omitempty"`
	PublishedAt   *string      `json:"published_at,omitempty"`
	ExpiresAt     *string      `json:"expires_at,omitempty"`
	Company       *CompanyDTO  `json:"company,omitempty"`
	Location      *LocationDTO `json:"location,omitempty"`
	Salary        *SalaryDTO   `json:"salary,omitempty"`
	Industry      *string      `json:"industry,omitempty"`
	Profession    *string      `json:"profession,omitempty"`
	Benefits      []string     `json:"benefits"`
	Requirements  []string     `json:"requirements"`
	WorkModes     []string     `json:"workModes"`
	ContractTypes []string     `json:"contractTypes"`
	Keywords      []string     `json:"keywords"`
	CreatedAt     string       `json:"created_at"`
	UpdatedAt     string       `json:"updated_at"`
}

type CompanyDTO struct {
	Name     string       `json:"name"`
	Website  *string      `json:"website,omitempty"`
	Location *LocationDTO `json:"location,omitempty"`
}

type LocationDTO struct {
	City    string  `json:"city"`
	Country *string `json:"country,omitempty"`
	Region  *string `json:"region,omitempty"`
}

type SalaryDTO struct {
	MinValue *float64 `json:"min_value,omitempty"`
	MaxValue *float64 `json:"max_value,omitempty"`
	Currency *string  `json:"currency,omitempty"`
	Period   *string  `json:"period,omitempty"`
}
