package domain

// JobOffer is the root row, keyed by ExternalID
type JobOffer struct {
	ID           int64   `db:"id"`
	ExternalID   string  `db:"external_id"`
	Title        string  `db:"title"`
	SourceURL    string  `db:"source_url"`
	Description  *string `db:"description"`
	Seniority    *string `db:"seniority"`
	Language     *string `db:"language"`
	PublishedAt  *string `db:"published_at"`
	ExpiresAt    *string `db:"expires_at"`
	CompanyID    *int64  `db:"company_id"`
	SalaryID     *int64  `db:"salary_id"`
	LocationID   *int64  `db:"location_id"`
	IndustryID   *int64  `db:"industry_id"`
	ProfessionID *int64  `db:"profession_id"`
}

// ForeignKeys are the dependent ids resolved before the root upsert.
// A nil id means the record did not carry that nested object.
type ForeignKeys struct {
	CompanyID    *int64
	SalaryID     *int64
	LocationID   *int64
	IndustryID   *int64
	ProfessionID *int64
}

// Location is keyed by (City, Country)
type Location struct {
	ID      int64   `db:"id"`
	City    string  `db:"city"`
	Country *string `db:"country"`
	Region  *string `db:"region"`
}

// Company is keyed by Name
type Company struct {
	ID         int64   `db:"id"`
	Name       string  `db:"name"`
	Website    *string `db:"website"`
	LocationID *int64  `db:"location_id"`
}

// Salary is keyed by all four of its columns
type Salary struct {
	ID       int64    `db:"id"`
	MinValue *float64 `db:"min_value"`
	MaxValue *float64 `db:"max_value"`
	Currency *string  `db:"currency"`
	Period   *string  `db:"period"`
}

// NamedEntity is any name-keyed row: industries, professions and every tag table
type NamedEntity struct {
	ID   int64  `db:"id"`
	Name string `db:"name"`
}
