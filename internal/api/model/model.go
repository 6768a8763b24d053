package model

import "time"

// JobOfferRow is a job offer joined with its single-valued dependents.
// Every joined column is nullable because each foreign key is optional.
type JobOfferRow struct {
	ID          int64     `db:"id"`
	ExternalID  string    `db:"external_id"`
	Title       string    `db:"title"`
	SourceURL   string    `db:"source_url"`
	Description *string   `db:"description"`
	Seniority   *string   `db:"seniority"`
	Language    *string   `db:"language"`
	PublishedAt *string   `db:"published_at"`
	ExpiresAt   *string   `db:"expires_at"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`

	CompanyName    *string `db:"company_name"`
	CompanyWebsite *string `db:"company_website"`
	CompanyCity    *string `db:"company_city"`
	CompanyCountry *string `db:"company_country"`
	CompanyRegion  *string `db:"company_region"`

	LocationCity    *string `db:"location_city"`
	LocationCountry *string `db:"location_country"`
	LocationRegion  *string `db:"location_region"`

	SalaryID       *int64   `db:"salary_id"`
	SalaryMin      *float64 `db:"salary_min"`
	SalaryMax      *float64 `db:"salary_max"`
	SalaryCurrency *string  `db:"salary_currency"`
	SalaryPeriod   *string  `db:"salary_period"`

	Industry   *string `db:"industry"`
	Profession *string `db:"profession"`
}

// TagRow is one linked tag name, labeled with the association it came from
type TagRow struct {
	Kind string `db:"kind"`
	Name string `db:"name"`
}

// JobOfferView is a job offer with every association resolved
type JobOfferView struct {
	JobOfferRow
	Tags map[string][]string
}
