package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/cuongbtq/offer-ingest/internal/api/dto"
	"github.com/cuongbtq/offer-ingest/internal/api/model"
	ingeststorage "github.com/cuongbtq/offer-ingest/internal/ingest/storage"
	"github.com/gin-gonic/gin"
)

// GetJobOffer handles GET /api/v1/job-offers/:external_id
// Serves the assembled offer from the cache when present
func (h *IngestionHandler) GetJobOffer(c *gin.Context) {
	externalID := c.Param("external_id")
	if externalID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "external_id is required",
		})
		return
	}

	ctx := c.Request.Context()

	if h.cache != nil {
		var cached dto.JobOfferResponse
		hit, err := h.cache.Get(ctx, externalID, &cached)
		if err != nil {
			h.logger.Warn("Job offer cache read failed", slog.String("error", err.Error()))
		}
		if hit {
			c.Header("X-Cache", "HIT")
			c.JSON(http.StatusOK, cached)
			return
		}
	}

	view, err := h.storage.GetJobOffer(ctx, externalID)
	if err != nil {
		h.respondError(c, err, "Failed to get job offer")
		return
	}

	resp := toJobOfferResponse(view)

	if h.cache != nil {
		if err := h.cache.Set(ctx, externalID, resp); err != nil {
			h.logger.Warn("Job offer cache write failed", slog.String("error", err.Error()))
		}
		c.Header("X-Cache", "MISS")
	}

	c.JSON(http.StatusOK, resp)
}

func toJobOfferResponse(v *model.JobOfferView) dto.JobOfferResponse {
	resp := dto.JobOfferResponse{
		ID:            v.ID,
		ExternalID:    v.ExternalID,
		Title:         v.Title,
		SourceURL:     v.SourceURL,
		Description:   v.Description,
		Seniority:     v.Seniority,
		Language:      v.Language,
		PublishedAt:   v.PublishedAt,
		ExpiresAt:     v.ExpiresAt,
		Industry:      v.Industry,
		Profession:    v.Profession,
		Benefits:      tagNames(v, ingeststorage.Benefits),
		Requirements:  tagNames(v, ingeststorage.Requirements),
		WorkModes:     tagNames(v, ingeststorage.WorkModes),
		ContractTypes: tagNames(v, ingeststorage.ContractTypes),
		Keywords:      tagNames(v, ingeststorage.Keywords),
		CreatedAt:     v.CreatedAt.Format(time.RFC3339),
		UpdatedAt:     v.UpdatedAt.Format(time.RFC3339),
	}

	if v.CompanyName != nil {
		resp.Company = &dto.CompanyDTO{
			Name:     *v.CompanyName,
			Website:  v.CompanyWebsite,
			Location: locationDTO(v.CompanyCity, v.CompanyCountry, v.CompanyRegion),
		}
	}
	resp.Location = locationDTO(v.LocationCity, v.LocationCountry, v.LocationRegion)

	if v.SalaryID != nil {
		resp.Salary = &dto.SalaryDTO{
			MinValue: v.SalaryMin,
			MaxValue: v.SalaryMax,
			Currency: v.SalaryCurrency,
			Period:   v.SalaryPeriod,
		}
	}

	return resp
}

func locationDTO(city, country, region *string) *dto.LocationDTO {
	if city == nil {
		return nil
	}
	return &dto.LocationDTO{City: *city, Country: country, Region: region}
}

func tagNames(v *model.JobOfferView, kind ingeststorage.TagKind) []string {
	names := v.Tags[kind.Table]
	if names == nil {
		return []string{}
	}
	return names
}
