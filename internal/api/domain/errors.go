package domain

import (
	"errors"
)

var (
	ErrRequestNotFound      = errors.New("ingestion request not found")
	ErrRequestNotCancelable = errors.New("ingestion request is no longer pending")
	ErrRequestNotDeletable  = errors.New("ingestion request has not finished")
	ErrJobOfferNotFound     = errors.New("job offer not found")
)
