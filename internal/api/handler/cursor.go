package handler

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/cuongbtq/offer-ingest/internal/api/storage"
	"github.com/google/uuid"
)

// DecodeRequestCursor parses a cursor produced by EncodeRequestCursor.
// An empty string means the first page.
func DecodeRequestCursor(cursorStr string) (*storage.RequestCursor, error) {
	if cursorStr == "" {
		return nil, nil
	}

	decoded, err := base64.URLEncoding.DecodeString(cursorStr)
	if err != nil {
		return nil, err
	}

	createdPart, requestID, ok := strings.Cut(string(decoded), "|")
	if !ok {
		return nil, fmt.Errorf("invalid cursor format")
	}

	var createdAt int64
	if _, err := fmt.Sscanf(createdPart, "%d", &createdAt); err != nil {
		return nil, fmt.Errorf("invalid createdAt in cursor: %w", err)
	}

	if _, err := uuid.Parse(requestID); err != nil {
		return nil, fmt.Errorf("invalid request_id in cursor: %w", err)
	}

	return &storage.RequestCursor{
		CreatedAt: time.Unix(0, createdAt).UTC(),
		RequestID: requestID,
	}, nil
}

func EncodeRequestCursor(cursor *storage.RequestCursor) string {
	cs := fmt.Sprintf("%d|%s", cursor.CreatedAt.UnixNano(), cursor.RequestID)
	return base64.URLEncoding.EncodeToString([]byte(cs))
}
