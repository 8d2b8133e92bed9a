package archive

import (
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"agency-ops/internal/models"
)

// Document is the archived record of a job that reached a terminal status.
type Document struct {
	Job        models.Job                  `json:"job"`
	History    []models.StatusHistoryEntry `json:"history"`
	ArchivedAt time.Time                   `json:"archived_at"`
}

// Key is the object key for a job's archive document.
func Key(job models.Job) string {
	return fmt.Sprintf("%s/%s.json", url.PathEscape(job.AdminID), url.PathEscape(job.ID))
}

func encode(doc Document) ([]byte, error) {
	body, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal archive document: %w", err)
	}
	return body, nil
}
