// Package export writes the tracking table in formats an administrator can
// hand to other systems.
package export

import (
	"encoding/csv"
	"io"
	"strconv"
	"strings"
	"time"

	"lms-course-sync/internal/domain"
)

// Keep header order stable; downstream spreadsheets key on column position.
var trackingHeader = []string{
	"REMOTE_ID",
	"CATALOG_ID",
	"LOCAL_ID",
	"TITLE",
	"SLUG",
	"COURSE_URL",
	"SYNC_STATUS",
	"STATUS_REASON",
	"CREATED_AT",
	"UPDATED_AT",
}

// Header returns a copy of the column names.
func Header() []string {
	return append([]string(nil), trackingHeader...)
}

// WriteTrackingCSV writes one row per tracking record. siteURL, when set,
// is used to build the COURSE_URL column from the slug.
func WriteTrackingCSV(w io.Writer, records []domain.TrackingRecord, siteURL string) error {
	cw := csv.NewWriter(w)
	cw.UseCRLF = true

	if err := cw.Write(trackingHeader); err != nil {
		return err
	}
	base := strings.TrimRight(siteURL, "/")
	for _, r := range records {
		if err := cw.Write(toRow(r, base)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func toRow(r domain.TrackingRecord, base string) []string {
	url := ""
	if base != "" && r.Slug != "" {
		url = base + "/courses/" + r.Slug
	}
	return []string{
		idString(r.RemoteID),
		idString(r.CatalogID),
		idString(r.LocalContentID),
		cleanCell(r.Title),
		r.Slug,
		url,
		string(r.SyncStatus),
		r.StatusReason,
		timeString(r.CreatedAt),
		timeString(r.UpdatedAt),
	}
}

func idString(v *int64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatInt(*v, 10)
}

func timeString(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// cleanCell flattens line breaks so each record stays on one physical line.
func cleanCell(s string) string {
	s = strings.ReplaceAll(s, "\r\n", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", " ")
	return strings.TrimSpace(s)
}
