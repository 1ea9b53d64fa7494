package feed

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/user/threat-ingestor/internal/adapter/metrics"
	"github.com/user/threat-ingestor/internal/domain"
)

// Column offsets in the global-events v2 export TSV.
const (
	colEventID       = 0
	colDay           = 1
	colEventCode     = 26
	colGoldstein     = 30
	colNumSources    = 32
	colAvgTone       = 34
	colActionGeoName = 52
	colActionGeoLat  = 56
	colActionGeoLon  = 57
	colSourceURL     = 60
	minColumns       = 61
)

// AdmissionFilter is the pre-storage predicate applied to global-events
// rows. Filtering happens before RawEvent emission specifically to avoid
// downstream cost on low-signal volume.
type AdmissionFilter struct {
	MinCorroboration   int
	ImpactThreshold    float64
	SentimentThreshold float64
	MaxAge             time.Duration
	AllowedEventCodes  map[string]struct{}
}

// NewAdmissionFilter builds a filter from the configured thresholds.
func NewAdmissionFilter(minCorroboration int, impactThreshold, sentimentThreshold float64, maxAge time.Duration, allowedCodes []string) *AdmissionFilter {
	allowed := make(map[string]struct{}, len(allowedCodes))
	for _, c := range allowedCodes {
		allowed[strings.TrimSpace(c)] = struct{}{}
	}
	return &AdmissionFilter{
		MinCorroboration:   minCorroboration,
		ImpactThreshold:    impactThreshold,
		SentimentThreshold: sentimentThreshold,
		MaxAge:             maxAge,
		AllowedEventCodes:  allowed,
	}
}

// Admit decides whether a row carries enough signal to enter the pipeline.
// The returned reason names the first failed criterion for tuning.
func (f *AdmissionFilter) Admit(eventCode string, corroboration int, impact, sentiment float64, eventDay time.Time) (bool, string) {
	if !f.codeAllowed(eventCode) {
		return false, "event_code"
	}
	if corroboration < f.MinCorroboration {
		return false, "corroboration"
	}
	// Either a strongly negative impact score or strongly negative tone
	// qualifies; requiring both would drop confirmed violent events with
	// neutral press coverage.
	if impact > f.ImpactThreshold && sentiment > f.SentimentThreshold {
		return false, "impact"
	}
	if f.MaxAge > 0 && !eventDay.IsZero() && time.Since(eventDay) > f.MaxAge {
		return false, "age"
	}
	return true, ""
}

// codeAllowed matches the event code or its root (first two digits) against
// the allow-listed violent/conflict taxonomy.
func (f *AdmissionFilter) codeAllowed(code string) bool {
	code = strings.TrimSpace(code)
	if code == "" {
		return false
	}
	if _, ok := f.AllowedEventCodes[code]; ok {
		return true
	}
	if len(code) > 2 {
		if _, ok := f.AllowedEventCodes[code[:2]]; ok {
			return true
		}
	}
	return false
}

// GDELTAdapter consumes the global-events export on a fixed cadence. The
// export endpoint publishes a pointer file naming the latest zipped TSV.
type GDELTAdapter struct {
	pointerURL string
	filter     *AdmissionFilter
	client     *http.Client
	logger     *slog.Logger
	metrics    *metrics.PipelineMetrics
}

// NewGDELTAdapter creates the global-events adapter.
func NewGDELTAdapter(pointerURL string, filter *AdmissionFilter, timeout time.Duration, logger *slog.Logger, m *metrics.PipelineMetrics) *GDELTAdapter {
	return &GDELTAdapter{
		pointerURL: pointerURL,
		filter:     filter,
		client:     newHTTPClient(timeout),
		logger:     logger.With("component", "gdelt_adapter"),
		metrics:    m,
	}
}

func (a *GDELTAdapter) Name() string { return "global-events" }

// Fetch downloads the latest export and emits the rows that pass the
// admission filter. Malformed rows are skipped, never abort the batch.
func (a *GDELTAdapter) Fetch(ctx context.Context) ([]domain.RawEvent, error) {
	exportURL, err := a.latestExportURL(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to locate latest export: %w", err)
	}

	rows, err := a.downloadExport(ctx, exportURL)
	if err != nil {
		return nil, fmt.Errorf("failed to download export: %w", err)
	}

	now := time.Now().UTC()
	var events []domain.RawEvent
	accepted, rejected := 0, 0

	for _, line := range rows {
		event, admit, err := a.normalize(line, now)
		if err != nil {
			a.logger.Debug("skipping malformed export row", "error", err)
			continue
		}
		if !admit {
			rejected++
			continue
		}
		accepted++
		events = append(events, event)
	}

	if a.metrics != nil {
		a.metrics.AdmissionTotal.WithLabelValues("accepted").Add(float64(accepted))
		a.metrics.AdmissionTotal.WithLabelValues("rejected").Add(float64(rejected))
	}
	a.logger.Info("global-events admission complete", "accepted", accepted, "rejected", rejected)

	return events, nil
}

func (a *GDELTAdapter) normalize(line string, now time.Time) (domain.RawEvent, bool, error) {
	fields := strings.Split(line, "\t")
	if len(fields) < minColumns {
		return domain.RawEvent{}, false, fmt.Errorf("row has %d columns, want %d", len(fields), minColumns)
	}

	eventID := fields[colEventID]
	if eventID == "" {
		return domain.RawEvent{}, false, fmt.Errorf("row has no event id")
	}

	corroboration, _ := strconv.Atoi(fields[colNumSources])
	impact, _ := strconv.ParseFloat(fields[colGoldstein], 64)
	sentiment, _ := strconv.ParseFloat(fields[colAvgTone], 64)

	var eventDay time.Time
	if d, err := time.Parse("20060102", fields[colDay]); err == nil {
		eventDay = d
	}

	admit, reason := a.filter.Admit(fields[colEventCode], corroboration, impact, sentiment, eventDay)
	if !admit {
		a.logger.Debug("row rejected by admission filter", "event_id", eventID, "reason", reason)
		return domain.RawEvent{}, false, nil
	}

	sourceURL := strings.TrimSpace(fields[colSourceURL])
	if sourceURL == "" {
		sourceURL = "global-events://event/" + eventID
	}

	placeName := strings.TrimSpace(fields[colActionGeoName])
	title := fmt.Sprintf("Event %s", fields[colEventCode])
	if placeName != "" {
		title = fmt.Sprintf("Event %s near %s", fields[colEventCode], placeName)
	}

	event := domain.RawEvent{
		SourceID:     "global-events",
		Origin:       domain.OriginGlobalEvents,
		Title:        title,
		URL:          sourceURL,
		PublishedAt:  eventDay.UTC(),
		LocationHint: placeName,
		RetrievedAt:  now,
	}
	if event.PublishedAt.IsZero() {
		event.PublishedAt = now
	}

	if lat, err := strconv.ParseFloat(fields[colActionGeoLat], 64); err == nil {
		if lon, err := strconv.ParseFloat(fields[colActionGeoLon], 64); err == nil {
			event.Latitude = &lat
			event.Longitude = &lon
		}
	}

	return event, true, nil
}

// latestExportURL reads the pointer file and returns the URL of the most
// recent events export archive.
func (a *GDELTAdapter) latestExportURL(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.pointerURL, nil)
	if err != nil {
		return "", err
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("pointer file returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return "", err
	}

	for _, line := range strings.Split(string(body), "\n") {
		parts := strings.Fields(line)
		if len(parts) == 3 && strings.HasSuffix(parts[2], ".export.CSV.zip") {
			return parts[2], nil
		}
	}
	return "", fmt.Errorf("pointer file listed no export archive")
}

// downloadExport fetches the zipped TSV and returns its data lines.
func (a *GDELTAdapter) downloadExport(ctx context.Context, exportURL string) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, exportURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("export returned status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 256<<20))
	if err != nil {
		return nil, err
	}

	zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return nil, fmt.Errorf("export is not a valid archive: %w", err)
	}

	var lines []string
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			return nil, err
		}
		content, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, err
		}
		for _, line := range strings.Split(string(content), "\n") {
			if strings.TrimSpace(line) != "" {
				lines = append(lines, line)
			}
		}
	}
	return lines, nil
}
