package payloadschema

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"horse.fit/eventmerge/internal/events"
)

func TestValidateCandidatePayload_Valid(t *testing.T) {
	t.Parallel()

	payload := json.RawMessage(`{
		"payload_version":"v1",
		"source_id":"visitsevilla",
		"external_id":"vs-1",
		"title":"Concierto de Jazz",
		"start_date":"2025-03-15",
		"start_time":"21:30",
		"city":"Sevilla y Comarca",
		"coordinates":{"latitude":37.38,"longitude":-5.99},
		"category_slugs":["Music","music"],
		"image_url":"https://visitsevilla.test/jazz.jpg",
		"contact_email":"info@visitsevilla.test",
		"is_free":true
	}`)

	candidate, err := ValidateCandidatePayload(payload)
	if err != nil {
		t.Fatalf("expected payload to be valid, got error: %v", err)
	}
	if candidate.SourceID != "visitsevilla" || candidate.ExternalID != "vs-1" {
		t.Fatalf("unexpected identity %q/%q", candidate.SourceID, candidate.ExternalID)
	}
	if !candidate.StartDate.Equal(events.MustParseDate("2025-03-15")) {
		t.Fatalf("expected start_date 2025-03-15, got %s", candidate.StartDate)
	}
	if candidate.Coordinates == nil || candidate.Coordinates.Latitude != 37.38 {
		t.Fatalf("expected coordinates to decode, got %+v", candidate.Coordinates)
	}
	if candidate.IsFree == nil || !*candidate.IsFree {
		t.Fatalf("expected is_free=true")
	}
	if len(candidate.CategorySlugs) != 2 {
		t.Fatalf("slugs are normalized by the engine, got %v", candidate.CategorySlugs)
	}
}

func TestValidateCandidatePayload_TitleAndDateLeftToEngine(t *testing.T) {
	t.Parallel()

	candidate, err := ValidateCandidatePayload(json.RawMessage(`{"source_id":"agenda-b","city":"Madrid","start_date":""}`))
	if err != nil {
		t.Fatalf("expected payload without title to decode, got %v", err)
	}
	if !candidate.StartDate.IsZero() || candidate.Title != "" {
		t.Fatalf("expected empty title and date, got %+v", candidate.Details)
	}
	if err := candidate.Validate(); !errors.Is(err, events.ErrInvalidCandidate) {
		t.Fatalf("expected engine validation to reject, got %v", err)
	}
}

func TestValidateCandidatePayload_Rejects(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"missing source":      `{"title":"x","start_date":"2025-01-01"}`,
		"blank source":        `{"source_id":"   ","title":"x"}`,
		"unknown field":       `{"source_id":"s","colour":"red"}`,
		"bad date":            `{"source_id":"s","start_date":"15/03/2025"}`,
		"bad time":            `{"source_id":"s","start_time":"25:00"}`,
		"bad image url":       `{"source_id":"s","image_url":"not a url"}`,
		"bad email":           `{"source_id":"s","contact_email":"nobody"}`,
		"string coordinates":  `{"source_id":"s","coordinates":{"latitude":"37","longitude":"-5"}}`,
		"wrong version":       `{"source_id":"s","payload_version":"v2"}`,
		"trailing content":    `{"source_id":"s"} {}`,
		"empty payload":       `   `,
		"non object payload":  `["source_id"]`,
		"numeric category":    `{"source_id":"s","category_slugs":[1]}`,
		"non boolean is_free": `{"source_id":"s","is_free":"yes"}`,
	}
	for name, raw := range tests {
		name, raw := name, raw
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			if _, err := ValidateCandidatePayload(json.RawMessage(raw)); err == nil {
				t.Fatalf("expected %s to be rejected", name)
			}
		})
	}
}

func TestValidateCandidatePayload_EmptyOptionalURLs(t *testing.T) {
	t.Parallel()

	payload := json.RawMessage(`{"source_id":"s","image_url":"","contact_email":"","registration_url":""}`)
	if _, err := ValidateCandidatePayload(payload); err != nil {
		t.Fatalf("expected empty optional strings to be accepted, got %v", err)
	}
}

func TestSplitBatch(t *testing.T) {
	t.Parallel()

	items, err := SplitBatch([]byte(` [{"source_id":"a"},{"source_id":"b"}] `))
	if err != nil || len(items) != 2 {
		t.Fatalf("expected 2 array items, got %d (%v)", len(items), err)
	}

	items, err = SplitBatch([]byte(`{"events":[{"source_id":"a"}]}`))
	if err != nil || len(items) != 1 {
		t.Fatalf("expected 1 envelope item, got %d (%v)", len(items), err)
	}

	for _, raw := range []string{``, `"x"`, `{"items":[]}`, `[1,`} {
		if _, err := SplitBatch([]byte(raw)); err == nil {
			t.Fatalf("expected %q to fail", raw)
		}
	}

	big := "[" + strings.TrimSuffix(strings.Repeat(`{},`, MaxBatchSize+1), ",") + "]"
	if _, err := SplitBatch([]byte(big)); !errors.Is(err, ErrBatchTooLarge) {
		t.Fatalf("expected ErrBatchTooLarge, got %v", err)
	}
}

func TestValidateBatchKeepsPositions(t *testing.T) {
	t.Parallel()

	payloads := make([]json.RawMessage, 0, 4)
	for _, raw := range []string{
		`{"source_id":"a","title":"uno"}`,
		`{"title":"sin fuente"}`,
		`{"source_id":"a","title":"dos"}`,
		`{"source_id":"a","start_date":"mañana"}`,
	} {
		payloads = append(payloads, json.RawMessage(raw))
	}

	got := ValidateBatch(payloads)
	if len(got.Candidates) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(got.Candidates))
	}
	if fmt.Sprint(got.Positions) != "[0 2]" {
		t.Fatalf("expected positions [0 2], got %v", got.Positions)
	}
	if len(got.Rejections) != 2 || got.Rejections[0].Index != 1 || got.Rejections[1].Index != 3 {
		t.Fatalf("unexpected rejections %+v", got.Rejections)
	}
	if got.Candidates[1].Title != "dos" {
		t.Fatalf("expected candidate order preserved, got %q", got.Candidates[1].Title)
	}
}
