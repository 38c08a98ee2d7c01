package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"horse.fit/eventmerge/internal/config"
	"horse.fit/eventmerge/internal/db"
	"horse.fit/eventmerge/internal/dedup"
	"horse.fit/eventmerge/internal/merge"
	"horse.fit/eventmerge/internal/metrics"
	"horse.fit/eventmerge/internal/rules"
)

const scenarioDocument = `{"events":[
	{"source_id":"agenda-a","external_id":"a-1","title":"Feria del Libro","start_date":"2025-05-30","city":"Madrid","image_url":"https://agenda-a.test/feria.jpg","venue_name":"Retiro"},
	{"source_id":"agenda-b","external_id":"b-7","title":"Feria del Libro de Madrid","start_date":"2025-05-30","city":"Madrid y Área Metropolitana","coordinates":{"latitude":40.4153,"longitude":-3.6845},"venue_name":"Parque del Retiro","organizer_name":"Gremio de Libreros","contact_email":"info@feria.test"},
	{"source_id":"agenda-b","external_id":"b-8","start_date":"2025-06-01","city":"Madrid"},
	{"title":"sin fuente","start_date":"2025-06-01"}
]}`

func newTestService(t *testing.T) (*Service, *db.Pool) {
	t.Helper()
	pool, err := db.Open(context.Background(), db.Options{
		Driver:   config.DriverSQLite,
		DSN:      filepath.Join(t.TempDir(), "pipeline.db"),
		LogLevel: "silent",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })

	recorder, err := metrics.NewRecorder(prometheus.NewRegistry())
	require.NoError(t, err)

	svc := NewService(pool, rules.Static(rules.Default()), recorder, zerolog.Nop())
	n := 0
	svc.newRunID = func() string {
		n++
		return fmt.Sprintf("run-%d", n)
	}
	svc.now = func() time.Time { return time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC) }
	return svc, pool
}

func kinds(report RunReport) []string {
	out := make([]string, 0, len(report.Outcomes))
	for _, o := range report.Outcomes {
		label := string(o.Kind)
		if o.Decision != nil {
			label = string(o.Decision.Action)
		}
		out = append(out, fmt.Sprintf("%d:%s", o.Index, label))
	}
	return out
}

func TestRunDocumentAppliesAndRecords(t *testing.T) {
	t.Parallel()

	svc, pool := newTestService(t)
	ctx := context.Background()

	report, err := svc.RunDocument(ctx, []byte(scenarioDocument), RunOptions{Trigger: TriggerHTTP})
	require.NoError(t, err)

	assert.Equal(t, "run-1", report.RunID)
	assert.Equal(t, 4, report.Received)
	assert.Equal(t, 1, report.Rejected)
	assert.Equal(t, 4, report.Stats.Received)
	assert.Equal(t, 1, report.Stats.Inserted)
	assert.Equal(t, 1, report.Stats.Updated)
	assert.Equal(t, 1, report.Stats.Invalid)
	assert.Equal(t, 2, report.Applied)
	assert.Zero(t, report.ApplyFailures)
	assert.Equal(t, []string{"0:INSERT", "1:UPDATE", "2:invalid", "3:rejected"}, kinds(report))
	assert.True(t, report.Outcomes[1].Applied)
	assert.True(t, report.Outcomes[1].InBatch)

	target := report.Outcomes[0].Decision.TargetID
	store := db.NewEventStore(pool, svc.Rules(), zerolog.Nop())
	stored, err := store.GetEvent(ctx, target)
	require.NoError(t, err)
	assert.Equal(t, "Feria del Libro", stored.Title)
	assert.Equal(t, "Gremio de Libreros", stored.OrganizerName)
	assert.Equal(t, []string{"agenda-a", "agenda-b"}, stored.ContributingSources)
	assert.Equal(t, int64(2), stored.Revision)

	runs, err := pool.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "run-1", runs[0].RunID)
	assert.Equal(t, TriggerHTTP, runs[0].Trigger)
	assert.Equal(t, 1, runs[0].Rejected)
	assert.Equal(t, 1, runs[0].InBatchMatches)
	assert.Nil(t, runs[0].ErrorMessage)
}

func TestRunDocumentIsIdempotent(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.RunDocument(ctx, []byte(scenarioDocument), RunOptions{})
	require.NoError(t, err)
	second, err := svc.RunDocument(ctx, []byte(scenarioDocument), RunOptions{})
	require.NoError(t, err)

	assert.Zero(t, second.Stats.Inserted)
	assert.Zero(t, second.ApplyFailures)
	for _, o := range second.Outcomes {
		if o.Decision != nil {
			assert.NotEqual(t, merge.ActionInsert, o.Decision.Action)
		}
	}
}

func TestRunDocumentDryRunWritesNoEvents(t *testing.T) {
	t.Parallel()

	svc, pool := newTestService(t)
	ctx := context.Background()

	report, err := svc.RunDocument(ctx, []byte(scenarioDocument), RunOptions{DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Stats.Inserted)
	assert.Zero(t, report.Applied)
	for _, o := range report.Outcomes {
		assert.False(t, o.Applied)
	}

	stats, err := pool.QueryMergeStats(ctx, time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC), time.Date(2025, 5, 2, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Zero(t, stats.Totals.Events)
	assert.Equal(t, int64(1), stats.Totals.Runs)
}

func TestRunPayloadsWithoutPool(t *testing.T) {
	t.Parallel()

	svc := NewService(nil, nil, nil, zerolog.Nop())
	payloads := []json.RawMessage{
		json.RawMessage(`{"source_id":"a","title":"Concierto","start_date":"2025-01-01","city":"Bilbao"}`),
		json.RawMessage(`{"source_id":"b","title":"Concierto","start_date":"2025-01-01","city":"Bilbao"}`),
	}

	report, err := svc.RunPayloads(context.Background(), payloads, RunOptions{DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"0:INSERT", "1:SKIP"}, kinds(report))

	_, err = svc.RunPayloads(context.Background(), payloads, RunOptions{})
	assert.Error(t, err)
}

func TestRunDocumentRejectsMalformedBatch(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	_, err := svc.RunDocument(context.Background(), []byte(`"nope"`), RunOptions{})
	assert.ErrorIs(t, err, ErrMalformedBatch)
}

func TestRunPayloadsStopsApplyingWhenCancelled(t *testing.T) {
	t.Parallel()

	svc, pool := newTestService(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	payloads := []json.RawMessage{json.RawMessage(`{"source_id":"a","title":"Concierto","start_date":"2025-01-01"}`)}
	report, err := svc.RunPayloads(ctx, payloads, RunOptions{})
	require.Error(t, err)
	assert.Zero(t, report.Applied)
	require.Len(t, report.Outcomes, 1)
	assert.Equal(t, dedup.OutcomeLookupFailed, report.Outcomes[0].Kind)

	runs, listErr := pool.ListRuns(context.Background(), 1)
	require.NoError(t, listErr)
	require.Len(t, runs, 1)
}
