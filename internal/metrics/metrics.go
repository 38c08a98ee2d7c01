package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"horse.fit/eventmerge/internal/dedup"
)

const namespace = "eventmerge"

// Recorder publishes batch outcomes. A nil *Recorder records nothing.
type Recorder struct {
	decisions      *prometheus.CounterVec
	outcomes       *prometheus.CounterVec
	rejected       prometheus.Counter
	applyFailures  *prometheus.CounterVec
	inBatchMatches prometheus.Counter
	ambiguous      prometheus.Counter
	qualityScore   prometheus.Histogram
	batchDuration  *prometheus.HistogramVec
	rulesReloads   prometheus.Gauge
}

// NewRecorder builds the collectors and registers them with reg.
func NewRecorder(reg prometheus.Registerer) (*Recorder, error) {
	r := &Recorder{
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Merge decisions by action",
		}, []string{"action"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "candidates_total",
			Help:      "Processed candidates by outcome",
		}, []string{"outcome"}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payloads_rejected_total",
			Help:      "Payloads that failed schema validation",
		}),
		applyFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "apply_failures_total",
			Help:      "Decisions that could not be persisted, by reason",
		}, []string{"reason"}),
		inBatchMatches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "in_batch_matches_total",
			Help:      "Candidates matched to an event created earlier in the same batch",
		}),
		ambiguous: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ambiguous_matches_total",
			Help:      "Matches decided by tie-break",
		}),
		qualityScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "incoming_quality_score",
			Help:      "Quality score of decided candidates",
			Buckets:   prometheus.LinearBuckets(0.1, 0.1, 10),
		}),
		batchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Time spent processing one batch",
			Buckets:   prometheus.DefBuckets,
		}, []string{"trigger", "dry_run"}),
		rulesReloads: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rules_reloads",
			Help:      "Successful rules reloads since start",
		}),
	}

	if reg != nil {
		for _, c := range []prometheus.Collector{
			r.decisions, r.outcomes, r.rejected, r.applyFailures,
			r.inBatchMatches, r.ambiguous, r.qualityScore, r.batchDuration,
			r.rulesReloads,
		} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return r, nil
}

// ObserveBatch records the outcomes of one processed batch.
func (r *Recorder) ObserveBatch(trigger string, dryRun bool, result dedup.BatchResult, took time.Duration) {
	if r == nil {
		return
	}
	for _, outcome := range result.Outcomes {
		r.outcomes.WithLabelValues(string(outcome.Kind)).Inc()
		if outcome.Decision == nil {
			continue
		}
		r.decisions.WithLabelValues(string(outcome.Decision.Action)).Inc()
		r.qualityScore.Observe(outcome.Decision.IncomingScore.Score)
	}
	r.inBatchMatches.Add(float64(result.Stats.InBatchMatches))
	r.ambiguous.Add(float64(result.Stats.Ambiguous))

	dry := "false"
	if dryRun {
		dry = "true"
	}
	r.batchDuration.WithLabelValues(trigger, dry).Observe(took.Seconds())
}

func (r *Recorder) ObserveRejected(n int) {
	if r == nil || n <= 0 {
		return
	}
	r.rejected.Add(float64(n))
}

func (r *Recorder) ObserveApplyFailure(reason string) {
	if r == nil {
		return
	}
	r.applyFailures.WithLabelValues(reason).Inc()
}

func (r *Recorder) SetRulesReloads(n int64) {
	if r == nil {
		return
	}
	r.rulesReloads.Set(float64(n))
}
