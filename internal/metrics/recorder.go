package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "quotedeck"

// Recorder exports quote service outcomes as prometheus counters.
type Recorder struct {
	transitions        *prometheus.CounterVec
	estimates          *prometheus.CounterVec
	shareVerifications *prometheus.CounterVec
	events             *prometheus.CounterVec
}

// NewRecorder builds the counters and registers them with registerer.
func NewRecorder(registerer prometheus.Registerer) (*Recorder, error) {
	if registerer == nil {
		return nil, errors.New("metrics: registerer is required")
	}
	recorder := &Recorder{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lifecycle_transitions_total",
			Help:      "Lifecycle transition attempts by operation and outcome.",
		}, []string{"operation", "outcome"}),
		estimates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "estimates_total",
			Help:      "Estimate requests by source and outcome.",
		}, []string{"source", "outcome"}),
		shareVerifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "share_link_verifications_total",
			Help:      "Share link verification attempts by outcome.",
		}, []string{"outcome"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "realtime_events_total",
			Help:      "Project events delivered to realtime subscribers.",
		}, []string{"type"}),
	}
	for _, collector := range []prometheus.Collector{
		recorder.transitions,
		recorder.estimates,
		recorder.shareVerifications,
		recorder.events,
	} {
		if err := registerer.Register(collector); err != nil {
			return nil, err
		}
	}
	return recorder, nil
}

func (r *Recorder) RecordTransition(operation, outcome string) {
	r.transitions.WithLabelValues(operation, outcome).Inc()
}

func (r *Recorder) RecordEstimate(source, outcome string) {
	r.estimates.WithLabelValues(source, outcome).Inc()
}

func (r *Recorder) RecordShareVerification(outcome string) {
	r.shareVerifications.WithLabelValues(outcome).Inc()
}

// RecordEvent counts a realtime broadcast.
func (r *Recorder) RecordEvent(eventType string) {
	r.events.WithLabelValues(eventType).Inc()
}
