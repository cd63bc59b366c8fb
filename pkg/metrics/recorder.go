// Package metrics records turn engine activity as Prometheus metrics.
package metrics

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"programmer/pkg/agent"
	"programmer/pkg/llm"
	"programmer/pkg/tools"
)

// Recorder collects metrics into its own registry. It implements
// agent.StepObserver.
type Recorder struct {
	registry      *prometheus.Registry
	stepsTotal    *prometheus.CounterVec
	stepDuration  *prometheus.HistogramVec
	modelDuration *prometheus.HistogramVec
	promptTokens  *prometheus.CounterVec
	toolCalls     *prometheus.CounterVec
	toolDuration  *prometheus.HistogramVec
	linesChanged  *prometheus.CounterVec
	modelErrors   *prometheus.CounterVec
	runsTotal     *prometheus.CounterVec
	activeRuns    prometheus.Gauge
}

// NewRecorder creates a recorder with a fresh registry.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Recorder{
		registry: reg,
		stepsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "programmer_steps_total",
				Help: "Total number of completed agent steps by model and session",
			},
			[]string{"model", "session_id"},
		),
		stepDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "programmer_step_duration_seconds",
				Help:    "Wall time of agent steps including tools and snapshot",
				Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
			},
			[]string{"model"},
		),
		modelDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "programmer_model_request_duration_seconds",
				Help:    "Duration of model requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"model"},
		),
		promptTokens: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "programmer_prompt_tokens_total",
				Help: "Estimated prompt tokens sent to the model",
			},
			[]string{"model", "session_id"},
		),
		toolCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "programmer_tool_calls_total",
				Help: "Tool invocations by tool and status",
			},
			[]string{"tool", "status"},
		),
		toolDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "programmer_tool_duration_seconds",
				Help:    "Duration of tool invocations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"tool"},
		),
		linesChanged: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "programmer_edit_lines_total",
				Help: "Lines added and removed by buffer edits",
			},
			[]string{"kind"},
		),
		modelErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "programmer_model_errors_total",
				Help: "Failed model calls by model and error type",
			},
			[]string{"model", "error_type"},
		),
		runsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "programmer_runs_total",
				Help: "Finished runs by stop reason",
			},
			[]string{"reason"},
		),
		activeRuns: factory.NewGauge(prometheus.GaugeOpts{
			Name: "programmer_active_runs",
			Help: "Runs currently in progress",
		}),
	}
}

// Registry returns the registry the recorder writes to.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// ObserveStep implements agent.StepObserver.
func (r *Recorder) ObserveStep(_ context.Context, rec agent.StepRecord) error {
	r.stepsTotal.WithLabelValues(rec.Model, rec.SessionID).Inc()
	r.stepDuration.WithLabelValues(rec.Model).Observe(rec.Duration.Seconds())
	r.modelDuration.WithLabelValues(rec.Model).Observe(rec.ModelDuration.Seconds())
	r.promptTokens.WithLabelValues(rec.Model, rec.SessionID).Add(float64(rec.PromptTokens))
	for i := range rec.Tools {
		r.observeTool(&rec.Tools[i])
	}
	for _, e := range rec.Edits {
		r.linesChanged.WithLabelValues("added").Add(float64(e.LinesAdded))
		r.linesChanged.WithLabelValues("removed").Add(float64(e.LinesRemoved))
	}
	return nil
}

func (r *Recorder) observeTool(out *tools.Outcome) {
	r.toolCalls.WithLabelValues(out.Tool, out.Status).Inc()
	r.toolDuration.WithLabelValues(out.Tool).Observe(out.Duration.Seconds())
}

// RunStarted marks a run as in progress.
func (r *Recorder) RunStarted() {
	r.activeRuns.Inc()
}

// RunFinished records how a run ended. A nil err counts under reason; a
// model failure is also counted by its classified type.
func (r *Recorder) RunFinished(model string, reason agent.StopReason, err error) {
	r.activeRuns.Dec()
	if err == nil {
		r.runsTotal.WithLabelValues(string(reason)).Inc()
		return
	}
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		r.runsTotal.WithLabelValues("canceled").Inc()
	default:
		r.runsTotal.WithLabelValues("error").Inc()
		r.modelErrors.WithLabelValues(model, llm.TypeOf(err).String()).Inc()
	}
}
