package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/signalsfoundry/interop-sim/internal/logging"
)

// SimCollector bundles Prometheus metrics for the lifecycle orchestrator and
// the emulated network core.
type SimCollector struct {
	gatherer prometheus.Gatherer

	PhaseDurations *prometheus.HistogramVec
	Instructions   *prometheus.CounterVec
	SetupFailures  *prometheus.CounterVec
	LifecycleState prometheus.Gauge
	ProcessExits   *prometheus.CounterVec
	TaskJoins      *prometheus.CounterVec

	Payments    *prometheus.CounterVec
	EventsFired *prometheus.CounterVec
}

// NewSimCollector registers simulation metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewSimCollector(reg prometheus.Registerer) (*SimCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	durations, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sim_phase_duration_seconds",
		Help:    "Wall-clock duration of each lifecycle phase.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
	}, []string{"phase"}), "sim_phase_duration_seconds")
	if err != nil {
		return nil, err
	}

	instructions, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sim_instructions_total",
		Help: "Instructions sent to the network core, labeled by phase and result.",
	}, []string{"phase", "result"}), "sim_instructions_total")
	if err != nil {
		return nil, err
	}

	failures, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sim_setup_failures_total",
		Help: "Runs aborted during setup, labeled by the failing phase.",
	}, []string{"phase"}), "sim_setup_failures_total")
	if err != nil {
		return nil, err
	}

	state, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sim_lifecycle_state",
		Help: "Current lifecycle state as its ordinal (0=idle ... 10=stopped, 11=failed).",
	}), "sim_lifecycle_state")
	if err != nil {
		return nil, err
	}

	exits, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sim_process_exits_total",
		Help: "Node model processes reaped during shutdown, labeled by outcome.",
	}, []string{"outcome"}), "sim_process_exits_total")
	if err != nil {
		return nil, err
	}

	joins, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sim_task_joins_total",
		Help: "Simulation tasks joined during shutdown, labeled by result.",
	}, []string{"result"}), "sim_task_joins_total")
	if err != nil {
		return nil, err
	}

	payments, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sim_payments_total",
		Help: "Synthetic payments attempted by the emulated network, labeled by result.",
	}, []string{"result"}), "sim_payments_total")
	if err != nil {
		return nil, err
	}

	events, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sim_events_fired_total",
		Help: "Scripted events executed by the emulated network, labeled by kind.",
	}, []string{"kind"}), "sim_events_fired_total")
	if err != nil {
		return nil, err
	}

	return &SimCollector{
		gatherer:       gatherer,
		PhaseDurations: durations,
		Instructions:   instructions,
		SetupFailures:  failures,
		LifecycleState: state,
		ProcessExits:   exits,
		TaskJoins:      joins,
		Payments:       payments,
		EventsFired:    events,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *SimCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// Handler exposes a ready-to-use /metrics handler.
func (c *SimCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// ObservePhase records how long a lifecycle phase took.
func (c *SimCollector) ObservePhase(phase string, d time.Duration) {
	if c == nil || c.PhaseDurations == nil {
		return
	}
	c.PhaseDurations.WithLabelValues(phase).Observe(d.Seconds())
}

// IncInstruction counts one instruction sent during phase.
func (c *SimCollector) IncInstruction(phase string, err error) {
	if c == nil || c.Instructions == nil {
		return
	}
	c.Instructions.WithLabelValues(phase, result(err)).Inc()
}

// IncSetupFailure counts a run aborted in phase.
func (c *SimCollector) IncSetupFailure(phase string) {
	if c == nil || c.SetupFailures == nil {
		return
	}
	c.SetupFailures.WithLabelValues(phase).Inc()
}

// SetLifecycleState exports the orchestrator's current state ordinal.
func (c *SimCollector) SetLifecycleState(ordinal int) {
	if c == nil || c.LifecycleState == nil {
		return
	}
	c.LifecycleState.Set(float64(ordinal))
}

// IncProcessExit counts a reaped process; a wait failure is its own outcome.
func (c *SimCollector) IncProcessExit(err error) {
	if c == nil || c.ProcessExits == nil {
		return
	}
	outcome := "exited"
	if err != nil {
		outcome = "wait_failed"
	}
	c.ProcessExits.WithLabelValues(outcome).Inc()
}

// IncTaskJoin counts a joined simulation task.
func (c *SimCollector) IncTaskJoin(err error) {
	if c == nil || c.TaskJoins == nil {
		return
	}
	c.TaskJoins.WithLabelValues(result(err)).Inc()
}

// IncPayment counts one synthetic payment attempt.
func (c *SimCollector) IncPayment(err error) {
	if c == nil || c.Payments == nil {
		return
	}
	c.Payments.WithLabelValues(result(err)).Inc()
}

// IncEvent counts one fired scripted event.
func (c *SimCollector) IncEvent(kind string) {
	if c == nil || c.EventsFired == nil {
		return
	}
	c.EventsFired.WithLabelValues(kind).Inc()
}

// Serve exposes the collector on addr/metrics in the background. It returns
// nil when addr is empty.
func Serve(addr string, c *SimCollector, log logging.Logger) *http.Server {
	if addr == "" || c == nil {
		return nil
	}
	if log == nil {
		log = logging.Noop()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn(context.Background(), "metrics server exited", logging.Err(err))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
