package metrics

import (
	"net/http"

	"investments/internal/interest"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "investments"

// CacheStats is what the profile cache exposes to the collectors.
type CacheStats interface {
	Len() int
	LoadFailures() uint64
	SaveFailures() uint64
}

// Metrics owns a private registry so several instances can coexist in tests.
type Metrics struct {
	reg *prometheus.Registry

	ticks        prometheus.Counter
	tickDuration prometheus.Histogram
	accrued      prometheus.Counter
	inactive     prometheus.Counter
	interest     prometheus.Counter
	collected    prometheus.Counter
	requests     *prometheus.CounterVec
}

func New(cache CacheStats) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	m := &Metrics{
		reg: reg,
		ticks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Accrual passes completed",
		}),
		tickDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Duration of accrual passes",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5, 30},
		}),
		accrued: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "profiles_accrued_total",
			Help:      "Profiles that earned interest in a pass",
		}),
		inactive: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "profiles_inactive_total",
			Help:      "Profiles skipped because the account was inactive",
		}),
		interest: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "interest_paid_total",
			Help:      "Interest added to profits, in currency units",
		}),
		collected: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "autocollected_total",
			Help:      "Profit swept to wallets by auto-collect, in currency units",
		}),
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_total",
			Help:      "Player and admin actions by name and outcome",
		}, []string{"action", "outcome"}),
	}

	if cache != nil {
		f.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "profiles_cached",
			Help:      "Profiles held in memory",
		}, func() float64 { return float64(cache.Len()) })
		f.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "profile_load_failures_total",
			Help:      "Gateway loads that fell back to an empty profile",
		}, func() float64 { return float64(cache.LoadFailures()) })
		f.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "profile_save_failures_total",
			Help:      "Gateway saves that failed",
		}, func() float64 { return float64(cache.SaveFailures()) })
	}
	return m
}

func (m *Metrics) ObserveTick(r interest.TickReport) {
	m.ticks.Inc()
	m.tickDuration.Observe(r.Duration.Seconds())
	m.accrued.Add(float64(r.Accrued))
	m.inactive.Add(float64(r.Inactive))
	m.interest.Add(r.Earned.InexactFloat64())
	m.collected.Add(r.Collected.InexactFloat64())
}

func (m *Metrics) ObserveAction(action string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.requests.WithLabelValues(action, outcome).Inc()
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }
