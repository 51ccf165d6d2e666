package lifecycle

import "github.com/prometheus/client_golang/prometheus"

var (
	engineState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "stillreel_engine_state",
			Help: "Current engine load state; the active state is 1, all others 0.",
		},
		[]string{"state"},
	)

	engineLoadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stillreel_engine_loads_total",
			Help: "Total number of engine initialization attempts by result.",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(engineState)
	prometheus.MustRegister(engineLoadsTotal)

	for s := range stateNames {
		engineState.WithLabelValues(State(s).String())
	}
	engineLoadsTotal.WithLabelValues("success")
	engineLoadsTotal.WithLabelValues("failure")
}

func observeState(s State) {
	for i := range stateNames {
		v := 0.0
		if State(i) == s {
			v = 1
		}
		engineState.WithLabelValues(State(i).String()).Set(v)
	}
}
