package sipgo

import "github.com/prometheus/client_golang/prometheus"

// Metrics exposes dialog-layer activity on a Prometheus registry: how many dialogs are
// currently active, how many INVITE attempts have been made, and how many
// registration refreshes have gone out. Optional - a DialogLayer/Registration built
// without WithDialogLayerMetrics/WithRegistrationMetrics simply never touches these.
type Metrics struct {
	DialogsActive       prometheus.Gauge
	InviteAttempts      prometheus.Counter
	RegistrationRefresh prometheus.Counter
}

// NewMetrics builds and registers the dialog-layer gauges/counters on reg. Passing nil
// uses prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		DialogsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sipdialog",
			Name:      "dialogs_active",
			Help:      "Number of dialogs currently tracked by the dialog layer.",
		}),
		InviteAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sipdialog",
			Name:      "invite_attempts_total",
			Help:      "Number of inbound initial INVITEs accepted for dialog creation.",
		}),
		RegistrationRefresh: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sipdialog",
			Name:      "registration_refresh_total",
			Help:      "Number of REGISTER refreshes sent.",
		}),
	}

	reg.MustRegister(m.DialogsActive, m.InviteAttempts, m.RegistrationRefresh)
	return m
}
