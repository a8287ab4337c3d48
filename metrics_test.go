package sipgo

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestNewMetricsRegistersAndTracks(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.DialogsActive.Inc()
	m.InviteAttempts.Inc()
	m.RegistrationRefresh.Inc()

	mfs, err := reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, mfs)

	found := map[string]float64{}
	for _, mf := range mfs {
		for _, metric := range mf.GetMetric() {
			var v float64
			switch {
			case metric.GetGauge() != nil:
				v = metric.GetGauge().GetValue()
			case metric.GetCounter() != nil:
				v = metric.GetCounter().GetValue()
			}
			found[mf.GetName()] = v
		}
	}

	require.Equal(t, float64(1), found["sipdialog_dialogs_active"])
	require.Equal(t, float64(1), found["sipdialog_invite_attempts_total"])
	require.Equal(t, float64(1), found["sipdialog_registration_refresh_total"])
}
