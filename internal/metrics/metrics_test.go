package metrics

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector(t *testing.T) {
	c := NewCollector()
	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(c))

	c.TunnelTransition("start", nil)
	c.TunnelTransition("start", errors.New("boom"))
	c.TunnelTransition("stop", nil)
	c.SetActive(true)
	c.SetupFinished(time.Now().Add(-2*time.Second), nil, false)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.transitions.WithLabelValues("start", OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.transitions.WithLabelValues("start", OutcomeError)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.tunnelActive))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.hardeningUnproven))

	c.SetActive(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(c.tunnelActive))

	err := testutil.GatherAndCompare(reg, strings.NewReader(`
# HELP silo_tunnel_tunnel_active 1 while a tunnel is up, 0 otherwise.
# TYPE silo_tunnel_tunnel_active gauge
silo_tunnel_tunnel_active 0
`), "silo_tunnel_tunnel_active")
	assert.NoError(t, err)
}
