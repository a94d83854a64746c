package check_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/wearable/cmd/wearable/check"
	"github.com/temoto/wearable/internal/config"
	"github.com/temoto/wearable/log2"
)

func TestDescribe(t *testing.T) {
	t.Parallel()

	cfg, err := config.ReadConfig(log2.NewTest(t, log2.LDebug), config.NewMockFullReader(nil))
	require.NoError(t, err)
	lines := check.Describe(cfg)
	require.Len(t, lines, 7)
	assert.Equal(t, "scheduler workers=1 os_priority_hint=false", lines[0])
	assert.Equal(t, "channel backend=memory capacity=64 send_timeout=500ms", lines[1])
	assert.Equal(t, "sensor=heart_rate priority=9 period=1s domain=[[22,238]] resync_ticks=20 drift_step=2", lines[2])
	assert.Equal(t, "sensor=blood_pressure priority=8 period=5s domain=[[90,200] [60,140]] multiplier=1000", lines[3])
	assert.Equal(t, "sensor=gps priority=5 period=30s domain=[[1,999] [1,999]] multiplier=10000", lines[6])
}
