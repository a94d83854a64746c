// Validate configuration and print resolved schedule without running.
package check

import (
	"context"
	"fmt"

	"github.com/temoto/wearable/cmd/wearable/subcmd"
	"github.com/temoto/wearable/internal/config"
	"github.com/temoto/wearable/internal/state"
)

var Mod = subcmd.Mod{Name: "check", Usage: "validate config and print resolved sensors", Main: Main}

// Main runs after config was read and validated, so only prints.
func Main(ctx context.Context, cfg *config.Config) error {
	g := state.GetGlobal(ctx)
	for _, line := range Describe(cfg) {
		g.Log.Info(line)
	}
	return nil
}

func Describe(cfg *config.Config) []string {
	lines := make([]string, 0, len(cfg.Sensors)+2)
	lines = append(lines, fmt.Sprintf("scheduler workers=%d os_priority_hint=%t", cfg.Scheduler.Workers, cfg.Scheduler.OsPriorityHint))
	lines = append(lines, fmt.Sprintf("channel backend=%s capacity=%d send_timeout=%v", cfg.Channel.Backend, cfg.Channel.Capacity, cfg.SendTimeout()))
	for _, s := range cfg.Sensors {
		line := fmt.Sprintf("%s domain=%v", s.String(), s.Domain())
		if s.Kind.Composite() {
			line += fmt.Sprintf(" multiplier=%d", s.Multiplier)
		}
		if s.Drift() {
			line += fmt.Sprintf(" resync_ticks=%d drift_step=%d", s.ResyncTicks, s.DriftStep)
		}
		lines = append(lines, line)
	}
	return lines
}
