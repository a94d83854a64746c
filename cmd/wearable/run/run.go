// Main mode of operation: producers, channel, dispatcher and sinks until signal.
package run

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/coreos/go-systemd/daemon"
	"github.com/juju/errors"
	"github.com/temoto/wearable/cmd/wearable/subcmd"
	"github.com/temoto/wearable/internal/config"
	"github.com/temoto/wearable/internal/state"
)

var Mod = subcmd.Mod{Name: "run", Usage: "generate readings and deliver events until SIGINT/SIGTERM", Main: Main}

func Main(ctx context.Context, cfg *config.Config) error {
	g := state.GetGlobal(ctx)
	g.MustInit(ctx, cfg)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)
	go func() {
		select {
		case s := <-sigs:
			g.Log.Infof("signal=%v stopping", s)
			subcmd.SdNotify(daemon.SdNotifyStopping)
			g.Stop()
		case <-g.Alive.StopChan():
		}
	}()

	subcmd.SdNotify(daemon.SdNotifyReady)
	g.Log.Debugf("init complete sensors=%d channel=%s", len(cfg.Sensors), cfg.Channel.Backend)
	if err := g.Run(ctx); err != nil {
		return errors.Annotate(err, "run")
	}
	g.Log.Infof("stopped")
	return nil
}
