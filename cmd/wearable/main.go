package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/juju/errors"
	"github.com/mattn/go-isatty"
	"github.com/temoto/wearable/cmd/wearable/check"
	"github.com/temoto/wearable/cmd/wearable/decode"
	"github.com/temoto/wearable/cmd/wearable/monitor"
	"github.com/temoto/wearable/cmd/wearable/run"
	"github.com/temoto/wearable/cmd/wearable/subcmd"
	"github.com/temoto/wearable/internal/config"
	state_new "github.com/temoto/wearable/internal/state/new"
	"github.com/temoto/wearable/log2"
)

var log = log2.NewStderr(log2.LDebug)

var BuildVersion string = "unknown" // set by ldflags -X

var modules = []subcmd.Mod{
	run.Mod,
	check.Mod,
	decode.Mod,
	monitor.Mod,
}

func main() {
	flagset := flag.NewFlagSet("wearable", flag.ContinueOnError)
	flagConfig := flagset.String("config", "wearable.hcl", "")
	flagset.Usage = func() {
		fmt.Fprintf(flagset.Output(), "Usage: wearable [options] command\nOptions:\n")
		flagset.PrintDefaults()
		fmt.Fprintf(flagset.Output(), "Commands:\n")
		for _, m := range modules {
			fmt.Fprintf(flagset.Output(), "  %-10s %s\n", m.Name, m.Usage)
		}
	}
	if err := flagset.Parse(os.Args[1:]); err != nil {
		if err == flag.ErrHelp {
			os.Exit(0)
		}
		log.Fatal(err)
	}

	mod, err := subcmd.Parse(flagset.Arg(0), modules)
	if err != nil {
		flagset.Usage()
		log.Fatal(err)
	}

	if subcmd.SdNotify("start") {
		// under systemd, assume journal logging, remove timestamp
		log.SetFlags(log2.LServiceFlags)
	} else if isatty.IsTerminal(os.Stderr.Fd()) {
		log.SetFlags(log2.LInteractiveFlags)
	}

	cfg := config.MustReadConfig(log, config.NewOsFullReader(), *flagConfig)
	if cfg.Log.File != "" {
		var closer io.Closer
		log, closer = log2.NewFile(log2.FileOptions{
			Path:       cfg.Log.File,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
		}, log2.LDebug)
		log.SetFlags(log2.LInteractiveFlags)
		defer closer.Close()
	}
	log.Debugf("wearable version=%s starting command=%s", BuildVersion, mod.Name)

	ctx, g := state_new.NewContext(log)
	g.BuildVersion = BuildVersion
	if err := mod.Main(ctx, cfg); err != nil {
		g.Fatal(errors.Annotatef(err, "command=%s", mod.Name))
	}
}
