// Sorry, workaround to import cycles.
package state_new

import (
	"context"
	"os"
	"testing"

	"github.com/temoto/wearable/internal/config"
	"github.com/temoto/wearable/internal/sink"
	"github.com/temoto/wearable/internal/state"
	"github.com/temoto/wearable/log2"
)

func NewContext(log *log2.Log) (context.Context, *state.Global) {
	if log == nil {
		panic("code error NewContext() log=nil")
	}

	g := state.NewGlobal(log)
	ctx := context.Background()
	ctx = context.WithValue(ctx, state.ContextKey, g)

	return ctx, g
}

// NewTestContext reads confString over defaults and runs Init.
// Nil s keeps sinks from config.
func NewTestContext(t testing.TB, confString string, s sink.Sink) (context.Context, *state.Global) {
	fs := config.NewMockFullReader(map[string]string{
		"test-inline": confString,
	})

	var log *log2.Log
	if os.Getenv("wearable_test_log_stderr") == "1" {
		log = log2.NewStderr(log2.LDebug) // useful with panics
	} else {
		log = log2.NewTest(t, log2.LDebug)
	}
	log.SetFlags(log2.LTestFlags)
	ctx, g := NewContext(log)
	g.BuildVersion = "test"
	g.Sink = s
	cfg, err := config.ReadConfig(log, fs, "test-inline")
	if err != nil {
		t.Fatal(err)
	}
	if err = g.Init(ctx, cfg); err != nil {
		t.Fatal(err)
	}
	return ctx, g
}
