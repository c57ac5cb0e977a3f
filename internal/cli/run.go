package cli

// Pipeline commands.
//
// Commands:
//   triage run [--signals <file>] [--follow]
//   triage once [--signals <file>]

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kubilitics/kubilitics-triage/internal/memory/incident"
	"github.com/kubilitics/kubilitics-triage/internal/observe"
)

func newRunCmd(a *app) *cobra.Command {
	var (
		signals string
		follow  bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the triage pipeline on every interval until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rt, err := a.open(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			if signals != "" {
				rt.cfg.Pipeline.SignalsPath = signals
			}
			runner, layer, err := rt.pipeline(observe.NewFileSource(rt.cfg.Pipeline.SignalsPath))
			if err != nil {
				return err
			}
			go layer.Follow(ctx, rt.mgr.Watch(ctx))

			if follow {
				streamCtx, cancelStream := context.WithCancel(ctx)
				done := streamIncidents(streamCtx, rt.store, a.stdout)
				defer func() {
					cancelStream()
					<-done
				}()
			}
			return runner.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&signals, "signals", "", "signals file to poll (overrides pipeline.signals_path)")
	cmd.Flags().BoolVar(&follow, "follow", false, "print each recorded incident as a JSON line")
	return cmd
}

// streamIncidents writes every newly appended incident to out until ctx is
// done. The returned channel closes once the stream has stopped.
func streamIncidents(ctx context.Context, store incident.Store, out io.Writer) <-chan struct{} {
	ch, cancel := store.Subscribe(16)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer cancel()
		enc := json.NewEncoder(out)
		for {
			select {
			case <-ctx.Done():
				return
			case inc, ok := <-ch:
				if !ok {
					return
				}
				_ = enc.Encode(&inc)
			}
		}
	}()
	return done
}

func newOnceCmd(a *app) *cobra.Command {
	var signals string
	cmd := &cobra.Command{
		Use:   "once",
		Short: "Run a single pipeline pass and print the recorded incident",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			rt, err := a.open(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			if signals != "" {
				rt.cfg.Pipeline.SignalsPath = signals
			}
			obs, err := observe.NewFileSource(rt.cfg.Pipeline.SignalsPath).Next(ctx)
			if err != nil {
				return fmt.Errorf("read observation: %w", err)
			}
			runner, _, err := rt.pipeline(observe.StaticSource{Observation: *obs})
			if err != nil {
				return err
			}

			inc, err := runner.RunOnce(ctx, obs)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(a.stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(inc)
		},
	}
	cmd.Flags().StringVar(&signals, "signals", "", "signals file to read (overrides pipeline.signals_path)")
	return cmd
}
