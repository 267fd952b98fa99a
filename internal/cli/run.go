package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Paintersrp/procgroup"
	"github.com/Paintersrp/procgroup/internal/config"
	"github.com/Paintersrp/procgroup/internal/metrics"
	"github.com/Paintersrp/procgroup/internal/probe"
)

func newRunCmd(s *settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the primary and fork the workers of a manifest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := config.Load(s.manifestPath())
			if err != nil {
				return err
			}
			logger := s.logger(cmd)
			opts, _, err := buildOptions(doc, s.metricsAddr(), logger)
			if err != nil {
				return err
			}
			return procgroup.Run(cmd.Context(), opts)
		},
	}
	return cmd
}

// buildOptions turns a manifest into command-backed group options. Every
// process of the group builds the same options from the same manifest. The
// returned tracker is fed by OnEvent in the primary.
func buildOptions(doc *config.Group, metricsAddr string, logger *slog.Logger) (procgroup.Options, *statusTracker, error) {
	version, _ := metrics.BuildVersion()
	tracker := newStatusTracker(version)

	opts := procgroup.Options{
		Grace:               doc.Grace.Duration,
		StopWhenWorkersExit: doc.StopWhenWorkersExit,
		Logger:              logger,
		OnEvent:             tracker.Apply,
	}

	var listen []string
	if doc.Primary != nil {
		listen = doc.Primary.Listen
	}

	primary := &primaryHooks{
		spec:        doc.Primary,
		workdir:     doc.Workdir,
		metricsAddr: metricsAddr,
		tracker:     tracker,
		logger:      logger,
	}
	opts.Primary = &procgroup.Primary{Start: primary.Start, Stop: primary.Stop}

	index := 0
	for i, w := range doc.Workers {
		sig, err := config.ParseSignal(w.StopSignal)
		if err != nil {
			return procgroup.Options{}, nil, fmt.Errorf("workers[%d].stopSignal: %w", i, err)
		}
		prober, err := probe.New(w.Ready)
		if err != nil {
			return procgroup.Options{}, nil, fmt.Errorf("workers[%d].ready: %w", i, err)
		}
		hooks := &workerHooks{
			spec:   w,
			signal: sig,
			prober: prober,
			listen: listen,
			logger: logger,
		}
		opts.Workers = append(opts.Workers, procgroup.Worker{
			Name:               w.Name,
			Start:              hooks.Start,
			Stop:               hooks.Stop,
			Type:               procgroup.WorkerType(w.Type),
			Count:              w.Count,
			StartupTimeout:     w.StartupTimeout.Duration,
			KillAfterCompleted: w.KillAfterCompleted,
		})
		for n := 0; n < w.Count; n++ {
			tracker.Declare(w.Name, index, w.Type)
			index++
		}
	}
	return opts, tracker, nil
}
