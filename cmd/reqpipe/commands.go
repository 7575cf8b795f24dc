package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dcshock/reqpipe/config"
	"github.com/dcshock/reqpipe/httpadapter"
	"github.com/dcshock/reqpipe/observer"
	"github.com/dcshock/reqpipe/pipeline"
)

func (a *app) httpOptions() []httpadapter.Option {
	opts := []httpadapter.Option{
		httpadapter.WithTimeout(a.settings.HTTP.Timeout),
		httpadapter.WithLogger(a.logger),
	}
	if a.settings.HTTP.Safe {
		opts = append(opts, httpadapter.WithSafeTransport())
	}
	if a.settings.Tracing.Enabled {
		opts = append(opts, httpadapter.WithTracing())
	}
	return opts
}

func (a *app) runCmd() *cobra.Command {
	var allFlag bool
	var dryRunFlag bool
	var noHistoryFlag bool

	cmd := &cobra.Command{
		Use:   "run [pipelines.yaml] [pipeline]",
		Short: "Execute a pipeline",
		Long: `Runs the named pipeline from the definition file and prints its result as JSON.

Use --all to print every stage's output instead of only the last one.
Use --dry-run to build the pipeline and print its stages without sending requests.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := config.Load(args[0])
			if err != nil {
				return err
			}

			opts := &config.BuildOptions{
				Adapter:  config.HTTPAdapter(a.httpOptions()...),
				Logger:   a.logger,
				Observer: observer.NewLogObserver(a.logger),
			}
			if a.settings.History.Enabled && !dryRunFlag && !noHistoryFlag {
				store, err := observer.Open(a.settings.History.Path)
				if err != nil {
					return fmt.Errorf("failed to open history: %w", err)
				}
				defer store.Close()
				opts.Observer = pipeline.MultiObserver(opts.Observer, store)
			}

			p, err := config.BuildPipeline(f, args[1], opts)
			if err != nil {
				return err
			}
			if dryRunFlag {
				return printPlan(cmd.OutOrStdout(), p)
			}

			var result interface{}
			if allFlag {
				result, err = p.ExecuteAll(cmd.Context())
			} else {
				result, err = p.Execute(cmd.Context())
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		},
	}

	cmd.Flags().BoolVar(&allFlag, "all", false, "print the output of every stage")
	cmd.Flags().BoolVar(&dryRunFlag, "dry-run", false, "print the stages without executing")
	cmd.Flags().BoolVar(&noHistoryFlag, "no-history", false, "do not record this run")
	return cmd
}

func (a *app) validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [pipelines.yaml]",
		Short: "Validate a pipeline definition file",
		Long:  "Builds every pipeline in the file without executing any of them.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := config.Load(args[0])
			if err != nil {
				return err
			}
			built, err := config.BuildAll(f, &config.BuildOptions{Adapter: config.HTTPAdapter(a.httpOptions()...)})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d pipelines valid: %s\n", len(built), strings.Join(f.Names(), ", "))
			return nil
		},
	}
}

func (a *app) historyCmd() *cobra.Command {
	var limitFlag int

	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "List past runs, or the stages of one run",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := observer.Open(a.settings.History.Path)
			if err != nil {
				return fmt.Errorf("failed to open history: %w", err)
			}
			defer store.Close()

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			defer w.Flush()

			if len(args) == 1 {
				if _, err := store.GetRun(cmd.Context(), args[0]); err != nil {
					return err
				}
				stages, err := store.ListStages(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(w, "STAGE\tNAME\tKIND\tSTATUS\tDURATION\tCONFIG\tERROR")
				for _, s := range stages {
					fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
						s.Index, s.Name, s.Kind, s.Status, s.Duration, s.Config, oneLine(s.Error))
				}
				return nil
			}

			runs, err := store.ListRuns(cmd.Context(), limitFlag)
			if err != nil {
				return err
			}
			fmt.Fprintln(w, "RUN ID\tPIPELINE\tSTATUS\tSTARTED\tDURATION\tERROR")
			for _, r := range runs {
				duration := "-"
				if !r.FinishedAt.IsZero() {
					duration = r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					r.ID, r.Name, r.Status, r.StartedAt.Format(time.RFC3339), duration, oneLine(r.Error))
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limitFlag, "limit", 20, "maximum number of runs to list (0 for all)")
	return cmd
}

func printPlan(w io.Writer, p *pipeline.Pipeline) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "pipeline %s\n", p.Name())
	fmt.Fprintln(tw, "STAGE\tNAME\tKIND\tCONFIG")
	for i, s := range p.Stages() {
		kind, err := pipeline.Classify(s)
		if err != nil {
			return err
		}
		var target string
		switch {
		case kind == pipeline.KindNested:
			target = "-> " + s.Request.Name()
		case isFactory(s.Config):
			target = "(computed from previous output)"
		default:
			b, err := json.Marshal(s.Config)
			if err != nil {
				target = fmt.Sprintf("%v", s.Config)
			} else {
				target = string(b)
			}
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", i, s.Name, kind, target)
	}
	return tw.Flush()
}

func isFactory(config interface{}) bool {
	switch config.(type) {
	case pipeline.ConfigFactory, func(context.Context, interface{}) (interface{}, error):
		return true
	}
	return false
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
