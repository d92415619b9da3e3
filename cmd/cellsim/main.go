// Command cellsim is a thin host around the simulation core: it loads a
// pacing protocol from YAML, runs the shipped Beeler-Reuter cell model, and
// prints or plots the logged trace. It intentionally does none of the
// numerical work itself — see internal/driver, internal/ivp and
// internal/model for that — mirroring the teacher's own split between
// cmd/dynsim and its internal packages.
package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/guptarohit/asciigraph"
	"github.com/spf13/cobra"

	"github.com/myokit/beta/internal/driver"
	"github.com/myokit/beta/internal/logging"
	"github.com/myokit/beta/internal/model"
	"github.com/myokit/beta/internal/pacing"
)

var (
	configFile string
	outFile    string
	fps        int
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "cellsim",
		Short: "cardiac cell action-potential simulator",
	}
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "protocol config file (yaml)")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "run the protocol to completion and plot membrane.V",
		RunE:  runOnce,
	}
	runCmd.Flags().StringVar(&outFile, "out", "", "write the logged trace to this CSV file")

	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "run the protocol with a live terminal view",
		RunE:  runWatch,
	}
	watchCmd.Flags().IntVar(&fps, "fps", 30, "UI refresh rate")

	varsCmd := &cobra.Command{
		Use:   "vars",
		Short: "list variable names loggable via a log_descriptor",
		RunE:  listVars,
	}

	rootCmd.AddCommand(runCmd, watchCmd, varsCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*Config, error) {
	if configFile == "" {
		return DefaultConfig(), nil
	}
	return LoadConfig(configFile)
}

func stimulusProtocol(cfg *Config) driver.Protocol {
	return driver.Protocol{
		Kind: driver.ProtocolEvent,
		Events: []pacing.EventRecord{
			{
				Start:      cfg.Stimulus.Start,
				Duration:   cfg.Stimulus.Duration,
				Period:     cfg.Stimulus.Period,
				Multiplier: cfg.Stimulus.Multiplier,
				Level:      cfg.Stimulus.Level,
			},
		},
	}
}

func buildOptions(cfg *Config, sub *logging.Substrate) driver.Options {
	def := model.BeelerReuter()
	return driver.Options{
		Definition:    def,
		TMin:          0,
		TMax:          cfg.TMax,
		State:         append([]float64(nil), def.DefaultStates...),
		Literals:      cfg.literals(def),
		Parameters:    cfg.parameters(def),
		Protocols:     []driver.Protocol{stimulusProtocol(cfg)},
		LogDescriptor: map[string]model.Sink{"engine.time": sub.Bind("engine.time"), "membrane.V": sub.Bind("membrane.V")},
		LogInterval:   cfg.LogInterval,
		AbsTol:        cfg.AbsTol,
		RelTol:        cfg.RelTol,
		MaxStepSize:   cfg.MaxStepSize,
	}
}

func runOnce(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	sub := logging.NewSubstrate()
	opts := buildOptions(cfg, sub)

	ctx := driver.New()
	if err := ctx.Init(opts); err != nil {
		return err
	}
	defer ctx.Clean()

	fmt.Printf("running beeler_reuter_1977 to t=%.1fms...\n", cfg.TMax)
	start := time.Now()
	if err := ctx.Run(context.Background(), 0, nil); err != nil {
		return err
	}
	elapsed := time.Since(start)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "elapsed\t%v\n", elapsed)
	fmt.Fprintf(w, "steps\t%d\n", ctx.NumberOfSteps())
	fmt.Fprintf(w, "evaluations\t%d\n", ctx.NumberOfEvaluations())
	w.Flush()

	v := sub.Column("membrane.V")
	if len(v) > 1 {
		graph := asciigraph.Plot(v, asciigraph.Height(12), asciigraph.Width(80), asciigraph.Caption("membrane.V (mV)"))
		fmt.Println()
		fmt.Println(graph)
	}

	if outFile != "" {
		f, err := os.Create(outFile)
		if err != nil {
			return err
		}
		defer f.Close()
		if err := sub.WriteCSV(f); err != nil {
			return err
		}
		fmt.Printf("\nwrote %s\n", outFile)
	}
	return nil
}

func listVars(cmd *cobra.Command, args []string) error {
	def := model.BeelerReuter()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CLASS\tNAME")
	for _, n := range def.StateNames {
		fmt.Fprintf(w, "state\t%s\n", n)
	}
	for _, n := range def.StateNames {
		fmt.Fprintf(w, "derivative\tdot(%s)\n", n)
	}
	for _, n := range def.IntermediaryNames {
		fmt.Fprintf(w, "intermediary\t%s\n", n)
	}
	for _, n := range def.LiteralNames {
		fmt.Fprintf(w, "literal\t%s\n", n)
	}
	for _, n := range def.ParameterNames {
		fmt.Fprintf(w, "parameter\t%s\n", n)
	}
	fmt.Fprintln(w, "bound\tengine.time")
	fmt.Fprintln(w, "bound\tengine.realtime")
	fmt.Fprintln(w, "bound\tengine.evaluations")
	fmt.Fprintln(w, "bound\tengine.pace")
	return w.Flush()
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	m := newWatchModel(cfg, fps)
	p := tea.NewProgram(m)
	_, err = p.Run()
	return err
}
