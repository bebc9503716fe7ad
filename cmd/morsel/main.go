// Command morsel runs a query over a CSV or Arrow IPC file on the streaming
// engine.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/csv"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/grafana/morsel/pkg/cfg"
	"github.com/grafana/morsel/pkg/engine"
	util_log "github.com/grafana/morsel/pkg/util/log"
)

func main() {
	var config Config
	if err := cfg.Parse(&config, flag.CommandLine, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "failed parsing config: %v\n", err)
		os.Exit(1)
	}

	logger, err := util_log.NewLogger(os.Stderr, config.LogFormat, config.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed creating logger: %v\n", err)
		os.Exit(1)
	}

	// Validate the config once both the config file has been loaded
	// and CLI flags parsed.
	if err := config.Validate(); err != nil {
		level.Error(logger).Log("msg", "validating config", "err", err.Error())
		os.Exit(1)
	}

	if config.PrintConfig {
		if err := yaml.NewEncoder(os.Stderr).Encode(&config); err != nil {
			level.Error(logger).Log("msg", "failed to print config to stderr", "err", err.Error())
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, logger, config, afero.NewOsFs(), os.Stdout); err != nil {
		level.Error(logger).Log("msg", "query failed", "err", err)
		os.Exit(1)
	}
}

// run executes the configured query. Results that are not written to a file
// are printed to w as CSV.
func run(ctx context.Context, logger log.Logger, config Config, fs afero.Fs, w io.Writer) error {
	e, err := engine.New(engine.Params{
		Logger:     logger,
		Registerer: prometheus.NewRegistry(),
		Config:     config.Engine,
		Fs:         fs,
	})
	if err != nil {
		return fmt.Errorf("creating engine: %w", err)
	}

	plan, root, err := buildPlan(config.Query, fs)
	if err != nil {
		return fmt.Errorf("building plan: %w", err)
	}

	if config.Explain {
		out, err := e.Explain(plan, root)
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, out)
		return err
	}

	res, err := e.Execute(ctx, plan, root)
	if err != nil {
		return err
	}
	defer res.Release()

	if df, ok := res.Frames[root]; ok {
		return writeCSV(w, df)
	}
	return nil
}

func writeCSV(w io.Writer, df arrow.Record) error {
	cw := csv.NewWriter(w, df.Schema(), csv.WithHeader(true), csv.WithNullWriter(""))
	if err := cw.Write(df); err != nil {
		return err
	}
	return cw.Flush()
}
