package main

import (
	"flag"
	"fmt"
	"strings"

	dslog "github.com/grafana/dskit/log"

	"github.com/grafana/morsel/pkg/engine"
	util_log "github.com/grafana/morsel/pkg/util/log"
)

// Config is the configuration of the morsel binary.
type Config struct {
	Engine engine.Config `yaml:"engine"`
	Query  QueryConfig   `yaml:"query"`

	LogLevel  dslog.Level `yaml:"log_level"`
	LogFormat string      `yaml:"log_format"`

	Explain     bool `yaml:"-"`
	PrintConfig bool `yaml:"-"`
}

func (c *Config) RegisterFlags(f *flag.FlagSet) {
	c.Engine.RegisterFlagsWithPrefix("engine.", f)
	c.Query.RegisterFlags(f)
	c.LogLevel.RegisterFlags(f)
	f.StringVar(&c.LogFormat, "log.format", util_log.FormatLogfmt, "Output log messages in the given format. Valid formats: [logfmt, json]")

	f.BoolVar(&c.Explain, "explain", false, "Print the physical plan instead of running the query.")
	f.BoolVar(&c.PrintConfig, "print-config-stderr", false, "Dump the entire config object to stderr.")
}

func (c *Config) Validate() error {
	if err := c.Engine.Validate(); err != nil {
		return fmt.Errorf("invalid engine config: %w", err)
	}
	return c.Query.Validate()
}

// QueryConfig describes the query run over the input file.
type QueryConfig struct {
	Input       string `yaml:"input"`
	InputSchema string `yaml:"input_schema"`
	Output      string `yaml:"output"`

	Where   string     `yaml:"where"`
	GroupBy stringList `yaml:"group_by"`
	Aggs    stringList `yaml:"aggregations"`
	Select  stringList `yaml:"select"`
	SortBy  stringList `yaml:"sort_by"`
	Desc    bool       `yaml:"descending"`
	Offset  int64      `yaml:"offset"`
	Limit   int64      `yaml:"limit"`

	RowIndex string `yaml:"row_index"`
}

func (c *QueryConfig) RegisterFlags(f *flag.FlagSet) {
	f.StringVar(&c.Input, "input", "", "CSV or Arrow IPC file to query. Compressed files are recognised by extension, such as .csv.gz.")
	f.StringVar(&c.InputSchema, "input.schema", "", "Schema of the input as name:type pairs, such as a:int64,b:string. Inferred from the file when empty.")
	f.StringVar(&c.Output, "output", "", "File to write the result to. The result is printed as CSV when empty.")

	f.StringVar(&c.Where, "where", "", "Keep rows matching a comparison, such as 'score >= 5'.")
	f.Var(&c.GroupBy, "group-by", "Comma-separated columns to group by.")
	f.Var(&c.Aggs, "agg", "Comma-separated aggregations, such as sum(score),count(name),len().")
	f.Var(&c.Select, "select", "Comma-separated columns to keep.")
	f.Var(&c.SortBy, "sort", "Comma-separated columns to sort by.")
	f.BoolVar(&c.Desc, "desc", false, "Sort in descending order.")
	f.Int64Var(&c.Offset, "offset", 0, "Number of rows to skip. Negative values count from the end.")
	f.Int64Var(&c.Limit, "limit", -1, "Maximum number of rows to return. Negative values return every row.")
	f.StringVar(&c.RowIndex, "row-index", "", "Name of a row number column to prepend to the result.")
}

func (c *QueryConfig) Validate() error {
	if c.Input == "" {
		return fmt.Errorf("no input given")
	}
	if len(c.Aggs) == 0 && len(c.GroupBy) > 0 {
		return fmt.Errorf("grouping requires at least one aggregation")
	}
	return nil
}

// stringList is a comma-separated flag.
type stringList []string

func (l *stringList) String() string { return strings.Join(*l, ",") }

func (l *stringList) Set(s string) error {
	*l = nil
	for _, v := range splitTopLevel(s) {
		if v = strings.TrimSpace(v); v != "" {
			*l = append(*l, v)
		}
	}
	return nil
}

// splitTopLevel splits s at commas outside of parentheses.
func splitTopLevel(s string) []string {
	var (
		parts []string
		depth int
		start int
	)
	for i, r := range s {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	return append(parts, s[start:])
}
