package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/spf13/afero"

	"github.com/grafana/morsel/pkg/engine"
	"github.com/grafana/morsel/pkg/engine/expr"
	"github.com/grafana/morsel/pkg/engine/planner/logical"
)

// buildPlan returns the plan of the query described by cfg. Without an
// output file the root is not a sink and its result is collected in memory.
func buildPlan(cfg QueryConfig, fs afero.Fs) (*logical.Plan, logical.NodeKey, error) {
	format, err := logical.FileFormatFromPath(cfg.Input)
	if err != nil {
		return nil, 0, err
	}
	schema, err := inputSchema(cfg, fs, format)
	if err != nil {
		return nil, 0, err
	}

	plan := logical.NewPlan()
	key, err := plan.Add(&logical.FileScan{Path: cfg.Input, Format: format, Schema: schema})
	if err != nil {
		return nil, 0, err
	}
	add := func(n logical.Node) error {
		k, err := plan.Add(n)
		if err != nil {
			return err
		}
		key = k
		return nil
	}

	if cfg.Where != "" {
		pred, err := parsePredicate(cfg.Where)
		if err != nil {
			return nil, 0, err
		}
		if err := add(&logical.Filter{Input: key, Predicate: pred}); err != nil {
			return nil, 0, err
		}
	}

	if len(cfg.Aggs) > 0 {
		aggs := make([]expr.Expr, 0, len(cfg.Aggs))
		for _, s := range cfg.Aggs {
			agg, err := parseAgg(s)
			if err != nil {
				return nil, 0, err
			}
			aggs = append(aggs, agg)
		}
		if err := add(&logical.GroupBy{Input: key, Keys: columns(cfg.GroupBy), Aggs: aggs}); err != nil {
			return nil, 0, err
		}
	}

	if len(cfg.Select) > 0 {
		if err := add(&logical.Select{Input: key, Exprs: columns(cfg.Select)}); err != nil {
			return nil, 0, err
		}
	}

	if len(cfg.SortBy) > 0 {
		desc := make([]bool, len(cfg.SortBy))
		for i := range desc {
			desc[i] = cfg.Desc
		}
		if err := add(&logical.Sort{Input: key, By: columns(cfg.SortBy), Descending: desc}); err != nil {
			return nil, 0, err
		}
	}

	if cfg.Offset != 0 || cfg.Limit >= 0 {
		length := cfg.Limit
		if length < 0 {
			length = int64(^uint64(0) >> 1)
		}
		if err := add(&logical.Slice{Input: key, Offset: cfg.Offset, Length: length}); err != nil {
			return nil, 0, err
		}
	}

	if cfg.RowIndex != "" {
		if err := add(&logical.RowIndex{Input: key, Name: cfg.RowIndex}); err != nil {
			return nil, 0, err
		}
	}

	if cfg.Output != "" {
		format, err := logical.FileFormatFromPath(cfg.Output)
		if err != nil {
			return nil, 0, err
		}
		if err := add(&logical.Sink{Input: key, Kind: logical.SinkFile, Path: cfg.Output, Format: format}); err != nil {
			return nil, 0, err
		}
	}
	return plan, key, nil
}

func inputSchema(cfg QueryConfig, fs afero.Fs, format logical.FileFormat) (*arrow.Schema, error) {
	if cfg.InputSchema != "" {
		return engine.ParseSchema(cfg.InputSchema)
	}
	return engine.InferSchema(fs, cfg.Input, format)
}

func columns(names []string) []expr.Expr {
	out := make([]expr.Expr, len(names))
	for i, name := range names {
		out[i] = expr.Col(name)
	}
	return out
}

var comparisons = []struct {
	token string
	op    expr.BinOpKind
}{
	// Two-character operators first.
	{">=", expr.BinOpKindGte},
	{"<=", expr.BinOpKindLte},
	{"!=", expr.BinOpKindNeq},
	{"==", expr.BinOpKindEq},
	{">", expr.BinOpKindGt},
	{"<", expr.BinOpKindLt},
	{"=", expr.BinOpKindEq},
}

// parsePredicate parses "column op value".
func parsePredicate(s string) (expr.Expr, error) {
	for _, c := range comparisons {
		col, value, ok := strings.Cut(s, c.token)
		if !ok {
			continue
		}
		col = strings.TrimSpace(col)
		if col == "" {
			break
		}
		return expr.BinOp(expr.Col(col), c.op, parseLiteral(strings.TrimSpace(value))), nil
	}
	return nil, fmt.Errorf("invalid predicate %q, expected 'column op value'", s)
}

func parseLiteral(s string) *expr.Literal {
	if unquoted, err := strconv.Unquote(s); err == nil {
		return expr.Lit(unquoted)
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return expr.Lit(i)
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return expr.Lit(f)
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return expr.Lit(b)
	}
	return expr.Lit(s)
}

var aggregations = map[string]func(expr.Expr) *expr.Agg{
	"sum":   expr.Sum,
	"min":   expr.Min,
	"max":   expr.Max,
	"count": expr.Count,
	"mean":  expr.Mean,
	"first": expr.First,
	"last":  expr.Last,
}

// parseAgg parses "fn(column)" or "len()". The output column is named
// fn_column, or len.
func parseAgg(s string) (expr.Expr, error) {
	name, rest, ok := strings.Cut(s, "(")
	if !ok || !strings.HasSuffix(rest, ")") {
		return nil, fmt.Errorf("invalid aggregation %q, expected fn(column)", s)
	}
	name = strings.ToLower(strings.TrimSpace(name))
	col := strings.TrimSpace(strings.TrimSuffix(rest, ")"))

	if name == "len" {
		if col != "" {
			return nil, fmt.Errorf("len takes no column, got %q", s)
		}
		return expr.As(expr.Len(), "len"), nil
	}
	fn, ok := aggregations[name]
	if !ok {
		return nil, fmt.Errorf("unknown aggregation %q", name)
	}
	if col == "" {
		return nil, fmt.Errorf("aggregation %q needs a column", s)
	}
	return expr.As(fn(expr.Col(col)), name+"_"+col), nil
}
