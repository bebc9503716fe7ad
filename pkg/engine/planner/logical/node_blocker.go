package logical

import (
	"fmt"
	"strings"

	"github.com/grafana/morsel/pkg/engine/expr"
)

// Sort orders its input by a list of key expressions. Descending and
// NullsLast are per key; missing entries default to false. Nulls sort first
// unless NullsLast is set, regardless of direction.
type Sort struct {
	Input      NodeKey
	By         []expr.Expr
	Descending []bool
	NullsLast  []bool
}

var _ Node = (*Sort)(nil)

func (s *Sort) Inputs() []NodeKey { return []NodeKey{s.Input} }

func (s *Sort) String() string {
	return fmt.Sprintf("SORT %s [by=(%s), descending=%v, nulls_last=%v]", s.Input, expr.Join(s.By), s.Descending, s.NullsLast)
}

func (s *Sort) isNode() {}

// GroupBy aggregates its input per distinct value of Keys. Every entry of
// Aggs must be an aggregation, optionally renamed. Without keys the whole
// input forms a single group.
type GroupBy struct {
	Input NodeKey
	Keys  []expr.Expr
	Aggs  []expr.Expr
}

var _ Node = (*GroupBy)(nil)

func (g *GroupBy) Inputs() []NodeKey { return []NodeKey{g.Input} }

func (g *GroupBy) String() string {
	return fmt.Sprintf("GROUP_BY %s [keys=(%s), aggs=(%s)]", g.Input, expr.Join(g.Keys), expr.Join(g.Aggs))
}

func (g *GroupBy) isNode() {}

// Union concatenates its inputs vertically, in input order. All inputs must
// share a schema.
type Union struct {
	Sources []NodeKey
}

var _ Node = (*Union)(nil)

func (u *Union) Inputs() []NodeKey { return u.Sources }

func (u *Union) String() string { return fmt.Sprintf("UNION [inputs=(%s)]", joinKeys(u.Sources)) }

func (u *Union) isNode() {}

// HConcat concatenates its inputs horizontally. Column names must be unique
// across inputs. Inputs must have the same length unless NullExtend is set,
// in which case shorter inputs are padded with nulls.
type HConcat struct {
	Sources    []NodeKey
	NullExtend bool
}

var _ Node = (*HConcat)(nil)

func (h *HConcat) Inputs() []NodeKey { return h.Sources }

func (h *HConcat) String() string {
	return fmt.Sprintf("HCONCAT [inputs=(%s), null_extend=%t]", joinKeys(h.Sources), h.NullExtend)
}

func (h *HConcat) isNode() {}

// Join joins Left with Right.
type Join struct {
	Left, Right NodeKey
	Options     JoinOptions
}

var _ Node = (*Join)(nil)

func (j *Join) Inputs() []NodeKey { return []NodeKey{j.Left, j.Right} }

func (j *Join) String() string {
	return fmt.Sprintf("JOIN %s %s [type=%s, left_on=%v, right_on=%v]", j.Left, j.Right, j.Options.Type, j.Options.LeftOn, j.Options.RightOn)
}

func (j *Join) isNode() {}

func joinKeys(keys []NodeKey) string {
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k.String()
	}
	return strings.Join(parts, ", ")
}
