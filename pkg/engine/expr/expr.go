// Package expr defines the expressions operators evaluate against frames and
// the evaluator interface used to run them.
package expr

import (
	"fmt"
	"strings"
	"time"
)

// Expr is a resolved expression. The set of implementations is closed.
type Expr interface {
	isExpr()
	String() string
}

// Column references an input column by name.
type Column struct {
	Name string
}

// Literal is a constant broadcast to the length of the input. Supported values
// are nil, bool, int64, float64, string and time.Time.
type Literal struct {
	Value any
}

// Binary applies Op to the results of Left and Right.
type Binary struct {
	Op    BinOpKind
	Left  Expr
	Right Expr
}

// Unary applies Op to the result of Value.
type Unary struct {
	Op    UnaryOpKind
	Value Expr
}

// Alias renames the output of Expr.
type Alias struct {
	Expr Expr
	Name string
}

// Agg reduces Input to one value per group. It is only valid in reductions
// and group-bys. Input is nil for [AggKindLen].
type Agg struct {
	Kind  AggKind
	Input Expr
}

func (*Column) isExpr()  {}
func (*Literal) isExpr() {}
func (*Binary) isExpr()  {}
func (*Unary) isExpr()   {}
func (*Alias) isExpr()   {}
func (*Agg) isExpr()     {}

func (e *Column) String() string { return e.Name }

func (e *Literal) String() string {
	switch v := e.Value.(type) {
	case nil:
		return "lit(null)"
	case string:
		return fmt.Sprintf("lit(%q)", v)
	case time.Time:
		return fmt.Sprintf("lit(%s)", v.UTC().Format(time.RFC3339Nano))
	default:
		return fmt.Sprintf("lit(%v)", v)
	}
}

func (e *Binary) String() string {
	return fmt.Sprintf("%s(%s, %s)", e.Op, e.Left, e.Right)
}

func (e *Unary) String() string { return fmt.Sprintf("%s(%s)", e.Op, e.Value) }

func (e *Alias) String() string { return fmt.Sprintf("%s AS %s", e.Expr, e.Name) }

func (e *Agg) String() string {
	if e.Input == nil {
		return e.Kind.String() + "()"
	}
	return fmt.Sprintf("%s(%s)", e.Kind, e.Input)
}

// Col returns a column reference.
func Col(name string) *Column { return &Column{Name: name} }

// Lit returns a literal, normalizing Go integer and float widths.
func Lit(v any) *Literal {
	switch x := v.(type) {
	case int:
		v = int64(x)
	case int32:
		v = int64(x)
	case uint32:
		v = int64(x)
	case float32:
		v = float64(x)
	}
	return &Literal{Value: v}
}

// BinOp returns a binary expression.
func BinOp(left Expr, op BinOpKind, right Expr) *Binary {
	return &Binary{Op: op, Left: left, Right: right}
}

func Not(e Expr) *Unary { return &Unary{Op: UnaryOpKindNot, Value: e} }
func Neg(e Expr) *Unary { return &Unary{Op: UnaryOpKindNeg, Value: e} }

// As renames e.
func As(e Expr, name string) *Alias { return &Alias{Expr: e, Name: name} }

func Sum(e Expr) *Agg   { return &Agg{Kind: AggKindSum, Input: e} }
func Min(e Expr) *Agg   { return &Agg{Kind: AggKindMin, Input: e} }
func Max(e Expr) *Agg   { return &Agg{Kind: AggKindMax, Input: e} }
func Count(e Expr) *Agg { return &Agg{Kind: AggKindCount, Input: e} }
func Mean(e Expr) *Agg  { return &Agg{Kind: AggKindMean, Input: e} }
func First(e Expr) *Agg { return &Agg{Kind: AggKindFirst, Input: e} }
func Last(e Expr) *Agg  { return &Agg{Kind: AggKindLast, Input: e} }
func Len() *Agg         { return &Agg{Kind: AggKindLen} }

// OutputName returns the name of the column e produces.
func OutputName(e Expr) string {
	switch e := e.(type) {
	case *Column:
		return e.Name
	case *Literal:
		return "literal"
	case *Binary:
		return OutputName(e.Left)
	case *Unary:
		return OutputName(e.Value)
	case *Alias:
		return e.Name
	case *Agg:
		if e.Input == nil {
			return "len"
		}
		return OutputName(e.Input)
	default:
		return ""
	}
}

// Columns returns the names of all columns referenced by e, in order of first
// appearance.
func Columns(e Expr) []string {
	var (
		out  []string
		seen = map[string]struct{}{}
	)
	Walk(e, func(e Expr) {
		if c, ok := e.(*Column); ok {
			if _, ok := seen[c.Name]; !ok {
				seen[c.Name] = struct{}{}
				out = append(out, c.Name)
			}
		}
	})
	return out
}

// Walk calls f for e and every sub-expression of e in pre-order.
func Walk(e Expr, f func(Expr)) {
	if e == nil {
		return
	}
	f(e)
	switch e := e.(type) {
	case *Binary:
		Walk(e.Left, f)
		Walk(e.Right, f)
	case *Unary:
		Walk(e.Value, f)
	case *Alias:
		Walk(e.Expr, f)
	case *Agg:
		Walk(e.Input, f)
	}
}

// IsInputIndependent reports whether e can be evaluated without any input
// columns.
func IsInputIndependent(e Expr) bool {
	independent := true
	Walk(e, func(e Expr) {
		switch e.(type) {
		case *Column, *Agg:
			independent = false
		}
	})
	return independent
}

// IsColumn reports whether e is a bare or renamed column reference.
func IsColumn(e Expr) bool {
	switch e := e.(type) {
	case *Column:
		return true
	case *Alias:
		_, ok := e.Expr.(*Column)
		return ok
	default:
		return false
	}
}

// ContainsAgg reports whether e contains an aggregation.
func ContainsAgg(e Expr) bool {
	found := false
	Walk(e, func(e Expr) {
		if _, ok := e.(*Agg); ok {
			found = true
		}
	})
	return found
}

// Join formats a list of expressions for plan printing.
func Join(exprs []Expr) string {
	parts := make([]string, len(exprs))
	for i, e := range exprs {
		parts[i] = e.String()
	}
	return strings.Join(parts, ", ")
}
