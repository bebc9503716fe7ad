package expr

import "fmt"

// UnaryOpKind denotes the kind of [Unary] operation to perform.
type UnaryOpKind int

// Recognized values of [UnaryOpKind].
const (
	// UnaryOpKindInvalid indicates an invalid unary operation.
	UnaryOpKindInvalid UnaryOpKind = iota

	UnaryOpKindNot // Logical NOT operation (!).
	UnaryOpKindNeg // Arithmetic negation (-).
)

var unaryOpKindStrings = map[UnaryOpKind]string{
	UnaryOpKindInvalid: "invalid",

	UnaryOpKindNot: "NOT",
	UnaryOpKindNeg: "NEG",
}

// String returns the string representation of the UnaryOpKind.
func (k UnaryOpKind) String() string {
	if s, ok := unaryOpKindStrings[k]; ok {
		return s
	}
	return fmt.Sprintf("UnaryOpKind(%d)", k)
}

// BinOpKind denotes the kind of [Binary] operation to perform.
type BinOpKind int

// Recognized values of [BinOpKind].
const (
	// BinOpKindInvalid indicates an invalid binary operation.
	BinOpKindInvalid BinOpKind = iota

	BinOpKindEq  // Equality comparison (==).
	BinOpKindNeq // Inequality comparison (!=).
	BinOpKindGt  // Greater than comparison (>).
	BinOpKindGte // Greater than or equal comparison (>=).
	BinOpKindLt  // Less than comparison (<).
	BinOpKindLte // Less than or equal comparison (<=).
	BinOpKindAnd // Logical AND operation (&&).
	BinOpKindOr  // Logical OR operation (||).
	BinOpKindXor // Logical XOR operation (^).

	BinOpKindAdd // Addition operation (+).
	BinOpKindSub // Subtraction operation (-).
	BinOpKindMul // Multiplication operation (*).
	BinOpKindDiv // Division operation (/).
	BinOpKindMod // Modulo operation (%).
)

var binOpKindStrings = map[BinOpKind]string{
	BinOpKindInvalid: "invalid",

	BinOpKindEq:  "EQ",
	BinOpKindNeq: "NEQ",
	BinOpKindGt:  "GT",
	BinOpKindGte: "GTE",
	BinOpKindLt:  "LT",
	BinOpKindLte: "LTE",
	BinOpKindAnd: "AND",
	BinOpKindOr:  "OR",
	BinOpKindXor: "XOR",

	BinOpKindAdd: "ADD",
	BinOpKindSub: "SUB",
	BinOpKindMul: "MUL",
	BinOpKindDiv: "DIV",
	BinOpKindMod: "MOD",
}

// String returns a human-readable representation of the binary operation kind.
func (k BinOpKind) String() string {
	if s, ok := binOpKindStrings[k]; ok {
		return s
	}
	return fmt.Sprintf("BinOpKind(%d)", k)
}

func (k BinOpKind) isComparison() bool { return k >= BinOpKindEq && k <= BinOpKindLte }
func (k BinOpKind) isLogical() bool    { return k >= BinOpKindAnd && k <= BinOpKindXor }
func (k BinOpKind) isArithmetic() bool { return k >= BinOpKindAdd && k <= BinOpKindMod }

// AggKind denotes the aggregation applied by an [Agg] expression.
type AggKind int

// Recognized values of [AggKind].
const (
	AggKindInvalid AggKind = iota

	AggKindSum
	AggKindMin
	AggKindMax
	AggKindCount // Number of non-null values.
	AggKindMean
	AggKindLen // Number of rows, including nulls.
	AggKindFirst
	AggKindLast
)

var aggKindStrings = map[AggKind]string{
	AggKindInvalid: "invalid",

	AggKindSum:   "sum",
	AggKindMin:   "min",
	AggKindMax:   "max",
	AggKindCount: "count",
	AggKindMean:  "mean",
	AggKindLen:   "len",
	AggKindFirst: "first",
	AggKindLast:  "last",
}

func (k AggKind) String() string {
	if s, ok := aggKindStrings[k]; ok {
		return s
	}
	return fmt.Sprintf("AggKind(%d)", k)
}
