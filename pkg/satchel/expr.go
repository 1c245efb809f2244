package satchel

// Expression helpers. Each returns the list form Query accepts, so
// helper-built and hand-built trees compose freely:
//
//	e.Query(satchel.All(satchel.Gt("count", 5), satchel.Eq("state", ":s")))

// All matches when every sub-expression matches.
func All(exprs ...any) []any { return append([]any{"all"}, exprs...) }

// Any matches when at least one sub-expression matches.
func Any(exprs ...any) []any { return append([]any{"any"}, exprs...) }

// IsNull matches when the operand is NULL.
func IsNull(operand any) []any { return []any{"is_null", operand} }

// IsNotNull matches when the operand is not NULL.
func IsNotNull(operand any) []any { return []any{"is_not_null", operand} }

// Eq compares for equality.
func Eq(lhs, rhs any) []any { return []any{"=", lhs, rhs} }

// Ne compares for inequality.
func Ne(lhs, rhs any) []any { return []any{"~=", lhs, rhs} }

// Gt compares strictly greater.
func Gt(lhs, rhs any) []any { return []any{">", lhs, rhs} }

// Ge compares greater or equal.
func Ge(lhs, rhs any) []any { return []any{">=", lhs, rhs} }

// Lt compares strictly less.
func Lt(lhs, rhs any) []any { return []any{"<", lhs, rhs} }

// Le compares less or equal.
func Le(lhs, rhs any) []any { return []any{"<=", lhs, rhs} }

// Const wraps a value so it is always treated as a constant, even when
// it collides with a field or parameter name.
func Const(v any) []any { return []any{v} }
