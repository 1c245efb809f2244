package satchel

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mesh-intelligence/satchel/pkg/driver"
	"github.com/mesh-intelligence/satchel/pkg/types"
)

// Query is a compiled expression over one entity. The same tree is
// compiled twice: into parameterized SQL for the database, and into a
// predicate over in-memory rows, so results during pending changes stay
// consistent. Constants are auto-named :_1, :_2, ... in the SQL form.
type Query struct {
	entity *Entity
	root   exprNode
	sql    string
	consts map[string]any
	stmt   *driver.Stmt
}

// Expression node kinds: aggregates over child expressions, unary null
// tests over a leaf, binary comparisons over two leaves.
type exprNode interface {
	emit(c *sqlEmitter) (string, error)
	test(r *Row, params map[string]any) (bool, error)
}

type leafKind int

const (
	leafField leafKind = iota
	leafJSONPath
	leafParam
	leafConst
)

type leaf struct {
	kind  leafKind
	name  string   // field or parameter name
	path  []string // JSON path segments under the field
	value any      // constant value
}

// Query compiles the given expressions into a Query. Multiple arguments
// are implicitly wrapped in all(...). Each expression is a list whose
// head names the operator, a string form that splits on whitespace, or a
// helper-built tree (All, Any, Eq, ...). Leaves are field names, JSON
// paths (field.sub.sub), :parameters, 'quoted' constants, one-element
// wrapped constants, or bare constants.
func (e *Entity) Query(exprs ...any) (*Query, error) {
	if len(exprs) == 0 {
		return nil, fmt.Errorf("query %s: %w: empty", e.name, types.ErrInvalidExpr)
	}
	var root exprNode
	if len(exprs) == 1 {
		n, err := e.parseExpr(exprs[0])
		if err != nil {
			return nil, fmt.Errorf("query %s: %w", e.name, err)
		}
		root = n
	} else {
		kids := make([]exprNode, len(exprs))
		for i, x := range exprs {
			n, err := e.parseExpr(x)
			if err != nil {
				return nil, fmt.Errorf("query %s: %w", e.name, err)
			}
			kids[i] = n
		}
		root = &aggNode{op: "all", kids: kids}
	}

	em := &sqlEmitter{consts: make(map[string]any)}
	where, err := root.emit(em)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", e.name, err)
	}
	sql := fmt.Sprintf("SELECT %s, rowid FROM %s WHERE %s",
		e.stmts.columns(), quoteIdent(e.name), where)

	return &Query{entity: e, root: root, sql: sql, consts: em.consts}, nil
}

// Entity returns the entity the query targets.
func (q *Query) Entity() *Entity { return q.entity }

// SQL returns the compiled SQL text.
func (q *Query) SQL() string { return q.sql }

// Close finalizes the query's prepared statement. Safe to call on a
// query that never ran.
func (q *Query) Close() error {
	if q.stmt == nil {
		return nil
	}
	err := q.stmt.Close()
	q.stmt = nil
	return err
}

// Test evaluates the in-memory predicate against a row with the given
// parameters.
func (q *Query) Test(r *Row, params map[string]any) (bool, error) {
	return q.root.test(r, lowerKeys(params))
}

// Run executes the query: database rows are fetched and materialized
// through the identity map, then the entity's dirty set is merged in.
// Dirty rows join the results when the predicate matches and leave when
// it no longer does; deleted rows never appear. Queries cannot run while
// a transaction is active, because the SQL side would not see overlay
// writes.
func (q *Query) Run(params map[string]any) ([]*Row, error) {
	e := q.entity
	if err := e.m.checkOpen(); err != nil {
		return nil, wrap("query", err)
	}
	if e.m.tx != nil {
		return nil, wrap("query", types.ErrQueryInTransaction)
	}
	params = lowerKeys(params)
	for name := range params {
		if strings.HasPrefix(name, "_") {
			return nil, fmt.Errorf("query %s: %w: :%s", e.name, types.ErrReservedParam, name)
		}
	}

	if q.stmt == nil {
		st, err := e.m.conn.Prepare(q.sql)
		if err != nil {
			return nil, fmt.Errorf("query %s: %w", e.name, err)
		}
		q.stmt = st
	}
	st := q.stmt
	defer st.Reset()
	st.ClearBindings()
	if err := st.BindNames(q.consts); err != nil {
		return nil, fmt.Errorf("query %s: %w", e.name, err)
	}
	if err := st.BindNames(params); err != nil {
		return nil, fmt.Errorf("query %s: %w", e.name, err)
	}

	var out []*Row
	index := make(map[*Row]int)
	for {
		code, err := st.Step()
		if err != nil {
			return nil, fmt.Errorf("query %s: %w", e.name, err)
		}
		if code == driver.Done {
			break
		}
		if code != driver.Row {
			return nil, fmt.Errorf("query %s: %w", e.name,
				driver.Confirm("step", code, driver.Row, driver.Done))
		}
		r, err := e.materialize(st.Values())
		if err != nil {
			return nil, fmt.Errorf("query %s: %w", e.name, err)
		}
		if _, dup := index[r]; !dup {
			index[r] = len(out)
			out = append(out, r)
		}
	}

	// Merge pending changes: the dirty set decides membership for every
	// row it holds, overriding what the database returned.
	for r := range e.dirty {
		matches := false
		if !r.deleted {
			ok, err := q.root.test(r, params)
			if err != nil {
				return nil, fmt.Errorf("query %s: %w", e.name, err)
			}
			matches = ok
		}
		if i, present := index[r]; present {
			if !matches {
				out = append(out[:i], out[i+1:]...)
				delete(index, r)
				for other, j := range index {
					if j > i {
						index[other] = j - 1
					}
				}
			}
		} else if matches {
			index[r] = len(out)
			out = append(out, r)
		}
	}
	return out, nil
}

// parseExpr turns one expression into a node.
func (e *Entity) parseExpr(x any) (exprNode, error) {
	switch v := x.(type) {
	case string:
		tokens := strings.Fields(v)
		if len(tokens) == 0 {
			return nil, fmt.Errorf("%w: empty expression", types.ErrInvalidExpr)
		}
		if len(tokens) == 1 {
			// A lone leaf is a truthiness test on the field.
			lf, err := e.parseLeaf(tokens[0])
			if err != nil {
				return nil, err
			}
			return &unaryNode{op: "is_not_null", kid: lf}, nil
		}
		list := make([]any, len(tokens))
		for i, t := range tokens {
			list[i] = t
		}
		return e.parseList(list)
	case []any:
		return e.parseList(v)
	default:
		return nil, fmt.Errorf("%w: %T is not an expression", types.ErrInvalidExpr, x)
	}
}

// parseList parses the list form: an operator head with operands, or a
// one-element wrapped constant (which is not an expression by itself).
func (e *Entity) parseList(list []any) (exprNode, error) {
	if len(list) == 0 {
		return nil, fmt.Errorf("%w: empty list", types.ErrInvalidExpr)
	}
	head, ok := list[0].(string)
	if !ok {
		return nil, fmt.Errorf("%w: operator must be a string, got %T", types.ErrInvalidExpr, list[0])
	}

	// The string form reads infix: "field > :p" arrives as three
	// tokens. Detect a binary operator in second position.
	if len(list) == 3 {
		if op, ok := list[1].(string); ok && binaryOps[op] != "" {
			list = []any{op, list[0], list[2]}
			head = op
		}
	}

	switch head {
	case "all", "any":
		if len(list) < 2 {
			return nil, fmt.Errorf("%w: %s needs operands", types.ErrInvalidExpr, head)
		}
		kids := make([]exprNode, 0, len(list)-1)
		for _, x := range list[1:] {
			n, err := e.parseExpr(x)
			if err != nil {
				return nil, err
			}
			kids = append(kids, n)
		}
		return &aggNode{op: head, kids: kids}, nil
	case "is_null", "is_not_null":
		if len(list) != 2 {
			return nil, fmt.Errorf("%w: %s takes one operand", types.ErrInvalidExpr, head)
		}
		lf, err := e.parseOperand(list[1])
		if err != nil {
			return nil, err
		}
		return &unaryNode{op: head, kid: lf}, nil
	default:
		if binaryOps[head] == "" {
			return nil, fmt.Errorf("%w: unknown operator %q", types.ErrInvalidExpr, head)
		}
		if len(list) != 3 {
			return nil, fmt.Errorf("%w: %s takes two operands", types.ErrInvalidExpr, head)
		}
		lhs, err := e.parseOperand(list[1])
		if err != nil {
			return nil, err
		}
		rhs, err := e.parseOperand(list[2])
		if err != nil {
			return nil, err
		}
		return &binNode{op: head, lhs: lhs, rhs: rhs}, nil
	}
}

// parseOperand classifies a binary or unary operand into a leaf.
func (e *Entity) parseOperand(x any) (*leaf, error) {
	switch v := x.(type) {
	case string:
		return e.parseLeaf(v)
	case []any:
		if len(v) != 1 {
			return nil, fmt.Errorf("%w: wrapped constant must hold one value", types.ErrInvalidExpr)
		}
		return &leaf{kind: leafConst, value: v[0]}, nil
	default:
		return &leaf{kind: leafConst, value: v}, nil
	}
}

// parseLeaf classifies a string token: field reference, JSON path,
// :parameter, 'quoted' constant, or bare constant, in that order.
func (e *Entity) parseLeaf(tok string) (*leaf, error) {
	lower := strings.ToLower(tok)

	if f, ok := e.fields[lower]; ok && !f.Virtual {
		return &leaf{kind: leafField, name: lower}, nil
	}

	if head, rest, found := strings.Cut(lower, "."); found {
		if f, ok := e.fields[head]; ok && !f.Virtual {
			if f.Kind != types.KindJSON {
				return nil, fmt.Errorf("%w: %s", types.ErrInvalidJSONPath, tok)
			}
			if e.m.codec == nil {
				return nil, fmt.Errorf("json path %s: %w", tok, types.ErrNoCodec)
			}
			return &leaf{kind: leafJSONPath, name: head, path: strings.Split(rest, ".")}, nil
		}
	}

	if name, ok := strings.CutPrefix(lower, ":"); ok {
		if name == "" {
			return nil, fmt.Errorf("%w: empty parameter name", types.ErrInvalidExpr)
		}
		if strings.HasPrefix(name, "_") {
			return nil, fmt.Errorf("%w: :%s", types.ErrReservedParam, name)
		}
		return &leaf{kind: leafParam, name: name}, nil
	}

	if len(tok) >= 2 && strings.HasPrefix(tok, "'") && strings.HasSuffix(tok, "'") {
		return &leaf{kind: leafConst, value: tok[1 : len(tok)-1]}, nil
	}

	return &leaf{kind: leafConst, value: tok}, nil
}

// binaryOps maps DSL comparison operators to their SQL spelling.
var binaryOps = map[string]string{
	">":  ">",
	">=": ">=",
	"<":  "<",
	"<=": "<=",
	"=":  "=",
	"~=": "<>",
	"<>": "<>",
}

// sqlEmitter accumulates auto-named constants while rendering SQL.
type sqlEmitter struct {
	consts map[string]any
	n      int
}

func (c *sqlEmitter) addConst(v any) string {
	c.n++
	name := "_" + strconv.Itoa(c.n)
	c.consts[name] = v
	return ":" + name
}

type aggNode struct {
	op   string // all | any
	kids []exprNode
}

func (n *aggNode) emit(c *sqlEmitter) (string, error) {
	parts := make([]string, len(n.kids))
	for i, k := range n.kids {
		s, err := k.emit(c)
		if err != nil {
			return "", err
		}
		parts[i] = s
	}
	joiner := " AND "
	if n.op == "any" {
		joiner = " OR "
	}
	return "(" + strings.Join(parts, joiner) + ")", nil
}

func (n *aggNode) test(r *Row, params map[string]any) (bool, error) {
	for _, k := range n.kids {
		ok, err := k.test(r, params)
		if err != nil {
			return false, err
		}
		if n.op == "any" && ok {
			return true, nil
		}
		if n.op != "any" && !ok {
			return false, nil
		}
	}
	return n.op != "any", nil
}

type unaryNode struct {
	op  string // is_null | is_not_null
	kid *leaf
}

func (n *unaryNode) emit(c *sqlEmitter) (string, error) {
	s, err := n.kid.emit(c)
	if err != nil {
		return "", err
	}
	if n.op == "is_null" {
		return s + " IS NULL", nil
	}
	return s + " IS NOT NULL", nil
}

func (n *unaryNode) test(r *Row, params map[string]any) (bool, error) {
	v, err := n.kid.eval(r, params)
	if err != nil {
		return false, err
	}
	if n.op == "is_null" {
		return v == nil, nil
	}
	return v != nil, nil
}

type binNode struct {
	op  string
	lhs *leaf
	rhs *leaf
}

func (n *binNode) emit(c *sqlEmitter) (string, error) {
	l, err := n.lhs.emit(c)
	if err != nil {
		return "", err
	}
	r, err := n.rhs.emit(c)
	if err != nil {
		return "", err
	}
	return l + " " + binaryOps[n.op] + " " + r, nil
}

func (n *binNode) test(r *Row, params map[string]any) (bool, error) {
	a, err := n.lhs.eval(r, params)
	if err != nil {
		return false, err
	}
	b, err := n.rhs.eval(r, params)
	if err != nil {
		return false, err
	}
	return compareValues(n.op, a, b), nil
}

func (l *leaf) emit(c *sqlEmitter) (string, error) {
	switch l.kind {
	case leafField:
		return quoteIdent(l.name), nil
	case leafJSONPath:
		return fmt.Sprintf("json_extract(%s, '$.%s')",
			quoteIdent(l.name), strings.Join(l.path, ".")), nil
	case leafParam:
		return ":" + l.name, nil
	default:
		return c.addConst(l.value), nil
	}
}

// eval resolves a leaf against a row and the live parameter map, using
// the row's raw accessor so comparisons run over lookup values exactly
// as the database sees them.
func (l *leaf) eval(r *Row, params map[string]any) (any, error) {
	switch l.kind {
	case leafField:
		return r.Raw(l.name)
	case leafJSONPath:
		stored, _ := r.stored(l.name)
		jv, ok := stored.(*jsonValue)
		if !ok {
			return nil, nil
		}
		root, err := jv.decode(r.e.m.codec)
		if err != nil {
			return nil, err
		}
		v := root
		for _, seg := range l.path {
			m, ok := v.(map[string]any)
			if !ok {
				return nil, nil
			}
			v = m[seg]
		}
		return v, nil
	case leafParam:
		return params[l.name], nil
	default:
		return l.value, nil
	}
}

// compareValues applies a comparison the way the SQL side would: nil
// compares equal only to nil and fails every ordering comparison, numbers
// compare numerically whenever both sides parse, and text compares
// bytewise otherwise.
func compareValues(op string, a, b any) bool {
	if a == nil || b == nil {
		switch op {
		case "=":
			return a == nil && b == nil
		case "~=", "<>":
			return (a == nil) != (b == nil)
		default:
			return false
		}
	}

	var cmp int
	af, aerr := toReal(a)
	bf, berr := toReal(b)
	if aerr == nil && berr == nil {
		x, y := af.(float64), bf.(float64)
		switch {
		case x < y:
			cmp = -1
		case x > y:
			cmp = 1
		}
	} else {
		cmp = strings.Compare(asString(a), asString(b))
	}

	switch op {
	case ">":
		return cmp > 0
	case ">=":
		return cmp >= 0
	case "<":
		return cmp < 0
	case "<=":
		return cmp <= 0
	case "=":
		return cmp == 0
	case "~=", "<>":
		return cmp != 0
	}
	return false
}

// lowerKeys canonicalizes parameter names.
func lowerKeys(params map[string]any) map[string]any {
	if params == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[strings.ToLower(strings.TrimPrefix(k, ":"))] = v
	}
	return out
}
