package jsonb

import (
	"fmt"
	"strconv"
	"strings"
)

// Args collects positional parameters for a statement. Placeholders are
// numbered in the order values are added, so callers may pre-seed the
// statement's own parameters before rendering a mutation.
type Args struct {
	values []any
}

// NewArgs returns Args already holding values as $1..$n.
func NewArgs(values ...any) *Args {
	return &Args{values: append([]any(nil), values...)}
}

// Add appends v and returns its placeholder.
func (a *Args) Add(v any) string {
	a.values = append(a.values, v)
	return "$" + strconv.Itoa(len(a.values))
}

// Values returns the collected parameters.
func (a *Args) Values() []any {
	return a.values
}

// SQL renders m as a scalar sub-select over column. Each step is wrapped in
// its own sub-select so the previous document is referenced by name rather
// than inlined, keeping the statement linear in the number of steps.
func (m Mutation) SQL(column string, args *Args) string {
	src := "SELECT " + column + " AS doc"
	for i, step := range m.Steps {
		alias := "s" + strconv.Itoa(i)
		src = fmt.Sprintf("SELECT %s AS doc FROM (%s) AS %s", Render(step, alias+".doc", args), src, alias)
	}
	return "(" + src + ")"
}

// Render renders e with Doc bound to the SQL expression doc.
func Render(e Expr, doc string, args *Args) string {
	var b strings.Builder
	render(&b, e, doc, args)
	return b.String()
}

func render(b *strings.Builder, e Expr, doc string, args *Args) {
	switch n := e.(type) {
	case Doc:
		b.WriteString(doc)
	case Literal:
		b.WriteString(args.Add(n.JSON))
		b.WriteString("::jsonb")
	case Get:
		b.WriteString("(")
		render(b, n.Target, doc, args)
		b.WriteString(" #> ")
		b.WriteString(pathArg(n.Path, args))
		b.WriteString(")")
	case Set:
		b.WriteString("jsonb_set(")
		render(b, n.Target, doc, args)
		b.WriteString(", ")
		b.WriteString(pathArg(n.Path, args))
		b.WriteString(", ")
		render(b, n.Value, doc, args)
		b.WriteString(", true)")
	case Delete:
		b.WriteString("(")
		render(b, n.Target, doc, args)
		b.WriteString(" #- ")
		b.WriteString(pathArg(n.Path, args))
		b.WriteString(")")
	case Coalesce:
		b.WriteString("coalesce(")
		render(b, n.Left, doc, args)
		b.WriteString(", ")
		render(b, n.Right, doc, args)
		b.WriteString(")")
	case NullIf:
		b.WriteString("nullif(")
		render(b, n.Expr, doc, args)
		b.WriteString(", ")
		render(b, n.Value, doc, args)
		b.WriteString(")")
	case Pad:
		arr := Render(n.Array, doc, args)
		fmt.Fprintf(b, "(%s || coalesce((SELECT jsonb_agg('null'::jsonb) FROM generate_series(jsonb_array_length(%s), %d)), '[]'::jsonb))",
			arr, arr, n.Length-1)
	case IfArray:
		b.WriteString("(CASE jsonb_typeof(")
		render(b, n.Subject, doc, args)
		b.WriteString(") WHEN 'array' THEN ")
		render(b, n.Then, doc, args)
		b.WriteString(" ELSE ")
		render(b, n.Else, doc, args)
		b.WriteString(" END)")
	case IfLonger:
		b.WriteString("(CASE WHEN jsonb_array_length(")
		render(b, n.Subject, doc, args)
		fmt.Fprintf(b, ") > %d THEN ", n.Length)
		render(b, n.Then, doc, args)
		b.WriteString(" ELSE ")
		render(b, n.Else, doc, args)
		b.WriteString(" END)")
	default:
		panic(fmt.Sprintf("jsonb: unknown expression %T", e))
	}
}

func pathArg(p Path, args *Args) string {
	return args.Add([]string(append(Path{}, p...))) + "::text[]"
}
