package catalog

import (
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// Expr is a typed formula over already-computed variable values. The catalog
// authors formulas as short function strings ("ratio(a, b, 100)"); they are
// parsed once into this representation and interpreted, never executed as
// code.
type Expr interface {
	// Eval computes the formula against a row of values. A nil result means
	// the formula could not be computed (missing input, zero denominator);
	// evaluation never fails hard.
	Eval(values map[string]*float64) *float64

	// Inputs lists the variable names the formula reads.
	Inputs() []string
}

// Ratio computes Scale * Num / Den, null when Den is null or zero.
type Ratio struct {
	Num   string
	Den   string
	Scale float64
}

// Eval implements Expr.
func (r Ratio) Eval(values map[string]*float64) *float64 {
	num, den := values[r.Num], values[r.Den]
	if num == nil || den == nil || *den == 0 {
		return nil
	}
	v := r.Scale * *num / *den
	return &v
}

// Inputs implements Expr.
func (r Ratio) Inputs() []string { return []string{r.Num, r.Den} }

// Product computes Scale * A * B, null when either factor is null. The usual
// post-interpolation use recombines an interpolated percentage with its
// universe: product(foo_pct, total_population, 0.01).
type Product struct {
	A     string
	B     string
	Scale float64
}

// Eval implements Expr.
func (p Product) Eval(values map[string]*float64) *float64 {
	a, b := values[p.A], values[p.B]
	if a == nil || b == nil {
		return nil
	}
	v := p.Scale * *a * *b
	return &v
}

// Inputs implements Expr.
func (p Product) Inputs() []string { return []string{p.A, p.B} }

// SumFields adds the named fields. Null inputs are skipped; the result is
// null only when every input is null.
type SumFields struct {
	Fields []string
}

// Eval implements Expr.
func (s SumFields) Eval(values map[string]*float64) *float64 {
	var sum float64
	any := false
	for _, f := range s.Fields {
		if v := values[f]; v != nil {
			sum += *v
			any = true
		}
	}
	if !any {
		return nil
	}
	return &sum
}

// Inputs implements Expr.
func (s SumFields) Inputs() []string { return s.Fields }

// Literal is a constant value.
type Literal struct {
	Value float64
}

// Eval implements Expr.
func (l Literal) Eval(map[string]*float64) *float64 {
	v := l.Value
	return &v
}

// Inputs implements Expr.
func (l Literal) Inputs() []string { return nil }

// ParseExpr parses a catalog formula string. Supported forms:
//
//	ratio(num, den)            num / den
//	ratio(num, den, scale)     scale * num / den
//	product(a, b)              a * b
//	product(a, b, scale)       scale * a * b
//	sum(f1, f2, ...)           f1 + f2 + ...
//	literal(x)                 the constant x
//
// Argument names are normalized the same way catalog variable names are.
func ParseExpr(s string) (Expr, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}

	open := strings.IndexByte(s, '(')
	if open < 0 || !strings.HasSuffix(s, ")") {
		return nil, eris.Errorf("catalog: malformed formula %q", s)
	}
	fn := strings.ToLower(strings.TrimSpace(s[:open]))
	args := splitArgs(s[open+1 : len(s)-1])

	switch fn {
	case "ratio":
		if len(args) != 2 && len(args) != 3 {
			return nil, eris.Errorf("catalog: ratio wants 2 or 3 args, got %d in %q", len(args), s)
		}
		scale := 1.0
		if len(args) == 3 {
			f, err := strconv.ParseFloat(args[2], 64)
			if err != nil {
				return nil, eris.Wrapf(err, "catalog: ratio scale in %q", s)
			}
			scale = f
		}
		return Ratio{Num: NormalizeName(args[0]), Den: NormalizeName(args[1]), Scale: scale}, nil

	case "product":
		if len(args) != 2 && len(args) != 3 {
			return nil, eris.Errorf("catalog: product wants 2 or 3 args, got %d in %q", len(args), s)
		}
		scale := 1.0
		if len(args) == 3 {
			f, err := strconv.ParseFloat(args[2], 64)
			if err != nil {
				return nil, eris.Wrapf(err, "catalog: product scale in %q", s)
			}
			scale = f
		}
		return Product{A: NormalizeName(args[0]), B: NormalizeName(args[1]), Scale: scale}, nil

	case "sum":
		if len(args) == 0 {
			return nil, eris.Errorf("catalog: sum wants at least 1 arg in %q", s)
		}
		fields := make([]string, len(args))
		for i, a := range args {
			fields[i] = NormalizeName(a)
		}
		return SumFields{Fields: fields}, nil

	case "literal":
		if len(args) != 1 {
			return nil, eris.Errorf("catalog: literal wants 1 arg in %q", s)
		}
		f, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return nil, eris.Wrapf(err, "catalog: literal value in %q", s)
		}
		return Literal{Value: f}, nil

	default:
		return nil, eris.Errorf("catalog: unknown formula function %q", fn)
	}
}

func splitArgs(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, strings.TrimSpace(p))
	}
	return out
}
