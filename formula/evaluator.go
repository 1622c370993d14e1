/*
Package formula evaluates a named set of interdependent arithmetic formulas.

PURPOSE:
  A salary template is a table of component codes mapped to formulas such as

    BASIC       = CTC * 0.5
    HRA         = BASIC * 0.4
    PF_EMPLOYER = min(BASIC, 15000 * 12) * 0.12
    SPECIAL     = CTC - BASIC - HRA - PF_EMPLOYER

  Evaluating SPECIAL first requires BASIC, HRA and PF_EMPLOYER. The Evaluator
  resolves those references depth-first and memoizes every value it computes
  in the caller's Context, so each code is evaluated at most once per pass.

GRAMMAR:
  + - * / and parentheses, numeric literals, min(...) and max(...), and
  identifiers naming component codes or context variables (at least CTC).
  Codes that are not plain identifiers are written in brackets:
  [MEDICAL_ALLOWANCE_(FIXED)] * 2. Any other operator (comparison, ternary,
  logical, bitwise, %, **) makes the formula malformed.
  Parsing is delegated to govaluate; legacy "Math.min"/"Math.max" spellings
  are accepted and rewritten to min/max.

CYCLES:
  Each resolution chain carries a visited set. Re-entering a code that is
  still being resolved fails with a CycleError instead of recursing forever.

CONCURRENCY:
  An Evaluator is immutable after New and may be shared. A Context is not
  safe for concurrent use; give each goroutine its own.
*/
package formula

import (
	"fmt"
	"math"
	"regexp"
	"sort"

	"github.com/casbin/govaluate"
)

// Context holds variable values. Evaluate writes every resolved code into it.
type Context map[string]float64

// Evaluator resolves codes of a formula table.
type Evaluator struct {
	sources  map[string]string
	compiled map[string]*govaluate.EvaluableExpression
	invalid  map[string]error
}

var legacyMath = regexp.MustCompile(`\bMath\.(min|max)\b`)

var functions = map[string]govaluate.ExpressionFunction{
	"min": extremum("min", func(a, b float64) bool { return a < b }),
	"max": extremum("max", func(a, b float64) bool { return a > b }),
}

// New compiles every formula of table. Malformed formulas are remembered and
// reported when (and only when) their code is evaluated.
func New(table map[string]string) *Evaluator {
	e := &Evaluator{
		sources:  make(map[string]string, len(table)),
		compiled: make(map[string]*govaluate.EvaluableExpression, len(table)),
		invalid:  make(map[string]error),
	}
	for code, src := range table {
		normalized := Normalize(src)
		e.sources[code] = normalized
		expr, err := govaluate.NewEvaluableExpressionWithFunctions(normalized, functions)
		if err == nil {
			err = checkGrammar(expr)
		}
		if err != nil {
			e.invalid[code] = err
			continue
		}
		e.compiled[code] = expr
	}
	return e
}

// Normalize rewrites legacy function spellings.
func Normalize(src string) string {
	return legacyMath.ReplaceAllString(src, "$1")
}

// Formula returns the normalized source for code.
func (e *Evaluator) Formula(code string) (string, bool) {
	src, ok := e.sources[code]
	return src, ok
}

// Codes returns all codes in the table, sorted.
func (e *Evaluator) Codes() []string {
	codes := make([]string, 0, len(e.sources))
	for code := range e.sources {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// References returns the distinct variables a code's formula refers to.
func (e *Evaluator) References(code string) ([]string, error) {
	if err, bad := e.invalid[code]; bad {
		return nil, &Error{Code: code, Formula: e.sources[code], Err: fmt.Errorf("%w: %v", ErrMalformed, err)}
	}
	expr, ok := e.compiled[code]
	if !ok {
		return nil, &Error{Code: code, Err: ErrUnknownComponent}
	}
	return distinct(expr.Vars()), nil
}

// Evaluate resolves code against ctx, resolving dependencies first. Values
// already present in ctx are used as-is and win over the table.
func (e *Evaluator) Evaluate(code string, ctx Context) (float64, error) {
	if ctx == nil {
		ctx = Context{}
	}
	if _, known := e.sources[code]; !known {
		if v, ok := ctx[code]; ok {
			return v, nil
		}
		return 0, &Error{Code: code, Err: ErrUnknownComponent}
	}
	return e.resolve(code, ctx, make(map[string]bool), nil)
}

func (e *Evaluator) resolve(code string, ctx Context, visiting map[string]bool, chain []string) (float64, error) {
	if v, ok := ctx[code]; ok {
		return v, nil
	}
	chain = append(chain, code)
	if visiting[code] {
		start := 0
		for i, c := range chain {
			if c == code {
				start = i
				break
			}
		}
		return 0, &CycleError{Chain: append([]string(nil), chain[start:]...)}
	}

	refs, err := e.References(code)
	if err != nil {
		return 0, err
	}

	visiting[code] = true
	defer delete(visiting, code)

	params := make(map[string]interface{}, len(refs))
	for _, ref := range refs {
		if v, ok := ctx[ref]; ok {
			params[ref] = v
			continue
		}
		if _, known := e.sources[ref]; !known {
			return 0, &Error{Code: code, Formula: e.sources[code], Ref: ref, Err: ErrUnknownReference}
		}
		v, err := e.resolve(ref, ctx, visiting, chain)
		if err != nil {
			return 0, err
		}
		params[ref] = v
	}

	out, err := e.compiled[code].Evaluate(params)
	if err != nil {
		return 0, &Error{Code: code, Formula: e.sources[code], Err: fmt.Errorf("%w: %v", ErrMalformed, err)}
	}
	value, ok := out.(float64)
	if !ok {
		return 0, &Error{Code: code, Formula: e.sources[code], Err: ErrNotNumeric}
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, &Error{Code: code, Formula: e.sources[code], Err: ErrNotFinite}
	}

	ctx[code] = value
	return value, nil
}

var arithmetic = map[string]bool{"+": true, "-": true, "*": true, "/": true}

// checkGrammar rejects every token outside arithmetic on numbers and
// variables: govaluate also parses comparisons, ternaries, strings and more.
func checkGrammar(expr *govaluate.EvaluableExpression) error {
	for _, tok := range expr.Tokens() {
		switch tok.Kind {
		case govaluate.NUMERIC, govaluate.VARIABLE, govaluate.FUNCTION,
			govaluate.SEPARATOR, govaluate.CLAUSE, govaluate.CLAUSE_CLOSE:
			continue
		case govaluate.MODIFIER, govaluate.PREFIX:
			if op, _ := tok.Value.(string); arithmetic[op] && (tok.Kind == govaluate.MODIFIER || op == "-") {
				continue
			}
		}
		return fmt.Errorf("%v is not allowed in a formula", tok.Value)
	}
	return nil
}

func extremum(name string, better func(a, b float64) bool) govaluate.ExpressionFunction {
	return func(args ...interface{}) (interface{}, error) {
		if len(args) == 0 {
			return nil, fmt.Errorf("%s() needs at least one argument", name)
		}
		var best float64
		for i, arg := range args {
			v, ok := arg.(float64)
			if !ok {
				return nil, fmt.Errorf("%s() argument %d is not a number", name, i+1)
			}
			if i == 0 || better(v, best) {
				best = v
			}
		}
		return best, nil
	}
}

func distinct(vars []string) []string {
	seen := make(map[string]bool, len(vars))
	out := vars[:0:0]
	for _, v := range vars {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}
