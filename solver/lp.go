package solver

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize/convex/lp"
)

// row is the inequality Σ c·x ≤ rhs over non-negative variables.
type row struct {
	terms []term
	rhs   float64
}

// program is a set of inequality rows over nvars non-negative variables.
type program struct {
	nvars int
	rows  []row
}

func (p *program) le(terms []term, rhs float64) {
	if len(terms) == 0 {
		return
	}
	p.rows = append(p.rows, row{terms: terms, rhs: rhs})
}

func (p *program) ge(terms []term, rhs float64) {
	neg := make([]term, len(terms))
	for i, t := range terms {
		neg[i] = term{v: t.v, c: -t.c}
	}
	p.le(neg, -rhs)
}

func (p *program) eq(terms []term, rhs float64) {
	p.le(terms, rhs)
	p.ge(terms, rhs)
}

// simplex runs LP passes and enforces the pass budget.
type simplex struct {
	tol    float64
	budget int
	passes int
}

// maximize solves max Σ obj·x subject to p. Slack variables turn every row
// into an equality so the problem is already in the standard form that
// lp.Simplex expects.
func (s *simplex) maximize(stage string, p *program, obj []term) (float64, []float64, error) {
	if s.passes >= s.budget {
		return 0, nil, fail(stage, ErrIterationLimit)
	}
	s.passes++

	m := len(p.rows)
	n := p.nvars + m
	a := mat.NewDense(m, n, nil)
	b := make([]float64, m)
	for i, r := range p.rows {
		for _, t := range r.terms {
			a.Set(i, t.v, a.At(i, t.v)+t.c)
		}
		a.Set(i, p.nvars+i, 1)
		b[i] = r.rhs
	}
	c := make([]float64, n)
	for _, t := range obj {
		c[t.v] -= t.c
	}

	opt, x, err := lp.Simplex(c, a, b, s.tol, nil)
	if err != nil {
		return 0, nil, fail(stage, fmt.Errorf("%w: %w", ErrInfeasible, err))
	}
	if math.IsNaN(opt) || math.IsInf(opt, 0) || floats.HasNaN(x) {
		return 0, nil, fail(stage, ErrNonFinite)
	}
	return -opt, x[:p.nvars], nil
}
