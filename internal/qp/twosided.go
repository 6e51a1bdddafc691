package qp

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Constraints is the two-sided form l <= C x <= u of G x <= h.
type Constraints struct {
	C *mat.Dense
	L []float64
	U []float64

	// rows maps each row of C to its upper (G row with +c) and lower
	// (G row with -c, or -1) rows in G.
	rows [][2]int
	nbG  int
}

// Len is the number of two-sided constraints.
func (c *Constraints) Len() int { return len(c.L) }

// TwoSided converts G x <= h to two-sided form. A row immediately followed
// by its negation is merged with it into a single bounded row; other rows
// get an infinite lower bound.
func TwoSided(G *mat.Dense, h []float64) Constraints {
	if G == nil {
		return Constraints{}
	}
	m, n := G.Dims()
	var data, lower, upper []float64
	var rows [][2]int
	for i := 0; i < m; i++ {
		row := mat.Row(nil, i, G)
		data = append(data, row...)
		upper = append(upper, h[i])
		if i+1 < m && isNegation(row, G.RawRowView(i+1)) {
			lower = append(lower, -h[i+1])
			rows = append(rows, [2]int{i, i + 1})
			i++
			continue
		}
		lower = append(lower, math.Inf(-1))
		rows = append(rows, [2]int{i, -1})
	}
	if len(rows) == 0 {
		return Constraints{nbG: m}
	}
	return Constraints{
		C:    mat.NewDense(len(rows), n, data),
		L:    lower,
		U:    upper,
		rows: rows,
		nbG:  m,
	}
}

func isNegation(a, b []float64) bool {
	nonzero := false
	for j := range a {
		if a[j] != -b[j] {
			return false
		}
		if a[j] != 0 {
			nonzero = true
		}
	}
	return nonzero
}

// Update refreshes the bounds from a new inequality vector of the original
// G x <= h form.
func (c *Constraints) Update(h []float64) {
	for k, r := range c.rows {
		c.U[k] = h[r[0]]
		if r[1] >= 0 {
			c.L[k] = -h[r[1]]
		}
	}
}

// Crossed reports a merged row whose lower bound exceeds its upper bound.
// No x satisfies such a pair of rows.
func (c *Constraints) Crossed() bool {
	for i := range c.L {
		if c.L[i] > c.U[i] {
			return true
		}
	}
	return false
}

// Multipliers maps signed two-sided multipliers y back to nonnegative
// multipliers of G x <= h.
func (c *Constraints) Multipliers(y []float64) []float64 {
	z := make([]float64, c.nbG)
	for k, r := range c.rows {
		if y[k] > 0 {
			z[r[0]] = y[k]
		} else if y[k] < 0 && r[1] >= 0 {
			z[r[1]] = -y[k]
		}
	}
	return z
}
