package degradation

import "errors"

var errSingular = errors.New("normal equations are singular")

// fitLeastSquares solves the ordinary least-squares problem for
// label = w0 + w1*x1 + ... + w4*x4 via the normal equations.
func fitLeastSquares(rows [][4]float64, labels []float64) ([5]float64, error) {
	const dim = 5
	var ata [dim][dim]float64
	var atb [dim]float64

	for r, row := range rows {
		var x [dim]float64
		x[0] = 1
		copy(x[1:], row[:])
		for i := 0; i < dim; i++ {
			atb[i] += x[i] * labels[r]
			for j := 0; j < dim; j++ {
				ata[i][j] += x[i] * x[j]
			}
		}
	}

	// ridge damping keeps near-collinear windows solvable
	for i := 1; i < dim; i++ {
		ata[i][i] += 1e-8
	}

	weights, err := solve(ata, atb)
	if err != nil {
		return [5]float64{}, err
	}
	return weights, nil
}

// solve runs Gaussian elimination with partial pivoting on a 5x5 system.
func solve(a [5][5]float64, b [5]float64) ([5]float64, error) {
	const dim = 5
	for col := 0; col < dim; col++ {
		pivot := col
		for row := col + 1; row < dim; row++ {
			if abs(a[row][col]) > abs(a[pivot][col]) {
				pivot = row
			}
		}
		if abs(a[pivot][col]) < 1e-12 {
			return [5]float64{}, errSingular
		}
		a[col], a[pivot] = a[pivot], a[col]
		b[col], b[pivot] = b[pivot], b[col]

		for row := col + 1; row < dim; row++ {
			factor := a[row][col] / a[col][col]
			for k := col; k < dim; k++ {
				a[row][k] -= factor * a[col][k]
			}
			b[row] -= factor * b[col]
		}
	}

	var x [5]float64
	for row := dim - 1; row >= 0; row-- {
		sum := b[row]
		for k := row + 1; k < dim; k++ {
			sum -= a[row][k] * x[k]
		}
		x[row] = sum / a[row][row]
	}
	return x, nil
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
