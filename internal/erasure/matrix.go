package erasure

import "fmt"

// Matrix is a row-major GF(2^8) matrix.
type Matrix [][]byte

// newMatrix allocates a rows x cols zero matrix.
func newMatrix(rows, cols int) Matrix {
	m := make(Matrix, rows)
	for i := range m {
		m[i] = make([]byte, cols)
	}
	return m
}

// BuildDistributionMatrix builds the (k+m) x k systematic Cauchy
// distribution matrix: the top k rows are the identity (so the first k
// shares are a verbatim split of the package), and the bottom m rows are
// a Cauchy matrix with entries 1/(i XOR (m+j)) for parity row i and
// column j. Because i ranges over [0,m) and m+j ranges over
// [m,m+k), i and m+j never coincide, so no entry requires dividing by
// zero and every such matrix is invertible on any k-row submatrix (the
// defining MDS property of a Cauchy matrix).
func BuildDistributionMatrix(k, m int) (Matrix, error) {
	if k <= 0 || m < 0 {
		return nil, fmt.Errorf("erasure: invalid matrix shape k=%d m=%d", k, m)
	}
	mat := newMatrix(k+m, k)
	for j := 0; j < k; j++ {
		mat[j][j] = 1
	}
	for i := 0; i < m; i++ {
		for j := 0; j < k; j++ {
			x := byte(i) ^ byte(m+j)
			mat[k+i][j] = gfInv(x)
		}
	}
	return mat, nil
}

// SubMatrix selects the rows indexed by shareIDs, producing a square
// matrix suitable for inversion when len(shareIDs) == number of columns.
func SubMatrix(d Matrix, shareIDs []int) Matrix {
	sub := make(Matrix, len(shareIDs))
	for i, id := range shareIDs {
		sub[i] = d[id]
	}
	return sub
}

// Invert computes the inverse of a square GF(2^8) matrix via Gauss-Jordan
// elimination, augmenting with the identity. Returns an error if the
// matrix is singular, which for a valid Cauchy submatrix should never
// happen.
func Invert(m Matrix) (Matrix, error) {
	n := len(m)
	work := newMatrix(n, 2*n)
	for i := 0; i < n; i++ {
		copy(work[i], m[i])
		work[i][n+i] = 1
	}

	for col := 0; col < n; col++ {
		pivot := -1
		for row := col; row < n; row++ {
			if work[row][col] != 0 {
				pivot = row
				break
			}
		}
		if pivot == -1 {
			return nil, fmt.Errorf("erasure: matrix is singular, cannot invert")
		}
		work[col], work[pivot] = work[pivot], work[col]

		inv := gfInv(work[col][col])
		for c := 0; c < 2*n; c++ {
			work[col][c] = gfMul(work[col][c], inv)
		}

		for row := 0; row < n; row++ {
			if row == col {
				continue
			}
			factor := work[row][col]
			if factor == 0 {
				continue
			}
			for c := 0; c < 2*n; c++ {
				work[row][c] ^= gfMul(factor, work[col][c])
			}
		}
	}

	out := newMatrix(n, n)
	for i := 0; i < n; i++ {
		copy(out[i], work[i][n:])
	}
	return out, nil
}

// MultiplyRow computes row·shares where row has length k and shares[0..k)
// are byte slices of equal length, producing one output share of the
// same length (GF(2^8) multiply-accumulate, byte-wise across the share).
func MultiplyRow(row []byte, shares [][]byte) []byte {
	size := len(shares[0])
	out := make([]byte, size)
	for j, coeff := range row {
		if coeff == 0 {
			continue
		}
		s := shares[j]
		if coeff == 1 {
			for b := 0; b < size; b++ {
				out[b] ^= s[b]
			}
			continue
		}
		for b := 0; b < size; b++ {
			out[b] ^= gfMul(coeff, s[b])
		}
	}
	return out
}

// Multiply applies every row of mat to shares, producing len(mat) output
// shares each the size of one input share.
func Multiply(mat Matrix, shares [][]byte) [][]byte {
	out := make([][]byte, len(mat))
	for i, row := range mat {
		out[i] = MultiplyRow(row, shares)
	}
	return out
}
