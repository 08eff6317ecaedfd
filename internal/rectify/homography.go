package rectify

import (
	"math"

	"github.com/phandanh111/ocr-cccd-card/internal/utils"
)

// computeHomography solves for the 3x3 matrix H mapping src[i] -> dst[i] for
// four point pairs, with H[8] fixed to 1. Returns false for a singular
// system (collinear or repeated points).
func computeHomography(src, dst [4]utils.Point) ([9]float64, bool) {
	// Augmented 8x9 system in the unknowns h0..h7.
	var m [8][9]float64
	for i := range 4 {
		sx, sy := src[i].X, src[i].Y
		dx, dy := dst[i].X, dst[i].Y
		m[2*i] = [9]float64{sx, sy, 1, 0, 0, 0, -sx * dx, -sy * dx, dx}
		m[2*i+1] = [9]float64{0, 0, 0, sx, sy, 1, -sx * dy, -sy * dy, dy}
	}

	// Gauss-Jordan with partial pivoting.
	for col := range 8 {
		pivot := col
		for r := col + 1; r < 8; r++ {
			if math.Abs(m[r][col]) > math.Abs(m[pivot][col]) {
				pivot = r
			}
		}
		if math.Abs(m[pivot][col]) < 1e-12 {
			return [9]float64{}, false
		}
		m[col], m[pivot] = m[pivot], m[col]

		inv := 1 / m[col][col]
		for c := col; c < 9; c++ {
			m[col][c] *= inv
		}
		for r := range 8 {
			if r == col || m[r][col] == 0 {
				continue
			}
			f := m[r][col]
			for c := col; c < 9; c++ {
				m[r][c] -= f * m[col][c]
			}
		}
	}

	return [9]float64{
		m[0][8], m[1][8], m[2][8],
		m[3][8], m[4][8], m[5][8],
		m[6][8], m[7][8], 1,
	}, true
}

// applyHomography maps (x, y) through H.
func applyHomography(h [9]float64, x, y float64) (float64, float64) {
	d := h[6]*x + h[7]*y + h[8]
	if d == 0 {
		return math.Inf(-1), math.Inf(-1)
	}
	return (h[0]*x + h[1]*y + h[2]) / d, (h[3]*x + h[4]*y + h[5]) / d
}
