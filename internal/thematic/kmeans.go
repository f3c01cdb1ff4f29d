package thematic

import (
	"math"
	"math/rand"
)

const kmeansIterations = 25

// kmeans clusters L2-normalized rows into k groups with Lloyd's algorithm
// and k-means++ seeding. Returns the assignment per row and the centroids.
// The rng makes runs reproducible for a fixed seed.
func kmeans(rows [][]float64, k int, rng *rand.Rand) (assign []int, centroids [][]float64) {
	n := len(rows)
	if n == 0 || k <= 0 {
		return nil, nil
	}
	if k > n {
		k = n
	}
	dim := len(rows[0])
	centroids = seedPlusPlus(rows, k, rng)
	assign = make([]int, n)

	for iter := 0; iter < kmeansIterations; iter++ {
		changed := false
		for i, row := range rows {
			best := nearest(row, centroids)
			if best != assign[i] {
				assign[i] = best
				changed = true
			}
		}
		if !changed && iter > 0 {
			break
		}

		counts := make([]int, k)
		next := make([][]float64, k)
		for c := range next {
			next[c] = make([]float64, dim)
		}
		for i, row := range rows {
			c := assign[i]
			counts[c]++
			for j, v := range row {
				next[c][j] += v
			}
		}
		for c := range next {
			if counts[c] == 0 {
				// Re-seed an empty cluster on a random row.
				copy(next[c], rows[rng.Intn(n)])
				continue
			}
			for j := range next[c] {
				next[c][j] /= float64(counts[c])
			}
		}
		centroids = next
	}
	return assign, centroids
}

// seedPlusPlus picks initial centroids proportional to squared distance
// from the already-chosen ones.
func seedPlusPlus(rows [][]float64, k int, rng *rand.Rand) [][]float64 {
	n := len(rows)
	centroids := make([][]float64, 0, k)
	centroids = append(centroids, append([]float64(nil), rows[rng.Intn(n)]...))

	dists := make([]float64, n)
	for len(centroids) < k {
		var total float64
		for i, row := range rows {
			d := sqDist(row, centroids[nearest(row, centroids)])
			dists[i] = d
			total += d
		}
		if total == 0 {
			centroids = append(centroids, append([]float64(nil), rows[rng.Intn(n)]...))
			continue
		}
		target := rng.Float64() * total
		var acc float64
		pick := n - 1
		for i, d := range dists {
			acc += d
			if acc >= target {
				pick = i
				break
			}
		}
		centroids = append(centroids, append([]float64(nil), rows[pick]...))
	}
	return centroids
}

func nearest(row []float64, centroids [][]float64) int {
	best, bestDist := 0, math.Inf(1)
	for c, centroid := range centroids {
		if d := sqDist(row, centroid); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}

func sqDist(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}
