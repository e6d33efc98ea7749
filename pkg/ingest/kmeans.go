package ingest

import (
	"math/rand"

	"github.com/replyworks/sage/pkg/similarity"
)

// kmeans clusters the vectors into at most k groups: kmeans++ seeding,
// then Lloyd iterations until assignments settle or maxIters. The seeded
// rng makes runs reproducible, so re-staging the same upload yields the
// same clusters. Returns the cluster index per input vector.
func kmeans(vectors [][]float32, k, maxIters int, seed int64) []int {
	n := len(vectors)
	if n == 0 {
		return nil
	}
	if k > n {
		k = n
	}
	assign := make([]int, n)
	if k <= 1 {
		return assign
	}
	if maxIters <= 0 {
		maxIters = 20
	}

	rng := rand.New(rand.NewSource(seed))
	centroids := seedCentroids(vectors, k, rng)

	for iter := 0; iter < maxIters; iter++ {
		changed := false
		for i, v := range vectors {
			best := nearestCentroid(v, centroids)
			if assign[i] != best {
				assign[i] = best
				changed = true
			}
		}
		if !changed && iter > 0 {
			break
		}

		groups := make([][][]float32, len(centroids))
		for i, v := range vectors {
			groups[assign[i]] = append(groups[assign[i]], v)
		}
		for c := range centroids {
			// empty clusters keep their previous centroid
			if mean := similarity.Centroid(groups[c]); mean != nil {
				centroids[c] = mean
			}
		}
	}
	return assign
}

// seedCentroids implements kmeans++ seeding: the first centroid is drawn
// uniformly, each subsequent one with probability proportional to the
// squared cosine distance from the nearest already-chosen centroid.
func seedCentroids(vectors [][]float32, k int, rng *rand.Rand) [][]float32 {
	centroids := make([][]float32, 0, k)
	centroids = append(centroids, vectors[rng.Intn(len(vectors))])

	dists := make([]float64, len(vectors))
	for len(centroids) < k {
		var total float64
		for i, v := range vectors {
			d := 1 - similarity.Cosine(v, centroids[nearestCentroid(v, centroids)])
			dists[i] = d * d
			total += dists[i]
		}
		if total == 0 {
			// every point coincides with a centroid already
			centroids = append(centroids, vectors[rng.Intn(len(vectors))])
			continue
		}
		target := rng.Float64() * total
		idx := len(vectors) - 1
		for i, d := range dists {
			target -= d
			if target <= 0 {
				idx = i
				break
			}
		}
		centroids = append(centroids, vectors[idx])
	}
	return centroids
}

func nearestCentroid(v []float32, centroids [][]float32) int {
	best, bestScore := 0, -2.0
	for c, centroid := range centroids {
		if score := similarity.Cosine(v, centroid); score > bestScore {
			best, bestScore = c, score
		}
	}
	return best
}
