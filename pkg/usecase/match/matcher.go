package match

import (
	"math"

	"github.com/m-mizutani/facegreet/pkg/model"
)

const (
	DefaultDistanceThreshold   = 0.58
	DefaultConfidenceThreshold = 60
)

// Policy holds the two acceptance gates. A candidate must pass both.
type Policy struct {
	DistanceThreshold   float64 `yaml:"distance_threshold"`
	ConfidenceThreshold int     `yaml:"confidence_threshold"`
}

// DefaultPolicy returns the default thresholds
func DefaultPolicy() Policy {
	return Policy{
		DistanceThreshold:   DefaultDistanceThreshold,
		ConfidenceThreshold: DefaultConfidenceThreshold,
	}
}

// Confidence converts a distance into a percentage clamped to 0..100
func Confidence(distance float64) int {
	c := int(math.Round((1 - distance) * 100))
	if c < 0 {
		return 0
	}
	if c > 100 {
		return 100
	}
	return c
}

// Nearest returns the identity owning the closest reference embedding over
// all (identity, embedding) pairs. An identity is represented by its closest
// embedding, not an average. On equal distance the pair seen first in gallery
// order wins. Embeddings whose dimension differs from the query are skipped.
func Nearest(query model.Embedding, gallery []*model.Identity) (*model.Identity, float64, bool) {
	var (
		best     *model.Identity
		bestDist float64
	)

	for _, identity := range gallery {
		if identity == nil {
			continue
		}
		for _, emb := range identity.Embeddings {
			d, ok := query.Distance(emb)
			if !ok {
				continue
			}
			if best == nil || d < bestDist {
				best = identity
				bestDist = d
			}
		}
	}

	return best, bestDist, best != nil
}

// Match finds the best identity for query and applies policy. nil means no
// match, including the empty gallery case.
func Match(query model.Embedding, gallery []*model.Identity, policy Policy) *model.MatchResult {
	best, dist, ok := Nearest(query, gallery)
	if !ok {
		return nil
	}

	if dist >= policy.DistanceThreshold {
		return nil
	}

	confidence := Confidence(dist)
	if confidence < policy.ConfidenceThreshold {
		return nil
	}

	return &model.MatchResult{
		IdentityID:        best.ID,
		Name:              best.Name,
		Distance:          dist,
		ConfidencePercent: confidence,
	}
}
