package propd

import (
	"math"

	"propd/domain/compositional"
)

// thetaAll combines the VLR sufficient statistics of one pair into the three
// differential-proportionality statistics:
//
//	theta_d = (p1*V1 + p2*V2) / (p*V)
//	theta_e = 1 - max(p1*V1, p2*V2) / (p*V)
//	theta_f =     max(p1*V1, p2*V2) / (p*V)
//
// so theta_e + theta_f == 1 identically for non-degenerate pairs. When V is
// zero or any VLR is undefined, every statistic is explicitly forced to 1;
// theta_f gets its own clamp rather than being derived from theta_e.
func thetaAll(v, v1, v2, p, p1, p2 float64) (td, te, tf float64, degenerate bool) {
	if isDegenerate(v, v1, v2) {
		return 1, 1, 1, true
	}
	total := p * v
	within := p1*v1 + p2*v2
	dominant := math.Max(p1*v1, p2*v2)

	td = within / total
	if td > 1 {
		td = 1
	}
	tf = dominant / total
	if tf > 1 {
		tf = 1
	}
	te = 1 - tf
	return td, te, tf, false
}

// thetaOne evaluates a single statistic for the permutation loop, skipping
// everything else. theta_mod is handled separately by the moderated FDR path.
func thetaOne(stat compositional.Statistic, v, v1, v2, p, p1, p2 float64) float64 {
	if isDegenerate(v, v1, v2) {
		return 1
	}
	total := p * v
	switch stat {
	case compositional.StatThetaE:
		t := 1 - math.Max(p1*v1, p2*v2)/total
		if t < 0 {
			t = 0
		}
		return t
	case compositional.StatThetaF:
		t := math.Max(p1*v1, p2*v2) / total
		if t > 1 {
			t = 1
		}
		return t
	default:
		t := (p1*v1 + p2*v2) / total
		if t > 1 {
			t = 1
		}
		return t
	}
}

func isDegenerate(v, v1, v2 float64) bool {
	return v == 0 || math.IsNaN(v) || math.IsNaN(v1) || math.IsNaN(v2)
}
