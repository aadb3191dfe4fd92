package obs

import (
	"context"
	"sort"

	"github.com/cdr/cdr/internal/platform/apperrors"
)

// RepoEvaluator reduces a person's observation history for one concept
// straight from the repository. It is the default Evaluator; deployments
// with an external rules engine can swap in their own.
type RepoEvaluator struct {
	repo Repository
}

func NewRepoEvaluator(repo Repository) *RepoEvaluator {
	return &RepoEvaluator{repo: repo}
}

func (e *RepoEvaluator) Evaluate(ctx context.Context, personID, conceptID int64, agg Aggregation, cons Constraint) ([]*Obs, error) {
	list, err := e.repo.Find(ctx, Filter{
		PersonID:      personID,
		ConceptID:     conceptID,
		IncludeVoided: cons.IncludeVoided,
	})
	if err != nil {
		return nil, apperrors.Persistence("evaluate obs", err)
	}
	list = applyConstraint(list, cons)

	switch agg.Function {
	case "", "all":
		return list, nil
	case "latest":
		return lastN(list, agg.N), nil
	case "earliest":
		return firstN(list, agg.N), nil
	case "min":
		return extremum(list, func(a, b float64) bool { return a < b }), nil
	case "max":
		return extremum(list, func(a, b float64) bool { return a > b }), nil
	default:
		return nil, apperrors.Validation("unknown aggregation function %q", agg.Function)
	}
}

func applyConstraint(list []*Obs, cons Constraint) []*Obs {
	out := []*Obs{}
	for _, o := range list {
		if cons.Since != nil && o.ObsDatetime.Before(*cons.Since) {
			continue
		}
		if cons.Until != nil && o.ObsDatetime.After(*cons.Until) {
			continue
		}
		if cons.MinValue != nil || cons.MaxValue != nil {
			if o.ValueNumeric == nil {
				continue
			}
			if cons.MinValue != nil && *o.ValueNumeric < *cons.MinValue {
				continue
			}
			if cons.MaxValue != nil && *o.ValueNumeric > *cons.MaxValue {
				continue
			}
		}
		out = append(out, o)
	}
	return out
}

// lastN returns the n most recent observations, most recent first.
func lastN(list []*Obs, n int) []*Obs {
	sorted := make([]*Obs, len(list))
	copy(sorted, list)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].ObsDatetime.After(sorted[j].ObsDatetime)
	})
	if n <= 0 {
		n = 1
	}
	if n > len(sorted) {
		n = len(sorted)
	}
	return sorted[:n]
}

func firstN(list []*Obs, n int) []*Obs {
	sorted := make([]*Obs, len(list))
	copy(sorted, list)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].ObsDatetime.Before(sorted[j].ObsDatetime)
	})
	if n <= 0 {
		n = 1
	}
	if n > len(sorted) {
		n = len(sorted)
	}
	return sorted[:n]
}

func extremum(list []*Obs, better func(a, b float64) bool) []*Obs {
	var pick *Obs
	for _, o := range list {
		if o.ValueNumeric == nil {
			continue
		}
		if pick == nil || better(*o.ValueNumeric, *pick.ValueNumeric) {
			pick = o
		}
	}
	if pick == nil {
		return []*Obs{}
	}
	return []*Obs{pick}
}
