package graph

import (
	"context"
	"math"
	"slices"
	"strings"
)

// assessImpact computes the programs affected by changing the given ones
// using only Store reads, so every backend shares the same semantics.
// A program is affected when it CALLs or COPYs an affected program, or
// when one of its job steps EXECUTES one.
func assessImpact(ctx context.Context, s Store, changed []string) (*ImpactResult, error) {
	changedSet := make(map[string]bool, len(changed))
	for _, c := range changed {
		changedSet[c] = true
	}

	affected := make(map[string]bool)
	var direct []string
	frontier := slices.Clone(changed)
	for wave := 0; len(frontier) > 0; wave++ {
		var next []string
		for _, prog := range frontier {
			dependents, err := dependentsOf(ctx, s, prog)
			if err != nil {
				return nil, err
			}
			for _, d := range dependents {
				if changedSet[d] || affected[d] {
					continue
				}
				affected[d] = true
				next = append(next, d)
				if wave == 0 {
					direct = append(direct, d)
				}
			}
		}
		frontier = next
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		return nil, err
	}
	transitive := make([]string, 0, len(affected))
	for k := range affected {
		transitive = append(transitive, k)
	}
	slices.Sort(transitive)
	slices.Sort(direct)
	if direct == nil {
		direct = []string{}
	}

	changedSorted := slices.Clone(changed)
	slices.Sort(changedSorted)

	var risk float64
	if stats.ProgramCount > 0 {
		risk = math.Min(1, float64(len(transitive))/float64(stats.ProgramCount))
	}
	return &ImpactResult{
		Changed:              slices.Compact(changedSorted),
		DirectlyAffected:     direct,
		TransitivelyAffected: transitive,
		RiskScore:            risk,
	}, nil
}

// dependentsOf returns the programs one hop upstream of prog.
func dependentsOf(ctx context.Context, s Store, prog string) ([]string, error) {
	var out []string
	for _, kind := range []EdgeKind{EdgeKindCalls, EdgeKindCopies, EdgeKindExecutes} {
		chains, err := s.GetDependencies(ctx, prog, kind, DirectionIncoming, 1)
		if err != nil {
			return nil, err
		}
		for _, c := range chains {
			id := c.Nodes[len(c.Nodes)-1]
			if kind == EdgeKindExecutes {
				// Source of EXECUTES is a job step; its owner is the job.
				id, _, _ = strings.Cut(id, ":")
			}
			out = append(out, id)
		}
	}
	return out, nil
}
