package engine

import (
	"context"
	"math"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	defaultTimeBudget = 10 * time.Second
	boundEpsilon      = 1e-6
)

var noiseLevels = []float64{0, 0.02, 0.1, 0.3, 1.0}

var costWeights = []float64{0.5, 1, 2, 5, 20}

// SearchSolver est le solveur natif: des décodages série répétés avec des
// priorités perturbées, sur plusieurs workers, en gardant la meilleure
// solution. OPTIMAL n'est annoncé que si la borne inférieure est atteinte.
type SearchSolver struct {
	logger zerolog.Logger
}

func NewSearchSolver(logger zerolog.Logger) *SearchSolver {
	return &SearchSolver{logger: logger.With().Str("component", "search").Logger()}
}

type incumbent struct {
	mu   sync.Mutex
	best *Solution
	iter int
}

func (in *incumbent) offer(sol *Solution) bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.best == nil || sol.Objective < in.best.Objective-boundEpsilon {
		in.best = sol
		return true
	}
	return false
}

func (s *SearchSolver) Solve(ctx context.Context, m *Model, obj Objective, params SolveParams) (*Solution, error) {
	started := time.Now()
	bound := lowerBound(m, obj)
	if len(m.Infeasible) > 0 {
		return &Solution{Status: StatusInfeasible, Bound: bound, Reason: strings.Join(m.Infeasible, "; ")}, nil
	}
	if len(m.Tasks) == 0 {
		return &Solution{Status: StatusOptimal, Assignments: []TaskAssignment{}, WallTime: time.Since(started)}, nil
	}

	budget := params.TimeBudget
	if budget <= 0 {
		budget = defaultTimeBudget
	}
	workers := params.Workers
	if workers <= 0 {
		workers = 1
	}
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	inc := &incumbent{}
	if ws := params.WarmStart; ws != nil && len(ws.Assignments) == len(m.Tasks) {
		warm := *ws
		warm.Objective = objectiveOf(&warm, obj)
		if accepts(&warm, params) {
			inc.offer(&warm)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		w := w
		g.Go(func() error {
			r := rand.New(rand.NewSource(params.Seed + int64(w)*7919))
			for it := 0; params.MaxIterations <= 0 || it < params.MaxIterations; it++ {
				if gctx.Err() != nil {
					return nil
				}
				st := s.strategy(m, obj, r, w == 0 && it == 0)
				dec := newDecoder(m, r)
				ok := dec.run(st)
				inc.mu.Lock()
				inc.iter++
				inc.mu.Unlock()
				if !ok {
					continue
				}
				sol := dec.solution()
				sol.Objective = objectiveOf(sol, obj)
				if !accepts(sol, params) {
					continue
				}
				if inc.offer(sol) && sol.Objective <= bound+boundEpsilon {
					cancel()
					return nil
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	inc.mu.Lock()
	defer inc.mu.Unlock()
	if inc.best == nil {
		s.logger.Debug().Str("objective", obj.String()).Int("iterations", inc.iter).Msg("no feasible schedule found")
		return &Solution{Status: StatusUnknown, Bound: bound, Iterations: inc.iter, WallTime: time.Since(started),
			Reason: "no feasible schedule found within the time budget"}, nil
	}
	best := *inc.best
	best.Bound = bound
	best.Iterations = inc.iter
	best.WallTime = time.Since(started)
	best.Status = StatusFeasible
	if best.Objective <= bound+boundEpsilon {
		best.Status = StatusOptimal
	}
	s.logger.Debug().Str("objective", obj.String()).Float64("value", best.Objective).Float64("bound", bound).
		Int("iterations", inc.iter).Str("status", string(best.Status)).Msg("search finished")
	return &best, nil
}

func accepts(sol *Solution, params SolveParams) bool {
	return params.Phase1Cap == nil || sol.Phase1Objective() <= *params.Phase1Cap+boundEpsilon
}

func objectiveOf(sol *Solution, obj Objective) float64 {
	if obj == MinimizeOperatorCost {
		return sol.OperatorCost
	}
	return sol.Phase1Objective()
}

// strategy tire les priorités d'un décodage. Le premier décodage du premier
// worker applique la règle pure: échéance, priorité, criticité, position.
func (s *SearchSolver) strategy(m *Model, obj Objective, r *rand.Rand, pure bool) strategy {
	scale := float64(m.HorizonMinutes)
	if scale < 1 {
		scale = 1
	}
	noise := 0.0
	if !pure {
		noise = noiseLevels[r.Intn(len(noiseLevels))] * scale
	}
	keys := make([]float64, len(m.Tasks))
	for ti, t := range m.Tasks {
		job := m.Jobs[t.JobIdx]
		k := 2 * scale
		if job.HasDue {
			k = float64(job.Due)
		}
		k -= 120 * float64(job.Priority)
		if t.Critical {
			k -= 30
		}
		k += float64(t.Position) * 1e-3
		if noise > 0 {
			k += r.Float64() * noise
		}
		keys[ti] = k
	}
	st := strategy{keys: keys, costWeight: 1e-3}
	if obj == MinimizeOperatorCost {
		st.costWeight = costWeights[r.Intn(len(costWeights))]
		if pure {
			st.costWeight = costWeights[len(costWeights)-1]
		}
	}
	if !pure {
		st.optionNoise = r.Float64() * noise * 0.1
		st.shuffleOps = r.Intn(4) == 0
	}
	return st
}

// lowerBound ignore ressources et calendrier: chemin le plus long depuis la
// date de lancement pour la phase 1, opérateurs les moins chers pour la
// phase 2.
func lowerBound(m *Model, obj Objective) float64 {
	if obj == MinimizeOperatorCost {
		return costBound(m)
	}
	ef := make([]int, len(m.Tasks))
	done := make([]bool, len(m.Tasks))
	var finish func(ti int) int
	finish = func(ti int) int {
		if done[ti] {
			return ef[ti]
		}
		t := m.Tasks[ti]
		start := m.Jobs[t.JobIdx].Release
		if start < 0 {
			start = 0
		}
		for _, p := range t.Preds {
			if f := finish(p); f > start {
				start = f
			}
		}
		minDur := math.MaxInt32
		for _, ii := range t.Intervals {
			if d := m.Intervals[ii].Duration(); d < minDur {
				minDur = d
			}
		}
		if minDur == math.MaxInt32 {
			minDur = 0
		}
		ef[ti], done[ti] = start+minDur, true
		return ef[ti]
	}
	makespan, tardiness := 0, 0
	for _, j := range m.Jobs {
		end := 0
		for _, ti := range j.Tasks {
			if f := finish(ti); f > end {
				end = f
			}
		}
		if end > makespan {
			makespan = end
		}
		if len(j.Tasks) > 0 && j.HasDue && end > j.Due {
			tardiness += end - j.Due
		}
	}
	return Phase1Objective(tardiness, makespan)
}

func costBound(m *Model) float64 {
	total := 0.0
	for _, t := range m.Tasks {
		best := math.Inf(1)
		for _, ii := range t.Intervals {
			iv := m.Intervals[ii]
			if iv.Operators == 0 || iv.OperatorDuration() == 0 {
				best = 0
				break
			}
			if len(t.Slots) == 0 {
				continue
			}
			costs := []float64{}
			for _, oi := range m.Slots[t.Slots[0]].Eligible {
				costs = append(costs, m.Operators[oi].CostPerMinute)
			}
			if len(costs) < iv.Operators {
				continue
			}
			sort.Float64s(costs)
			c := 0.0
			for _, v := range costs[:iv.Operators] {
				c += v * float64(iv.OperatorDuration())
			}
			if c < best {
				best = c
			}
		}
		if !math.IsInf(best, 1) {
			total += best
		}
	}
	return total
}
