package engine

import (
	"math"
	"math/rand"
	"sort"

	"github.com/rmasciarella/Vulcan-MES-sub002/internal/domain"
)

const (
	maxPlacementSteps = 5000
	shiftProbeMinutes = 30
	openEnded         = math.MaxInt32
)

type span struct{ s, e int }

type presence struct {
	entry, exit int
	remaining   int
}

func (p *presence) open() bool { return p.remaining > 0 }

// strategy paramètre un décodage: clés de priorité des tâches, poids du coût
// dans le choix d'option et bruit sur le choix des opérateurs.
type strategy struct {
	keys        []float64
	costWeight  float64
	optionNoise float64
	shuffleOps  bool
}

// decoder est un générateur de planning série: il place une tâche éligible à
// la fois, au plus tôt, en respectant toutes les contraintes dures.
type decoder struct {
	m *Model
	r *rand.Rand

	placed   []bool
	start    []int
	end      []int
	interval []int
	ops      [][]int

	machineBusy [][]span
	opBusy      [][]span
	opLoad      []int
	zones       []map[int]*presence
	zoneOf      [][]int

	fitCache map[[2]int]int
}

func newDecoder(m *Model, r *rand.Rand) *decoder {
	d := &decoder{
		m:           m,
		r:           r,
		placed:      make([]bool, len(m.Tasks)),
		start:       make([]int, len(m.Tasks)),
		end:         make([]int, len(m.Tasks)),
		interval:    make([]int, len(m.Tasks)),
		ops:         make([][]int, len(m.Tasks)),
		machineBusy: make([][]span, len(m.Machines)),
		opBusy:      make([][]span, len(m.Operators)),
		opLoad:      make([]int, len(m.Operators)),
		zones:       make([]map[int]*presence, len(m.WIPZones)),
		zoneOf:      make([][]int, len(m.Tasks)),
		fitCache:    map[[2]int]int{},
	}
	for zi, z := range m.WIPZones {
		d.zones[zi] = map[int]*presence{}
		for _, e := range z.Entries {
			for _, ti := range e.Tasks {
				d.zoneOf[ti] = append(d.zoneOf[ti], zi)
			}
		}
	}
	return d
}

type candidate struct {
	interval int
	start    int
	ops      []int
	score    float64
}

// run décode une solution complète; false si une tâche ne peut être placée.
func (d *decoder) run(st strategy) bool {
	remaining := len(d.m.Tasks)
	for remaining > 0 {
		eligible := d.eligible()
		if len(eligible) == 0 {
			return false
		}
		sort.SliceStable(eligible, func(a, b int) bool {
			ka, kb := d.rank(eligible[a], st), d.rank(eligible[b], st)
			if ka != kb {
				return ka < kb
			}
			return eligible[a] < eligible[b]
		})
		placedOne := false
		for _, ti := range eligible {
			if c, ok := d.best(ti, st); ok {
				d.commit(ti, c)
				placedOne = true
				break
			}
		}
		if !placedOne {
			return false
		}
		remaining--
	}
	return true
}

func (d *decoder) eligible() []int {
	var out []int
	for ti, t := range d.m.Tasks {
		if d.placed[ti] {
			continue
		}
		ready := true
		for _, p := range t.Preds {
			if !d.placed[p] {
				ready = false
				break
			}
		}
		if ready {
			out = append(out, ti)
		}
	}
	return out
}

// rank favorise les tâches d'un job déjà entré dans une zone WIP, pour que
// la zone se libère au plus vite.
func (d *decoder) rank(ti int, st strategy) float64 {
	k := st.keys[ti]
	job := d.m.Tasks[ti].JobIdx
	for _, zi := range d.zoneOf[ti] {
		if p, ok := d.zones[zi][job]; ok && p.open() {
			return k - 1e12
		}
	}
	return k
}

func (d *decoder) est(ti int) int {
	t := d.m.Tasks[ti]
	est := d.m.Jobs[t.JobIdx].Release
	if est < 0 {
		est = 0
	}
	for _, p := range t.Preds {
		if d.end[p] > est {
			est = d.end[p]
		}
	}
	return est
}

func (d *decoder) best(ti int, st strategy) (candidate, bool) {
	est := d.est(ti)
	var best *candidate
	for _, ii := range d.m.Tasks[ti].Intervals {
		start, ops, ok := d.earliest(ti, ii, est, st)
		if !ok {
			continue
		}
		iv := d.m.Intervals[ii]
		c := candidate{interval: ii, start: start, ops: ops}
		c.score = float64(start+iv.Duration()) + st.costWeight*d.cost(iv, ops)
		if st.optionNoise > 0 {
			c.score += d.r.Float64() * st.optionNoise
		}
		if best == nil || c.score < best.score {
			cc := c
			best = &cc
		}
	}
	if best == nil {
		return candidate{}, false
	}
	return *best, true
}

func (d *decoder) cost(iv IntervalVar, ops []int) float64 {
	total := 0.0
	for _, o := range ops {
		total += d.m.Operators[o].CostPerMinute * float64(iv.OperatorDuration())
	}
	return total
}

// earliest renvoie le premier début >= est compatible avec la machine, le
// calendrier, les zones WIP et la disponibilité des opérateurs.
func (d *decoder) earliest(ti, ii, est int, st strategy) (int, []int, bool) {
	iv := d.m.Intervals[ii]
	dur, opDur, gated := iv.Duration(), iv.OperatorDuration(), iv.GatedDuration()
	staffed := iv.Operators > 0 && opDur > 0
	t := est
	for step := 0; step < maxPlacementSteps; step++ {
		if gated > 0 {
			fit, ok := d.calendarFit(t, gated)
			if !ok {
				return 0, nil, false
			}
			t = fit
		}
		if t+dur > d.m.HorizonMinutes {
			return 0, nil, false
		}
		if next, busy := blockedAt(d.machineBusy[iv.MachineIdx], d.m.Machines[iv.MachineIdx].Capacity, t, t+dur); busy {
			t = next
			continue
		}
		if next, blocked, hard := d.zoneBlocked(ti, t); blocked {
			if hard {
				return 0, nil, false
			}
			t = next
			continue
		}
		if iv.Operators == 0 {
			return t, nil, true
		}
		free, release, offShift := d.freeOperators(ti, t, t+opDur, staffed)
		if len(free) < iv.Operators {
			switch {
			case release > t:
				t = release
			case offShift:
				t += shiftProbeMinutes
			default:
				return 0, nil, false
			}
			continue
		}
		return t, d.pickOperators(free, iv.Operators, st), true
	}
	return 0, nil, false
}

func (d *decoder) calendarFit(t, dur int) (int, bool) {
	key := [2]int{t, dur}
	if v, ok := d.fitCache[key]; ok {
		return v, v >= 0
	}
	fit, ok := d.m.Calendar.EarliestFit(d.m.TimeAt(t), domain.Duration(dur))
	v := -1
	if ok {
		v = d.m.OffsetOf(fit)
	}
	d.fitCache[key] = v
	return v, ok
}

// blockedAt: si [s, e) dépasse la capacité, renvoie la première fin qui
// libère une place.
func blockedAt(busy []span, capacity, s, e int) (int, bool) {
	var overlap []span
	release := -1
	for _, b := range busy {
		if b.s < e && s < b.e {
			overlap = append(overlap, b)
			if release < 0 || b.e < release {
				release = b.e
			}
		}
	}
	if len(overlap) < capacity {
		return 0, false
	}
	if peak(append(overlap, span{s, e})) <= capacity {
		return 0, false
	}
	return release, true
}

func peak(spans []span) int {
	type edge struct{ at, delta int }
	edges := make([]edge, 0, 2*len(spans))
	for _, sp := range spans {
		edges = append(edges, edge{sp.s, 1}, edge{sp.e, -1})
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].at == edges[j].at {
			return edges[i].delta < edges[j].delta
		}
		return edges[i].at < edges[j].at
	})
	cur, best := 0, 0
	for _, e := range edges {
		cur += e.delta
		if cur > best {
			best = cur
		}
	}
	return best
}

// zoneBlocked applique la capacité des zones WIP de façon cumulative. À
// l'entrée d'un job, sa présence est supposée ouverte jusqu'à l'infini, de
// même que celle des jobs encore dans la zone. hard signale qu'aucun retard
// ne peut lever le blocage.
func (d *decoder) zoneBlocked(ti, s int) (next int, blocked bool, hard bool) {
	job := d.m.Tasks[ti].JobIdx
	for _, zi := range d.zoneOf[ti] {
		zone := d.m.WIPZones[zi]
		if p, ok := d.zones[zi][job]; ok {
			if s < p.entry {
				return p.entry, true, false
			}
			continue
		}
		var others []span
		open := 0
		release := -1
		for j, p := range d.zones[zi] {
			if j == job {
				continue
			}
			if p.open() {
				open++
				others = append(others, span{max(p.entry, s), openEnded})
				continue
			}
			if p.exit > s {
				others = append(others, span{max(p.entry, s), p.exit})
				if release < 0 || p.exit < release {
					release = p.exit
				}
			}
		}
		if open+1 > zone.Max {
			return 0, true, true
		}
		if peak(others)+1 > zone.Max {
			if release < 0 {
				return 0, true, true
			}
			return release, true, false
		}
	}
	return 0, false, false
}

func (d *decoder) freeOperators(ti, s, e int, staffed bool) (free []int, release int, offShift bool) {
	release = -1
	slots := d.m.Tasks[ti].Slots
	if len(slots) == 0 {
		return nil, release, false
	}
	// toutes les places d'une tâche partagent la même liste d'éligibles
	w := domain.TimeWindow{Start: d.m.TimeAt(s), End: d.m.TimeAt(e)}
	for _, oi := range d.m.Slots[slots[0]].Eligible {
		if !staffed {
			free = append(free, oi)
			continue
		}
		if !d.m.Operators[oi].Operator.CoversWindow(w) {
			offShift = true
			continue
		}
		if next, busy := blockedAt(d.opBusy[oi], 1, s, e); busy {
			if release < 0 || next < release {
				release = next
			}
			continue
		}
		free = append(free, oi)
	}
	return free, release, offShift
}

// pickOperators prend les moins chers, puis les moins chargés.
func (d *decoder) pickOperators(free []int, n int, st strategy) []int {
	cands := append([]int(nil), free...)
	if st.shuffleOps {
		d.r.Shuffle(len(cands), func(i, j int) { cands[i], cands[j] = cands[j], cands[i] })
	}
	sort.SliceStable(cands, func(a, b int) bool {
		ca, cb := d.m.Operators[cands[a]].CostPerMinute, d.m.Operators[cands[b]].CostPerMinute
		if ca != cb {
			return ca < cb
		}
		if st.shuffleOps {
			return false
		}
		if d.opLoad[cands[a]] != d.opLoad[cands[b]] {
			return d.opLoad[cands[a]] < d.opLoad[cands[b]]
		}
		return cands[a] < cands[b]
	})
	return cands[:n]
}

func (d *decoder) commit(ti int, c candidate) {
	iv := d.m.Intervals[c.interval]
	d.placed[ti] = true
	d.start[ti] = c.start
	d.end[ti] = c.start + iv.Duration()
	d.interval[ti] = c.interval
	d.ops[ti] = c.ops
	d.machineBusy[iv.MachineIdx] = append(d.machineBusy[iv.MachineIdx], span{d.start[ti], d.end[ti]})
	if opDur := iv.OperatorDuration(); opDur > 0 {
		for _, o := range c.ops {
			d.opBusy[o] = append(d.opBusy[o], span{c.start, c.start + opDur})
			d.opLoad[o] += opDur
		}
	}
	job := d.m.Tasks[ti].JobIdx
	for _, zi := range d.zoneOf[ti] {
		p, ok := d.zones[zi][job]
		if !ok {
			p = &presence{entry: d.start[ti], exit: d.end[ti], remaining: d.zoneTaskCount(zi, job)}
			d.zones[zi][job] = p
		}
		if d.end[ti] > p.exit {
			p.exit = d.end[ti]
		}
		p.remaining--
	}
}

func (d *decoder) zoneTaskCount(zi, job int) int {
	for _, e := range d.m.WIPZones[zi].Entries {
		if e.JobIdx == job {
			return len(e.Tasks)
		}
	}
	return 0
}

// solution évalue le décodage courant.
func (d *decoder) solution() *Solution {
	sol := &Solution{Assignments: make([]TaskAssignment, len(d.m.Tasks))}
	completion := make([]int, len(d.m.Jobs))
	hasTask := make([]bool, len(d.m.Jobs))
	for ti, t := range d.m.Tasks {
		iv := d.m.Intervals[d.interval[ti]]
		ops := make([]string, len(d.ops[ti]))
		for i, o := range d.ops[ti] {
			ops[i] = d.m.Operators[o].ID
		}
		job := d.m.Jobs[t.JobIdx]
		sol.Assignments[ti] = TaskAssignment{
			TaskID:      t.ID,
			JobID:       job.ID,
			IntervalID:  iv.ID,
			MachineID:   d.m.Machines[iv.MachineIdx].ID,
			OptionIdx:   iv.OptionIdx,
			Start:       d.start[ti],
			End:         d.end[ti],
			Setup:       iv.Setup,
			Attended:    iv.Attended,
			OperatorIDs: ops,
		}
		sol.OperatorCost += d.cost(iv, d.ops[ti])
		if d.end[ti] > sol.Makespan {
			sol.Makespan = d.end[ti]
		}
		if !hasTask[t.JobIdx] || d.end[ti] > completion[t.JobIdx] {
			completion[t.JobIdx] = d.end[ti]
			hasTask[t.JobIdx] = true
		}
	}
	for ji, j := range d.m.Jobs {
		if hasTask[ji] && j.HasDue && completion[ji] > j.Due {
			sol.Tardiness += completion[ji] - j.Due
		}
	}
	return sol
}
