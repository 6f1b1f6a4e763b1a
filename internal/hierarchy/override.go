package hierarchy

// OverrideIndex answers method questions over the levels of one table. Levels are
// referenced by their position in Table.Levels.
type OverrideIndex struct {
	levels   []*Level
	declared map[string][]int
	abstract map[string][]int
}

// Resolution describes which implementation a method selector picks from a level.
type Resolution struct {
	Found     bool
	Ambiguous bool
	Abstract  bool

	// Level declares the selected implementation. For abstract resolutions it is
	// the level embedding the interface.
	Level int
}

func newOverrideIndex(levels []*Level) *OverrideIndex {
	x := &OverrideIndex{
		levels:   levels,
		declared: make(map[string][]int),
		abstract: make(map[string][]int),
	}

	for i, level := range levels {
		for _, name := range level.Declared {
			x.declared[name] = append(x.declared[name], i)
		}
		for _, name := range level.Abstract {
			x.abstract[name] = append(x.abstract[name], i)
		}
	}

	return x
}

// Overrider returns the level closest to the leaf that embeds level i and
// declares name. That level's declaration is the one visible through i's
// descendants, so injection marks on i move there.
func (x *OverrideIndex) Overrider(i int, name string) (int, bool) {
	best := -1
	for _, j := range x.declared[name] {
		if j == i || !x.embeds(j, i) {
			continue
		}
		if best < 0 || len(x.levels[j].Path) < len(x.levels[best].Path) {
			best = j
		}
	}
	return best, best >= 0
}

// Resolve applies the selector rules from level i: the shallowest declaration
// among i and the levels it embeds wins; an interface embedded by a level sits
// one step deeper than the level itself; two winners at the same depth are
// ambiguous.
func (x *OverrideIndex) Resolve(i int, name string) Resolution {
	base := len(x.levels[i].Path)

	res := Resolution{Level: -1}
	bestDepth := -1
	consider := func(j, depth int, abstract bool) {
		switch {
		case bestDepth < 0 || depth < bestDepth:
			bestDepth = depth
			res = Resolution{Found: true, Abstract: abstract, Level: j}
		case depth == bestDepth:
			res.Ambiguous = true
		}
	}

	for _, j := range x.declared[name] {
		if x.embeds(i, j) {
			consider(j, len(x.levels[j].Path)-base, false)
		}
	}
	for _, j := range x.abstract[name] {
		if x.embeds(i, j) {
			consider(j, len(x.levels[j].Path)-base+1, true)
		}
	}

	return res
}

// embeds reports whether outer is inner or embeds it at any depth.
func (x *OverrideIndex) embeds(outer, inner int) bool {
	op, ip := x.levels[outer].Path, x.levels[inner].Path
	if len(op) > len(ip) {
		return false
	}
	for k := range op {
		if op[k] != ip[k] {
			return false
		}
	}
	return true
}
