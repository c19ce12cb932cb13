package geese

// RuleBasedAction is the scripted opponent policy: head toward the nearest
// food while avoiding bodies, the reverse move and, when possible, cells next
// to another goose's head. It is deterministic for a given game state.
func (g *Game) RuleBasedAction(player int) Action {
	if !g.alive[player] {
		return North
	}
	head := g.geese[player][0]

	blocked := make([]bool, Cells)
	danger := make([]bool, Cells)
	for i, goose := range g.geese {
		for _, pos := range goose {
			blocked[pos] = true
		}
		if i != player && g.alive[i] {
			for _, a := range Actions {
				danger[translate(goose[0], a)] = true
			}
		}
	}

	var safe, risky []Action
	for _, a := range Actions {
		if g.isReverse(player, a) {
			continue
		}
		next := translate(head, a)
		if blocked[next] {
			continue
		}
		if danger[next] {
			risky = append(risky, a)
		} else {
			safe = append(safe, a)
		}
	}

	candidates := safe
	if len(candidates) == 0 {
		candidates = risky
	}
	if len(candidates) == 0 {
		for _, a := range Actions {
			if !g.isReverse(player, a) {
				return a
			}
		}
	}

	best, bestDist := candidates[0], -1
	for _, a := range candidates {
		d := g.nearestFood(translate(head, a))
		if bestDist < 0 || d < bestDist {
			best, bestDist = a, d
		}
	}
	return best
}

func (g *Game) isReverse(player int, a Action) bool {
	if !g.hasLast[player] {
		return false
	}
	rev, _ := Reverse(g.last[player])
	return rev == a
}

// nearestFood returns the torus Manhattan distance from pos to the closest
// food, or 0 when there is none.
func (g *Game) nearestFood(pos int) int {
	best := -1
	for _, f := range g.food {
		if d := distance(pos, f); best < 0 || d < best {
			best = d
		}
	}
	if best < 0 {
		return 0
	}
	return best
}

func distance(a, b int) int {
	dr := abs(a/Columns - b/Columns)
	dc := abs(a%Columns - b%Columns)
	return min(dr, Rows-dr) + min(dc, Columns-dc)
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
