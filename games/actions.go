package games

// Action is a user event applied to a Game through Dispatch.
type Action interface {
	apply(g *Game) bool
}

type PlayAt struct {
	Cell int
}

type JumpToStep struct {
	Step int
}

type ToggleSort struct{}

func (a PlayAt) apply(g *Game) bool {
	return g.Play(a.Cell)
}

func (a JumpToStep) apply(g *Game) bool {
	return g.JumpTo(a.Step)
}

func (ToggleSort) apply(g *Game) bool {
	g.ToggleSort()

	return true
}

// Dispatch applies a and reports whether the game changed.
// A nil action is ignored.
func (g *Game) Dispatch(a Action) bool {
	if a == nil {
		return false
	}

	return a.apply(g)
}
