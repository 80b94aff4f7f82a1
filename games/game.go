/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package games

import "slices"

// Entry is a board snapshot plus the cell played to reach it.
// The first entry of every game is the empty board with coordinate 0.
type Entry struct {
	Board      Board
	Coordinate int
}

// Game is the move history of a single board, plus the cursor into it.
// It is not safe for concurrent use; callers serialize access.
type Game struct {
	history   []Entry
	step      int
	xIsNext   bool
	ascending bool
}

func NewGame() *Game {
	return &Game{
		history:   []Entry{{}},
		xIsNext:   true,
		ascending: true,
	}
}

// Play marks cell i for the player to move, discarding any history past the cursor.
// It returns false, leaving the game untouched, when the move is not allowed.
func (g *Game) Play(i int) bool {
	if i < 0 || i >= len(Board{}) {
		return false
	}

	current := g.history[g.step].Board
	if _, won := CheckWin(current); won || current[i] != Empty {
		return false
	}

	next := current
	next[i] = g.Next()

	g.history = append(g.history[:g.step+1], Entry{
		Board:      next,
		Coordinate: i,
	})
	g.step = len(g.history) - 1
	g.xIsNext = !g.xIsNext

	return true
}

// JumpTo moves the cursor to an existing step without touching the history.
func (g *Game) JumpTo(step int) bool {
	if step < 0 || step >= len(g.history) {
		return false
	}

	g.step = step
	g.xIsNext = step%2 == 0

	return true
}

func (g *Game) ToggleSort() {
	g.ascending = !g.ascending
}

func (g *Game) Step() int {
	return g.step
}

func (g *Game) Len() int {
	return len(g.history)
}

func (g *Game) Ascending() bool {
	return g.ascending
}

func (g *Game) Current() Entry {
	return g.history[g.step]
}

// Next returns the mark of the player to move.
func (g *Game) Next() Mark {
	if g.xIsNext {
		return X
	}

	return O
}

func (g *Game) History() []Entry {
	return append([]Entry(nil), g.history...)
}

// Ordered returns the history step indices in display order.
func (g *Game) Ordered() []int {
	steps := make([]int, len(g.history))
	for i := range steps {
		steps[i] = i
	}

	if !g.ascending {
		slices.Reverse(steps)
	}

	return steps
}
