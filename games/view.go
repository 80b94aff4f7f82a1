/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package games

import (
	"fmt"
	"slices"
)

// View is the read-only projection of a Game used by every renderer.
type View struct {
	Squares    Board      `json:"squares"`
	Highlights []int      `json:"highlights"`
	Status     string     `json:"status"`
	Winner     Mark       `json:"winner,omitempty"`
	Draw       bool       `json:"draw"`
	Next       Mark       `json:"next"`
	Step       int        `json:"step"`
	Ascending  bool       `json:"ascending"`
	SortLabel  string     `json:"sort_label"`
	Moves      []MoveView `json:"moves"`
}

type MoveView struct {
	Step    int    `json:"step"`
	Label   string `json:"label"`
	Row     int    `json:"row"`
	Col     int    `json:"col"`
	Current bool   `json:"current"`
}

// Coordinates maps a cell index to its 1-indexed row and column.
func Coordinates(cell int) (int, int) {
	return (cell/3)%3 + 1, cell%3 + 1
}

func MoveLabel(step, coordinate int) string {
	if step == 0 {
		return "Go to game start"
	}

	row, col := Coordinates(coordinate)

	return fmt.Sprintf("Go to move #%d (%d, %d)", step, row, col)
}

func Status(b Board, next Mark) string {
	switch {
	case b.Winner() != Empty:
		return "Winner: " + string(b.Winner())
	case IsDraw(b):
		return "Draw!"
	default:
		return "Next player: " + string(next)
	}
}

func (g *Game) View() View {
	current := g.Current()

	v := View{
		Squares:    current.Board,
		Highlights: []int{},
		Status:     Status(current.Board, g.Next()),
		Winner:     current.Board.Winner(),
		Draw:       IsDraw(current.Board),
		Next:       g.Next(),
		Step:       g.step,
		Ascending:  g.ascending,
		SortLabel:  "Ascending",
	}

	if line, ok := CheckWin(current.Board); ok {
		v.Highlights = line[:]
	}

	if !g.ascending {
		v.SortLabel = "Descending"
	}

	steps := g.Ordered()
	v.Moves = make([]MoveView, 0, len(steps))
	for _, step := range steps {
		entry := g.history[step]

		mv := MoveView{
			Step:    step,
			Label:   MoveLabel(step, entry.Coordinate),
			Current: step == g.step,
		}
		if step > 0 {
			mv.Row, mv.Col = Coordinates(entry.Coordinate)
		}

		v.Moves = append(v.Moves, mv)
	}

	return v
}

// Highlighted reports whether cell is part of the winning line.
func (v View) Highlighted(cell int) bool {
	return slices.Contains(v.Highlights, cell)
}
