/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"github.com/spf13/cobra"

	"github.com/Seednode/tictactoe/games"
)

const playHint = "[dimgray]1-9[-] play  [dimgray]s[-] sort  [dimgray]tab[-] focus  [dimgray]q[-] quit"

// terminalGame renders a local game with tview, using the same controller as the web view.
type terminalGame struct {
	app    *tview.Application
	game   *games.Game
	cells  [9]*tview.Button
	status *tview.TextView
	sort   *tview.Button
	moves  *tview.List

	focusables []tview.Primitive
	focused    int
}

func newPlayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "play",
		Short: "Play a local hot-seat game in the terminal.",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			return newTerminalGame().run()
		},
	}
}

// keyAction maps a key press to a game action: 1-9 are the cells in reading order.
func keyAction(r rune) (games.Action, bool) {
	switch {
	case r >= '1' && r <= '9':
		return games.PlayAt{Cell: int(r - '1')}, true
	case r == 's' || r == 'S':
		return games.ToggleSort{}, true
	default:
		return nil, false
	}
}

func cellText(m games.Mark) string {
	if m == games.Empty {
		return " "
	}
	return string(m)
}

func moveText(mv games.MoveView) string {
	if mv.Current {
		return "[::b]" + mv.Label + "[::-]"
	}
	return mv.Label
}

func newTerminalGame() *terminalGame {
	t := &terminalGame{
		app:  tview.NewApplication(),
		game: games.NewGame(),
	}

	board := tview.NewGrid().
		SetRows(3, 3, 3).
		SetColumns(7, 7, 7).
		SetGap(0, 1)
	board.SetBorder(true).SetTitle(" Board ")

	for i := range t.cells {
		cell := i
		b := tview.NewButton(" ")
		b.SetSelectedFunc(func() {
			t.apply(games.PlayAt{Cell: cell})
		})
		t.cells[i] = b
		t.focusables = append(t.focusables, b)
		board.AddItem(b, i/3, i%3, 1, 1, 0, 0, i == 4)
	}

	t.status = tview.NewTextView()
	t.status.SetBorder(true).SetTitle(" Status ")

	t.sort = tview.NewButton("Ascending")
	t.sort.SetSelectedFunc(func() {
		t.apply(games.ToggleSort{})
	})

	t.moves = tview.NewList()
	t.moves.ShowSecondaryText(false)
	t.moves.SetHighlightFullLine(true)
	t.moves.SetBorder(true).SetTitle(" History ")

	t.focusables = append(t.focusables, t.sort, t.moves)
	t.focused = 4

	hint := tview.NewTextView().
		SetDynamicColors(true).
		SetText(playHint)

	info := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(t.status, 3, 0, false).
		AddItem(t.sort, 1, 0, false).
		AddItem(t.moves, 0, 1, false)

	layout := tview.NewFlex().
		AddItem(board, 27, 0, true).
		AddItem(info, 0, 1, false)

	root := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(layout, 0, 1, true).
		AddItem(hint, 1, 0, false)

	t.app.SetRoot(root, true).EnableMouse(true)
	t.app.SetInputCapture(t.handleKey)

	t.render()

	return t
}

func (t *terminalGame) handleKey(event *tcell.EventKey) *tcell.EventKey {
	switch event.Key() {
	case tcell.KeyTab:
		t.cycleFocus(1)
		return nil
	case tcell.KeyBacktab:
		t.cycleFocus(-1)
		return nil
	case tcell.KeyRune:
		if event.Rune() == 'q' {
			t.app.Stop()
			return nil
		}
		if a, ok := keyAction(event.Rune()); ok {
			t.apply(a)
			return nil
		}
	}
	return event
}

func (t *terminalGame) cycleFocus(delta int) {
	n := len(t.focusables)
	t.focused = ((t.focused+delta)%n + n) % n
	t.app.SetFocus(t.focusables[t.focused])
}

func (t *terminalGame) apply(a games.Action) {
	if t.game.Dispatch(a) {
		t.render()
	}
}

func (t *terminalGame) render() {
	v := t.game.View()

	for i, b := range t.cells {
		b.SetLabel(cellText(v.Squares[i]))
		if v.Highlighted(i) {
			b.SetBackgroundColor(tcell.ColorYellow)
			b.SetLabelColor(tcell.ColorBlack)
		} else {
			b.SetBackgroundColor(tview.Styles.ContrastBackgroundColor)
			b.SetLabelColor(tview.Styles.PrimaryTextColor)
		}
	}

	t.status.SetText(v.Status)
	t.sort.SetLabel(v.SortLabel)

	t.moves.Clear()
	for i, mv := range v.Moves {
		step := mv.Step
		t.moves.AddItem(moveText(mv), "", 0, func() {
			t.apply(games.JumpToStep{Step: step})
		})
		if mv.Current {
			t.moves.SetCurrentItem(i)
		}
	}
}

func (t *terminalGame) run() error {
	return t.app.Run()
}
