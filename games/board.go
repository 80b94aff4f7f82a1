/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package games

type Mark string

const (
	Empty Mark = ""
	X     Mark = "X"
	O     Mark = "O"
)

// Board holds the 9 cells of a 3x3 grid in row-major order.
type Board [9]Mark

// Lines are the winning triplets, checked in this order: rows, columns, diagonals.
var Lines = [8][3]int{
	{0, 1, 2},
	{3, 4, 5},
	{6, 7, 8},
	{0, 3, 6},
	{1, 4, 7},
	{2, 5, 8},
	{0, 4, 8},
	{2, 4, 6},
}

// CheckWin returns the first line fully occupied by a single mark.
func CheckWin(b Board) ([3]int, bool) {
	for _, line := range Lines {
		a := b[line[0]]
		if a != Empty && a == b[line[1]] && a == b[line[2]] {
			return line, true
		}
	}

	return [3]int{}, false
}

func IsDraw(b Board) bool {
	_, won := CheckWin(b)

	return !won && b.Full()
}

func (b Board) Winner() Mark {
	line, ok := CheckWin(b)
	if !ok {
		return Empty
	}

	return b[line[0]]
}

func (b Board) Filled() int {
	n := 0
	for _, m := range b {
		if m != Empty {
			n++
		}
	}

	return n
}

func (b Board) Full() bool {
	return b.Filled() == len(b)
}
