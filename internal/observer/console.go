package observer

import (
	"fmt"

	"github.com/fatih/color"
)

// Console is a terminal stand-in for the original Tkinter GUI: it prints
// the same color semantics (gold/green/tomato/available) the Python
// CinemaGUI painted onto its seat buttons, using fatih/color instead of
// a widget toolkit.
type Console struct {
	nodeID string
}

// NewConsole builds a Console observer labeled with nodeID.
func NewConsole(nodeID string) *Console {
	return &Console{nodeID: nodeID}
}

func (c *Console) UpdateSeat(seatID int, col Color) {
	paint := colorFunc(col)
	paint("[%s] seat %d -> %s\n", c.nodeID, seatID, colorName(col))
}

func (c *Console) Log(message string) {
	fmt.Printf("[%s] %s\n", c.nodeID, message)
}

func colorFunc(col Color) func(format string, a ...any) {
	switch col {
	case ColorGold:
		return color.New(color.FgYellow).PrintfFunc()
	case ColorGreen:
		return color.New(color.FgGreen).PrintfFunc()
	case ColorTomato:
		return color.New(color.FgRed).PrintfFunc()
	default:
		return color.New(color.FgHiGreen).PrintfFunc()
	}
}

func colorName(col Color) string {
	switch col {
	case ColorGold:
		return "requesting (gold)"
	case ColorGreen:
		return "booked (green)"
	case ColorTomato:
		return "taken (tomato)"
	default:
		return "available"
	}
}
