package output

import (
	"fmt"
	"os"
	"strings"

	"github.com/tanq16/novadl/internal/download"
	"github.com/tanq16/novadl/internal/utils"
	"golang.org/x/term"
)

// FormatSpeed renders a bytes-per-second rate.
func FormatSpeed(bps int64) string {
	if bps <= 0 {
		return "0 B/s"
	}
	return utils.FormatBytes(uint64(bps)) + "/s"
}

// PrintProgressBar creates a progress bar string
func PrintProgressBar(current, total int64, width int) string {
	if width <= 0 {
		width = 30
	}
	if total <= 0 {
		total = 1
	}
	current = max(0, min(current, total))
	percent := float64(current) / float64(total)
	filled := max(0, min(int(percent*float64(width)), width))
	bar := StyleSymbols["bullet"]
	bar += strings.Repeat(StyleSymbols["hline"], filled)
	if filled < width {
		bar += strings.Repeat(" ", width-filled)
	}
	bar += StyleSymbols["bullet"]
	return debugStyle.Render(fmt.Sprintf("%s %.1f%% %s ", bar, percent*100, StyleSymbols["bullet"]))
}

// progressLine is the detail line shown under a running task.
func progressLine(p download.Progress) string {
	sizes := fmt.Sprintf("%s / %s", utils.FormatBytes(uint64(p.Downloaded)), utils.FormatBytes(uint64(max(p.Total, 0))))
	return fmt.Sprintf("%s%s %s %s %s ETA %s",
		PrintProgressBar(p.Downloaded, p.Total, 30),
		debugStyle.Render(sizes),
		StyleSymbols["bullet"],
		debugStyle.Render(FormatSpeed(p.Speed)),
		StyleSymbols["bullet"],
		debugStyle.Render(utils.FormatETA(p.ETA)))
}

// IsTerminal reports whether stdout is attached to a terminal.
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

func getTerminalHeight() int {
	_, height, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || height <= 0 {
		return 24 // Default fallback height
	}
	return height
}
