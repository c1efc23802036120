package cli

import (
	"fmt"
	"os"

	"github.com/fatih/color"
)

// style renders with color on capable terminals and with plain decorations
// otherwise.
type style struct {
	color  *color.Color
	prefix string
	suffix string
}

func (s style) Sprint(a ...any) string {
	text := fmt.Sprint(a...)
	if noColor() {
		return s.prefix + text + s.suffix
	}
	return s.color.Sprint(text)
}

func (s style) Sprintf(format string, a ...any) string {
	return s.Sprint(fmt.Sprintf(format, a...))
}

func noColor() bool {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return true
	}
	return color.NoColor
}

var (
	styleError     = style{color.New(color.FgRed), "", ""}
	styleWarning   = style{color.New(color.FgYellow), "", ""}
	styleSuccess   = style{color.New(color.FgGreen), "", ""}
	styleHighlight = style{color.New(color.FgCyan), "'", "'"}
	styleMuted     = style{color.New(color.FgHiBlack), "(", ")"}
	styleIncoming  = style{color.New(color.FgMagenta), "", ""}
)
