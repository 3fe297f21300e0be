package engine

import (
	"fmt"
	"strings"
)

type CommandKind string

const (
	CommandResize    CommandKind = "resize"
	CommandClick     CommandKind = "click"
	CommandScroll    CommandKind = "scroll"
	CommandReload    CommandKind = "reload"
	CommandNavigate  CommandKind = "navigate"
	CommandGoBack    CommandKind = "go-back"
	CommandGoForward CommandKind = "go-forward"
	CommandMouseMove CommandKind = "mousemove"
	CommandInput     CommandKind = "input"
	CommandKeyDown   CommandKind = "keydown"
)

// Command is a typed remote control action. Only the fields used by Kind
// are read.
type Command struct {
	Kind CommandKind

	Width  int
	Height int

	X float64
	Y float64

	Selector string
	Value    string
	URL      string
	Key      string
}

func (c Command) String() string {
	switch c.Kind {
	case CommandResize:
		return fmt.Sprintf("resize %dx%d", c.Width, c.Height)
	case CommandClick:
		return fmt.Sprintf("click %s", c.Selector)
	case CommandScroll, CommandMouseMove:
		return fmt.Sprintf("%s %.0f,%.0f", c.Kind, c.X, c.Y)
	case CommandNavigate:
		return "navigate " + c.URL
	case CommandInput:
		return "input " + c.Selector
	case CommandKeyDown:
		return "keydown " + c.Key
	}
	return string(c.Kind)
}

// ElementSelector selects the element tagged by the page instrumentation.
// The id is always matched as a literal attribute value.
func ElementSelector(id string) string {
	return "[shinpads-id=" + cssString(id) + "]"
}

// cssString quotes s as a double-quoted CSS string.
func cssString(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range s {
		switch {
		case r == '"' || r == '\\':
			b.WriteByte('\\')
			b.WriteRune(r)
		case r < 0x20 || r == 0x7f:
			fmt.Fprintf(&b, "\\%x ", r)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}
