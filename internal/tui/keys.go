package tui

import "github.com/charmbracelet/bubbles/key"

type keyMap struct {
	Next      key.Binding
	Prev      key.Binding
	Up        key.Binding
	Down      key.Binding
	Left      key.Binding
	Right     key.Binding
	Select    key.Binding
	Remove    key.Binding
	Recommend key.Binding
	Quit      key.Binding
}

var keys = keyMap{
	Next:      key.NewBinding(key.WithKeys("tab"), key.WithHelp("tab", "next pane")),
	Prev:      key.NewBinding(key.WithKeys("shift+tab"), key.WithHelp("shift+tab", "previous pane")),
	Up:        key.NewBinding(key.WithKeys("up"), key.WithHelp("↑", "up / later year")),
	Down:      key.NewBinding(key.WithKeys("down"), key.WithHelp("↓", "down / earlier year")),
	Left:      key.NewBinding(key.WithKeys("left"), key.WithHelp("←", "from year")),
	Right:     key.NewBinding(key.WithKeys("right"), key.WithHelp("→", "to year")),
	Select:    key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "favourite")),
	Remove:    key.NewBinding(key.WithKeys("delete", "backspace", "x"), key.WithHelp("x", "remove")),
	Recommend: key.NewBinding(key.WithKeys("ctrl+r"), key.WithHelp("ctrl+r", "recommend")),
	Quit:      key.NewBinding(key.WithKeys("ctrl+c", "esc"), key.WithHelp("esc", "quit")),
}

// ShortHelp implements help.KeyMap.
func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Next, k.Select, k.Remove, k.Recommend, k.Quit}
}

// FullHelp implements help.KeyMap.
func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Next, k.Prev, k.Up, k.Down},
		{k.Left, k.Right, k.Select, k.Remove},
		{k.Recommend, k.Quit},
	}
}
