package watch

import "github.com/charmbracelet/bubbles/key"

type keyMap struct {
	Quit  key.Binding
	Up    key.Binding
	Down  key.Binding
	Pause key.Binding
	Clear key.Binding
}

func defaultKeys() keyMap {
	return keyMap{
		Quit:  key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
		Up:    key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
		Down:  key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
		Pause: key.NewBinding(key.WithKeys("p", " "), key.WithHelp("p", "pause stream")),
		Clear: key.NewBinding(key.WithKeys("c"), key.WithHelp("c", "clear")),
	}
}

// ShortHelp implements help.KeyMap.
func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Quit, k.Up, k.Down, k.Pause, k.Clear}
}

// FullHelp implements help.KeyMap.
func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp()}
}
