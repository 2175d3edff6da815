// Package tui implements vdiskctl status, a live view of the registered
// devices, grounded on the teacher's Bubbletea screen conventions
// (single model, key.Binding help, lipgloss adaptive colors) but a flat
// single-screen model rather than a push/pop stack: there's nothing to
// navigate into, only a table that refreshes.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/dsmmcken/vdisk/internal/engine"
)

var (
	colorPrimary = lipgloss.AdaptiveColor{Light: "#2F71F2", Dark: "#4A90FF"}
	colorDim     = lipgloss.AdaptiveColor{Light: "#999999", Dark: "#666666"}
	colorWarning = lipgloss.AdaptiveColor{Light: "#FFA500", Dark: "#FFA500"}
)

const pollInterval = 2 * time.Second

// DeviceRow is the subset of Device state the viewer renders, snapshotted
// so the model never touches the registry's lock from inside Update/View.
type DeviceRow struct {
	ID          int
	Backend     string
	SizeBytes   uint64
	ReadOnly    bool
	Dirty       bool
	ChangeCount uint32
	DriveLetter string
}

// Snapshot is produced by the caller (vdiskctl status) from a
// *engine.Registry at poll time.
type Snapshot func() []DeviceRow

type devicesMsg []DeviceRow
type tickMsg struct{}

type keyMap struct {
	Help key.Binding
	Quit key.Binding
}

func (k keyMap) ShortHelp() []key.Binding { return []key.Binding{k.Help, k.Quit} }
func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{{k.Help, k.Quit}}
}

// App is the vdiskctl status Bubbletea model.
type App struct {
	snapshot Snapshot
	keys     keyMap
	help     help.Model
	rows     []DeviceRow
	width    int
}

// NewApp builds the status viewer; snapshot is called on every poll tick.
func NewApp(snapshot Snapshot) App {
	return App{
		snapshot: snapshot,
		keys: keyMap{
			Help: key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "more")),
			Quit: key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
		},
		help: help.New(),
	}
}

func (a App) Init() tea.Cmd {
	return tea.Batch(pollOnce(a.snapshot), tick())
}

func pollOnce(snapshot Snapshot) tea.Cmd {
	return func() tea.Msg { return devicesMsg(snapshot()) }
}

func tick() tea.Cmd {
	return tea.Tick(pollInterval, func(_ time.Time) tea.Msg { return tickMsg{} })
}

func (a App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.help.Width = msg.Width
		return a, nil
	case devicesMsg:
		a.rows = []DeviceRow(msg)
		return a, nil
	case tickMsg:
		return a, tea.Batch(pollOnce(a.snapshot), tick())
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, a.keys.Help):
			a.help.ShowAll = !a.help.ShowAll
		case key.Matches(msg, a.keys.Quit):
			return a, tea.Quit
		}
	}
	return a, nil
}

func (a App) View() string {
	var b strings.Builder
	b.WriteString(lipgloss.NewStyle().Foreground(colorPrimary).Bold(true).Render("  vdisk devices"))
	b.WriteString("\n\n")

	if len(a.rows) == 0 {
		b.WriteString(lipgloss.NewStyle().Foreground(colorDim).Render("  no devices registered"))
		b.WriteString("\n")
	} else {
		for _, r := range a.rows {
			line := fmt.Sprintf("  %-3d %-8s %12d bytes", r.ID, r.Backend, r.SizeBytes)
			if r.ReadOnly {
				line += "  ro"
			}
			if r.Dirty {
				line += "  " + lipgloss.NewStyle().Foreground(colorWarning).Render("dirty")
			}
			if r.DriveLetter != "" {
				line += "  " + r.DriveLetter + ":"
			}
			line += fmt.Sprintf("  changes=%d", r.ChangeCount)
			b.WriteString(line)
			b.WriteString("\n")
		}
	}

	b.WriteString("\n")
	b.WriteString(a.help.View(a.keys))
	return b.String()
}

// RowsFromRegistry snapshots reg into DeviceRows for the viewer.
func RowsFromRegistry(reg *engine.Registry) []DeviceRow {
	devs := reg.List()
	rows := make([]DeviceRow, 0, len(devs))
	for _, d := range devs {
		rows = append(rows, DeviceRow{
			ID:          d.ID,
			Backend:     backendName(d),
			SizeBytes:   d.Geometry.TotalBytes(),
			ReadOnly:    d.Flags.ReadOnly(),
			Dirty:       d.Dirty(),
			ChangeCount: d.ChangeCount(),
			DriveLetter: d.DriveLetter(),
		})
	}
	return rows
}

func backendName(d *engine.Device) string {
	switch d.Flags.BackendType() {
	case engine.BackendTypeFile:
		return "file"
	case engine.BackendTypeVM:
		return "memory"
	case engine.BackendTypeProxy:
		return "proxy"
	default:
		return "unknown"
	}
}
