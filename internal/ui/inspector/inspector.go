// Package inspector implements the interactive `ldspace inspect` TUI:
// a scrollable list of every loaded image (rebase address, kind, size,
// exported symbol count, dependency count), with a detail pane showing
// the selected image's name, kind, dependencies, and an optional hex
// dump. Built on the bubbletea/bubbles/lipgloss stack.
package inspector

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wrenfold/ldspace/internal/image"
	"github.com/wrenfold/ldspace/internal/loader"
	"github.com/wrenfold/ldspace/internal/ui/colorize"
)

// dumpBytes is how many bytes of the selected image's memory the "x"
// hex-dump toggle renders, starting at its minimum offset.
const dumpBytes = 64

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FFC800"))
	detailKey  = lipgloss.NewStyle().Foreground(lipgloss.Color("#87CEEB"))
	borderStyle = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		Padding(0, 1)
)

type imageItem struct {
	name    string
	base    uint64
	size    uint64
	kind    string
	deps    []string
	exports int
	img     *image.Image
}

func (i imageItem) FilterValue() string { return i.name }
func (i imageItem) Title() string       { return fmt.Sprintf("%s  %#016x", i.name, i.base) }
func (i imageItem) Description() string {
	return fmt.Sprintf("%s  size=%#x  exports=%d  deps=%d", i.kind, i.size, i.exports, len(i.deps))
}

type model struct {
	list     list.Model
	ld       *loader.Loader
	width    int
	height   int
	showDump bool
}

func newModel(ld *loader.Loader) model {
	var items []list.Item
	for _, img := range ld.AllImages() {
		name := img.Provides
		if name == "" {
			name = basename(img.Path)
		}
		items = append(items, imageItem{
			name:    name,
			base:    img.RebaseAddr,
			size:    img.Size(),
			kind:    img.Kind.String(),
			deps:    img.Deps,
			exports: len(img.Exports),
			img:     img,
		})
	}

	l := list.New(items, list.NewDefaultDelegate(), 0, 0)
	l.Title = "ldspace — loaded images"
	l.Styles.Title = titleStyle

	return model{list: l, ld: ld}
}

func (m model) Init() tea.Cmd { return nil }

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.list.SetSize(msg.Width, msg.Height-detailHeight)
		return m, nil
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "x":
			m.showDump = !m.showDump
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

const detailHeight = 6

func (m model) View() string {
	var detail string
	if sel, ok := m.list.SelectedItem().(imageItem); ok {
		var b strings.Builder
		b.WriteString(detailKey.Render("module:  ") + sel.name + "\n")
		b.WriteString(detailKey.Render("kind:    ") + sel.kind + "\n")
		if len(sel.deps) > 0 {
			b.WriteString(detailKey.Render("deps:    ") + strings.Join(sel.deps, ", "))
		} else {
			b.WriteString(detailKey.Render("deps:    ") + "(none)")
		}
		if m.showDump {
			b.WriteString("\n" + hexDump(sel.img))
		} else {
			b.WriteString("\n" + detailKey.Render("(press x for hex dump)"))
		}
		detail = borderStyle.Render(b.String())
	}
	return m.list.View() + "\n" + detail
}

// hexDump renders the first dumpBytes of img's local memory, one
// colorized line per 16 bytes, starting at its minimum offset.
func hexDump(img *image.Image) string {
	if img == nil {
		return ""
	}
	n := dumpBytes
	if avail := img.LocalMemory.Size(); avail < uint64(n) {
		n = int(avail)
	}
	data, err := img.LocalMemory.ReadAt(img.MinOffset, uint64(n))
	if err != nil || len(data) == 0 {
		return detailKey.Render("(no memory to dump)")
	}

	var b strings.Builder
	for off := 0; off < len(data); off += 16 {
		end := off + 16
		if end > len(data) {
			end = len(data)
		}
		row := data[off:end]

		var hexPart strings.Builder
		var asciiPart strings.Builder
		for _, c := range row {
			fmt.Fprintf(&hexPart, "%02x ", c)
			if c >= 0x20 && c < 0x7f {
				asciiPart.WriteByte(c)
			} else {
				asciiPart.WriteByte('.')
			}
		}
		line := fmt.Sprintf("%08x  %-48s  %s", img.MinOffset+uint64(off), hexPart.String(), asciiPart.String())
		b.WriteString(colorize.Line(line))
		if end < len(data) {
			b.WriteString("\n")
		}
	}
	return b.String()
}

func basename(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[i+1:]
		}
	}
	return path
}

// Run launches the inspector TUI over an already-loaded address space.
func Run(ld *loader.Loader) error {
	p := tea.NewProgram(newModel(ld), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
