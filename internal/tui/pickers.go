package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/justarandomnameduh/omnichat/internal/domain"
)

type sessionItem struct {
	session  domain.Session
	selected bool
}

func (i sessionItem) Title() string {
	if i.selected {
		return "* " + i.session.Name
	}
	return i.session.Name
}

func (i sessionItem) Description() string {
	return fmt.Sprintf("%s | %d messages | %s",
		i.session.ModelID, i.session.MessageCount,
		i.session.UpdatedAt.Format("Jan 2 15:04"))
}

func (i sessionItem) FilterValue() string { return i.session.Name }

type modelItem struct {
	model   domain.ModelDescriptor
	current bool
}

func (i modelItem) Title() string {
	if i.current {
		return "* " + i.model.DisplayName
	}
	return i.model.DisplayName
}

func (i modelItem) Description() string {
	var caps []string
	if i.model.SupportsImages {
		caps = append(caps, "images")
	}
	if i.model.SupportsAudio {
		caps = append(caps, "audio")
	}
	if i.model.SupportsVideo {
		caps = append(caps, "video")
	}
	if len(caps) == 0 {
		caps = append(caps, "text only")
	}
	desc := strings.Join(caps, ", ")
	if i.model.MemoryCostMB > 0 {
		desc += fmt.Sprintf(" | ~%.1f GB", float64(i.model.MemoryCostMB)/1024)
	}
	return desc
}

func (i modelItem) FilterValue() string { return i.model.DisplayName }

func (m *Model) setSessionItems() tea.Cmd {
	items := make([]list.Item, 0, len(m.snap.Sessions))
	for _, s := range m.snap.Sessions {
		items = append(items, sessionItem{session: s, selected: s.ID == m.snap.SessionID})
	}
	return m.sessionList.SetItems(items)
}

func (m *Model) setModelItems() tea.Cmd {
	items := make([]list.Item, 0, len(m.snap.Models))
	for _, md := range m.snap.Models {
		items = append(items, modelItem{model: md, current: md.ID == m.snap.CurrentModelID})
	}
	return m.modelList.SetItems(items)
}
