package tui

import (
	"fmt"
	"strings"

	"github.com/justarandomnameduh/omnichat/internal/domain"
)

func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if !m.ready {
		return "Initializing..."
	}

	var b strings.Builder
	b.WriteString(m.renderHeader() + "\n")

	switch m.mode {
	case modeSessions:
		b.WriteString(m.sessionList.View() + "\n")
	case modeModels:
		b.WriteString(m.modelList.View() + "\n")
	case modeAttach:
		b.WriteString(titleStyle.Render("Attach an image") + "\n")
		b.WriteString(m.filepicker.View() + "\n")
	case modeTranscribe:
		b.WriteString(titleStyle.Render("Transcribe an audio file") + "\n")
		b.WriteString(m.filepicker.View() + "\n")
	case modeNewSession:
		b.WriteString(titleStyle.Render("New session") + "\n\n")
		b.WriteString("  Name: " + m.nameInput.View() + "\n")
	default:
		b.WriteString(m.viewport.View() + "\n")
	}

	if chips := m.renderAssets(); chips != "" {
		b.WriteString(chips + "\n")
	}
	b.WriteString(m.renderStatus() + "\n")
	b.WriteString(m.textarea.View() + "\n")
	b.WriteString(m.renderHelp())
	return b.String()
}

func (m Model) renderHeader() string {
	badge := offlineStyle.Render("OFFLINE")
	if m.snap.Connected {
		badge = connectedStyle.Render("CONNECTED")
	}

	model := "no model"
	if name := m.modelDisplayName(m.snap.CurrentModelID); name != "" {
		model = name
	}
	if m.snap.Switching {
		model += " (switching...)"
	}

	session := "no session"
	if name := m.sessionName(m.snap.SessionID); name != "" {
		session = name
	}

	info := dimStyle.Render(fmt.Sprintf("  model: %s  |  session: %s", model, session))
	return titleStyle.Render("omnichat") + " " + badge + info
}

// renderHistory builds the conversation text for the viewport.
func (m Model) renderHistory() string {
	if len(m.snap.Messages) == 0 {
		return dimStyle.Render("\n  No messages yet. Pick a model (ctrl+p) and a session (ctrl+s), then say something.\n")
	}

	assistant := m.modelDisplayName(m.snap.CurrentModelID)
	if assistant == "" {
		assistant = "Assistant"
	}

	var sb strings.Builder
	for _, msg := range m.snap.Messages {
		switch msg.Role {
		case domain.RoleUser:
			sb.WriteString(userRoleStyle.Render("You") + "\n")
			sb.WriteString(msg.Content + "\n")
			if n := len(msg.AssetRefs); n > 0 {
				sb.WriteString(dimStyle.Render(fmt.Sprintf("[%d image(s) attached]", n)) + "\n")
			}
			sb.WriteString("\n")

		default:
			sb.WriteString(assistantRoleStyle.Render(assistant) + "\n")
			switch {
			case msg.Failed:
				sb.WriteString(errorStyle.Render(msg.Content) + "\n\n")
			case msg.Streaming:
				sb.WriteString(msg.Content + "▌\n\n")
			default:
				sb.WriteString(m.safeRenderMarkdown(msg.Content) + "\n")
			}
		}
	}
	return sb.String()
}

// safeRenderMarkdown renders markdown with panic recovery.
func (m Model) safeRenderMarkdown(content string) (result string) {
	defer func() {
		if r := recover(); r != nil {
			result = content
		}
	}()

	if m.renderer != nil && content != "" {
		if rendered, err := m.renderer.Render(content); err == nil {
			return rendered
		}
	}
	return content
}

// renderAssets draws one chip per pending asset.
func (m Model) renderAssets() string {
	if len(m.snap.Assets) == 0 {
		return ""
	}

	var chips []string
	for i, a := range m.snap.Assets {
		label := fmt.Sprintf("%d:%s", i+1, truncName(a.OriginalName, 18))
		switch {
		case a.Uploading:
			chips = append(chips, assetChipStyle.Render(label+" ^"))
		case a.Error != "":
			chips = append(chips, assetErrorStyle.Render(label+" !"))
		case a.Selected:
			chips = append(chips, assetSelectedStyle.Render(label+" *"))
		default:
			chips = append(chips, assetChipStyle.Render(label))
		}
	}
	return strings.Join(chips, "")
}

func (m Model) renderStatus() string {
	var busy []string
	if m.snap.Generating {
		busy = append(busy, "generating")
	}
	if m.snap.Confirming {
		busy = append(busy, "confirming turn")
	}
	if m.snap.Switching {
		busy = append(busy, "switching model")
	}
	if m.snap.Transcribing {
		busy = append(busy, "transcribing audio")
	}

	if len(busy) > 0 {
		return m.spinner.View() + " " + statusBarStyle.Render(strings.Join(busy, ", "))
	}
	if m.notice != "" {
		return noticeStyle.Render(m.notice)
	}
	if !m.snap.Connected && m.snap.ConnError != "" {
		return errorStyle.Render(m.snap.ConnError)
	}
	if m.snap.LastError != "" {
		return errorStyle.Render(m.snap.LastError)
	}
	return ""
}

func (m Model) renderHelp() string {
	switch m.mode {
	case modeSessions:
		return helpStyle.Render("  enter: open  n: new  ctrl+d: delete  ctrl+r: refresh  esc: back")
	case modeModels:
		return helpStyle.Render("  enter: load  ctrl+r: refresh  esc: back")
	case modeAttach, modeTranscribe:
		return helpStyle.Render("  enter: select  esc: cancel")
	case modeNewSession:
		return helpStyle.Render("  enter: create  esc: cancel")
	}

	help := "  enter: send  ctrl+s: sessions  ctrl+p: models  ctrl+o: attach  ctrl+t: voice  ctrl+x: clear  ctrl+c: quit"
	if len(m.snap.Assets) > 0 {
		help += "  alt+N: toggle  ctrl+u: drop last"
	}
	return helpStyle.Render(help)
}

// updateViewport re-renders the conversation and follows the tail.
func (m *Model) updateViewport() {
	if !m.ready {
		return
	}
	m.viewport.SetContent(m.renderHistory())
	m.viewport.GotoBottom()
}

func (m Model) modelDisplayName(id string) string {
	for _, md := range m.snap.Models {
		if md.ID == id {
			return md.DisplayName
		}
	}
	if id != "" {
		return id
	}
	if m.snap.ModelInfo != nil && m.snap.ModelInfo.IsLoaded {
		return m.snap.ModelInfo.ModelName
	}
	return ""
}

func (m Model) sessionName(id string) string {
	for _, s := range m.snap.Sessions {
		if s.ID == id {
			return s.Name
		}
	}
	return ""
}

func truncName(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen-2]) + ".."
}
