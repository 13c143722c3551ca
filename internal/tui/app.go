// Package tui implements the terminal interface on top of the chat
// orchestrator. The orchestrator owns all state; the interface renders
// snapshots and forwards intents.
package tui

import (
	"context"
	"errors"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/bubbles/filepicker"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"

	"github.com/justarandomnameduh/omnichat/internal/chat"
	"github.com/justarandomnameduh/omnichat/internal/config"
	"github.com/justarandomnameduh/omnichat/internal/domain"
)

type mode int

const (
	modeChat mode = iota
	modeSessions
	modeModels
	modeAttach
	modeTranscribe
	modeNewSession
)

// File type filters for the picker. The backend enforces its own
// whitelist; these just keep the picker useful.
var (
	imageExts = []string{".png", ".jpg", ".jpeg", ".gif", ".bmp", ".webp"}
	audioExts = []string{".mp3", ".wav", ".flac", ".ogg", ".m4a", ".aac"}
)

// Messages for tea updates.
type (
	orcEventMsg      chat.Event
	eventsClosedMsg  struct{}
	catalogLoadedMsg struct{ err error }
	sessionOpMsg     struct{ err error }
)

// Model is the bubbletea model for the chat interface.
type Model struct {
	orc *chat.Orchestrator
	cfg *config.Config

	snap chat.Snapshot

	textarea    textarea.Model
	viewport    viewport.Model
	spinner     spinner.Model
	sessionList list.Model
	modelList   list.Model
	filepicker  filepicker.Model
	nameInput   textinput.Model

	renderer *glamour.TermRenderer

	mode     mode
	width    int
	height   int
	ready    bool
	notice   string
	quitting bool
}

// New creates the interface model around a started orchestrator.
func New(orc *chat.Orchestrator, cfg *config.Config) Model {
	ta := textarea.New()
	ta.Placeholder = "Type a message... (Enter to send, Alt+Enter for newline)"
	ta.Prompt = "| "
	ta.CharLimit = 4096
	ta.SetHeight(3)
	ta.ShowLineNumbers = false
	ta.KeyMap.InsertNewline = key.NewBinding(key.WithKeys("alt+enter", "ctrl+j"))
	ta.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = spinnerStyle

	vp := viewport.New(80, 20)

	sl := list.New(nil, list.NewDefaultDelegate(), 0, 0)
	sl.Title = "Sessions"
	sl.SetShowStatusBar(false)
	sl.DisableQuitKeybindings()

	ml := list.New(nil, list.NewDefaultDelegate(), 0, 0)
	ml.Title = "Models"
	ml.SetShowStatusBar(false)
	ml.DisableQuitKeybindings()

	fp := filepicker.New()
	fp.CurrentDirectory, _ = filepath.Abs(".")

	ni := textinput.New()
	ni.Placeholder = "session name"
	ni.CharLimit = 120

	return Model{
		orc:         orc,
		cfg:         cfg,
		snap:        orc.Snapshot(),
		textarea:    ta,
		spinner:     sp,
		viewport:    vp,
		sessionList: sl,
		modelList:   ml,
		filepicker:  fp,
		nameInput:   ni,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		textarea.Blink,
		m.spinner.Tick,
		m.waitForEvent(),
		m.refreshCatalog(),
	)
}

// waitForEvent listens for the next orchestrator event. Re-issued after
// each receipt so the listener stays alive for the whole session.
func (m Model) waitForEvent() tea.Cmd {
	events := m.orc.Events()
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return eventsClosedMsg{}
		}
		return orcEventMsg(ev)
	}
}

// refreshCatalog reloads models and sessions from the backend.
func (m Model) refreshCatalog() tea.Cmd {
	orc, timeout := m.orc, m.cfg.RequestTimeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := orc.RefreshModels(ctx); err != nil {
			return catalogLoadedMsg{err: err}
		}
		return catalogLoadedMsg{err: orc.RefreshSessions(ctx)}
	}
}

func (m Model) selectSessionCmd(id string) tea.Cmd {
	orc, timeout := m.orc, m.cfg.RequestTimeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return sessionOpMsg{err: orc.SelectSession(ctx, id)}
	}
}

func (m Model) createSessionCmd(name string) tea.Cmd {
	orc, timeout := m.orc, m.cfg.RequestTimeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		_, err := orc.CreateSession(ctx, name)
		return sessionOpMsg{err: err}
	}
}

func (m Model) deleteSessionCmd(id string) tea.Cmd {
	orc, timeout := m.orc, m.cfg.RequestTimeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return sessionOpMsg{err: orc.DeleteSession(ctx, id)}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		return m.handleResize(msg)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case orcEventMsg:
		return m.handleOrcEvent(chat.Event(msg))

	case eventsClosedMsg:
		m.quitting = true
		return m, tea.Quit

	case catalogLoadedMsg:
		m.snap = m.orc.Snapshot()
		if msg.err != nil {
			m.notice = shortNotice(msg.err)
		}
		cmd := tea.Batch(m.setSessionItems(), m.setModelItems())
		m.updateViewport()
		return m, cmd

	case sessionOpMsg:
		m.snap = m.orc.Snapshot()
		if msg.err != nil {
			m.notice = shortNotice(msg.err)
		}
		cmd := m.setSessionItems()
		m.updateViewport()
		return m, cmd

	case tea.KeyMsg:
		switch m.mode {
		case modeChat:
			return m.handleChatKey(msg)
		case modeSessions:
			return m.handleSessionsKey(msg)
		case modeModels:
			return m.handleModelsKey(msg)
		case modeAttach, modeTranscribe:
			return m.handleFileMsg(msg)
		case modeNewSession:
			return m.handleNameKey(msg)
		}
	}

	// Non-key messages may belong to the file picker (directory reads).
	if m.mode == modeAttach || m.mode == modeTranscribe {
		return m.handleFileMsg(msg)
	}
	return m, nil
}

func (m Model) handleResize(msg tea.WindowSizeMsg) (tea.Model, tea.Cmd) {
	m.width = msg.Width
	m.height = msg.Height

	chatWidth := msg.Width - 2
	viewHeight := msg.Height - m.textarea.Height() - 7
	if viewHeight < 3 {
		viewHeight = 3
	}

	m.viewport.Width = chatWidth
	m.viewport.Height = viewHeight
	m.textarea.SetWidth(chatWidth)
	m.sessionList.SetSize(chatWidth, viewHeight)
	m.modelList.SetSize(chatWidth, viewHeight)
	m.filepicker.Height = viewHeight - 2

	m.renderer, _ = glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(chatWidth-4),
	)

	m.ready = true
	m.updateViewport()
	return m, nil
}

func (m Model) handleOrcEvent(ev chat.Event) (tea.Model, tea.Cmd) {
	m.snap = m.orc.Snapshot()

	switch ev.Kind {
	case chat.EventTranscript:
		m.textarea.InsertString(ev.Text)
		m.notice = "transcript inserted"
	case chat.EventNotice:
		m.notice = ev.Text
	case chat.EventTurnError:
		m.notice = ev.Text
	case chat.EventTurnDone:
		m.notice = ""
	}

	m.updateViewport()
	return m, m.waitForEvent()
}

func (m Model) handleChatKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		m.quitting = true
		return m, tea.Quit

	case "esc":
		m.notice = ""
		return m, nil

	case "enter":
		text := strings.TrimSpace(m.textarea.Value())
		if err := m.orc.SendMessage(text); err != nil {
			m.notice = shortNotice(err)
			return m, nil
		}
		m.textarea.Reset()
		m.notice = ""
		m.snap = m.orc.Snapshot()
		m.updateViewport()
		return m, nil

	case "ctrl+s":
		m.mode = modeSessions
		return m, tea.Batch(m.setSessionItems(), m.refreshCatalog())

	case "ctrl+p":
		m.mode = modeModels
		return m, tea.Batch(m.setModelItems(), m.refreshCatalog())

	case "ctrl+n":
		m.nameInput.SetValue("")
		m.nameInput.Focus()
		m.mode = modeNewSession
		return m, textinput.Blink

	case "ctrl+o":
		m.filepicker.AllowedTypes = imageExts
		m.mode = modeAttach
		return m, m.filepicker.Init()

	case "ctrl+t":
		m.filepicker.AllowedTypes = audioExts
		m.mode = modeTranscribe
		return m, m.filepicker.Init()

	case "ctrl+x":
		if err := m.orc.ClearConversation(); err != nil {
			m.notice = shortNotice(err)
		} else {
			m.notice = "conversation cleared"
		}
		m.snap = m.orc.Snapshot()
		m.updateViewport()
		return m, nil

	case "ctrl+u":
		if n := len(m.snap.Assets); n > 0 {
			m.orc.RemoveAsset(m.snap.Assets[n-1].ID)
			m.snap = m.orc.Snapshot()
		}
		return m, nil

	case "pgup", "pgdown", "home", "end":
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}

	// Alt+digit toggles the corresponding asset chip.
	if s := msg.String(); strings.HasPrefix(s, "alt+") && len(s) == 5 && s[4] >= '1' && s[4] <= '9' {
		i := int(s[4] - '1')
		if i < len(m.snap.Assets) {
			if err := m.orc.ToggleAsset(m.snap.Assets[i].ID); err != nil {
				m.notice = shortNotice(err)
			}
			m.snap = m.orc.Snapshot()
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.textarea, cmd = m.textarea.Update(msg)
	return m, cmd
}

func (m Model) handleSessionsKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.sessionList.FilterState() != list.Filtering {
		switch msg.String() {
		case "esc":
			m.mode = modeChat
			return m, nil

		case "enter":
			if item, ok := m.sessionList.SelectedItem().(sessionItem); ok {
				m.mode = modeChat
				m.notice = "loading session..."
				return m, m.selectSessionCmd(item.session.ID)
			}
			return m, nil

		case "n", "ctrl+n":
			m.nameInput.SetValue("")
			m.nameInput.Focus()
			m.mode = modeNewSession
			return m, textinput.Blink

		case "ctrl+d":
			if item, ok := m.sessionList.SelectedItem().(sessionItem); ok {
				m.notice = "deleting session..."
				return m, m.deleteSessionCmd(item.session.ID)
			}
			return m, nil

		case "ctrl+r":
			return m, m.refreshCatalog()

		case "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}
	}

	var cmd tea.Cmd
	m.sessionList, cmd = m.sessionList.Update(msg)
	return m, cmd
}

func (m Model) handleModelsKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.modelList.FilterState() != list.Filtering {
		switch msg.String() {
		case "esc":
			m.mode = modeChat
			return m, nil

		case "enter":
			if item, ok := m.modelList.SelectedItem().(modelItem); ok {
				if err := m.orc.SelectModel(item.model.ID); err != nil {
					m.notice = shortNotice(err)
				} else {
					m.notice = "loading " + item.model.DisplayName + "..."
				}
				m.snap = m.orc.Snapshot()
				m.mode = modeChat
			}
			return m, nil

		case "ctrl+r":
			return m, m.refreshCatalog()

		case "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}
	}

	var cmd tea.Cmd
	m.modelList, cmd = m.modelList.Update(msg)
	return m, cmd
}

// handleFileMsg drives the file picker for both attach and transcribe.
func (m Model) handleFileMsg(msg tea.Msg) (tea.Model, tea.Cmd) {
	if keyMsg, ok := msg.(tea.KeyMsg); ok {
		switch keyMsg.String() {
		case "esc":
			m.mode = modeChat
			return m, nil
		case "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}
	}

	var cmd tea.Cmd
	m.filepicker, cmd = m.filepicker.Update(msg)

	if didSelect, path := m.filepicker.DidSelectFile(msg); didSelect {
		target := m.mode
		m.mode = modeChat
		switch target {
		case modeAttach:
			m.orc.AddAssets(path)
			m.notice = "uploading " + filepath.Base(path) + "..."
		case modeTranscribe:
			if err := m.orc.Transcribe(path); err != nil {
				m.notice = shortNotice(err)
			} else {
				m.notice = "transcribing " + filepath.Base(path) + "..."
			}
		}
		m.snap = m.orc.Snapshot()
		return m, cmd
	}

	if didSelect, path := m.filepicker.DidSelectDisabledFile(msg); didSelect {
		m.notice = filepath.Base(path) + " has an unsupported file type"
		return m, cmd
	}

	return m, cmd
}

func (m Model) handleNameKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.nameInput.Blur()
		m.mode = modeChat
		return m, nil

	case "enter":
		name := strings.TrimSpace(m.nameInput.Value())
		m.nameInput.Blur()
		m.mode = modeChat
		if name == "" {
			m.notice = "session name required"
			return m, nil
		}
		m.notice = "creating session..."
		return m, m.createSessionCmd(name)

	case "ctrl+c":
		m.quitting = true
		return m, tea.Quit
	}

	var cmd tea.Cmd
	m.nameInput, cmd = m.nameInput.Update(msg)
	return m, cmd
}

// shortNotice maps orchestrator errors to one-line status text.
func shortNotice(err error) string {
	switch {
	case errors.Is(err, domain.ErrNotConnected):
		return "backend offline"
	case errors.Is(err, domain.ErrNoModelSelected):
		return "select a model first (ctrl+p)"
	case errors.Is(err, domain.ErrNoSessionSelected):
		return "select a session first (ctrl+s)"
	case errors.Is(err, domain.ErrAlreadyGenerating):
		return "wait for the current reply to finish"
	case errors.Is(err, domain.ErrSwitchInProgress):
		return "model switch in progress"
	case errors.Is(err, domain.ErrTranscribing):
		return "transcription in progress"
	case errors.Is(err, domain.ErrEmptyMessage):
		return "nothing to send"
	case errors.Is(err, domain.ErrEmptyName):
		return "session name required"
	default:
		return err.Error()
	}
}
