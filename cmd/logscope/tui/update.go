package tui

import (
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/tuanbt/logscope/internal/eventlog"
)

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		loadChannels(m.Source),
		waitForSession(m.Session),
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		m.Ready = true
		m.resize()
		return m, nil

	case ChannelsLoadedMsg:
		if msg.Err != nil {
			m.Notice = eventlog.StatusText("channels", msg.Err)
			return m, nil
		}
		items := []list.Item{ChannelItem{Name: eventlog.AllChannels, Label: AllLogsLabel}}
		for _, name := range msg.Channels {
			items = append(items, ChannelItem{Name: name, Label: name})
		}
		cmd := m.ChannelList.SetItems(items)
		if m.InitialChannel != "" {
			for i, it := range items {
				if it.(ChannelItem).Name == m.InitialChannel {
					m.ChannelList.Select(i)
					m.Session.SelectChannel(m.InitialChannel)
					m.FocusArea = FocusRecords
					break
				}
			}
			m.InitialChannel = ""
		}
		return m, cmd

	case SessionMsg:
		if m.Session.Apply(msg.Msg) {
			m.syncRecords()
		}
		return m, waitForSession(m.Session)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()

	if key == "ctrl+c" || (key == "q" && m.Mode == ModeSelection) {
		m.Session.Close()
		m.Quitting = true
		return m, tea.Quit
	}

	if m.ShowModal {
		switch key {
		case "enter", "esc":
			m.ShowModal = false
		}
		return m, nil
	}

	if m.Mode == ModeInsert {
		return m.handleInsertKey(msg)
	}

	m.Notice = ""
	switch key {
	case "j", "down":
		m.focusedList().CursorDown()
	case "k", "up":
		m.focusedList().CursorUp()
	case "tab", "l", "right":
		m.FocusArea = FocusRecords
	case "shift+tab", "h", "left":
		m.FocusArea = FocusChannels
	case "enter":
		if m.FocusArea == FocusChannels {
			if it, ok := m.SelectedChannel(); ok {
				m.Session.SelectChannel(it.Name)
				m.syncRecords()
				m.FocusArea = FocusRecords
			}
		} else if rec, ok := m.SelectedRecord(); ok {
			m.ModalContent = recordDetail(rec)
			m.ShowModal = true
		}
	case "n", "pgdown":
		m.Session.NextPage()
	case "p", "pgup":
		m.Session.PrevPage()
	case "r":
		m.Session.Reload()
	case "m":
		// Failures are reported through the session status line.
		_ = m.Session.ToggleMonitoring()
	case "c":
		m.Session.ClearFilter()
		m.Session.SetSearch("")
		m.syncRecords()
	case "/":
		return m.enterInsert(InputSearch, m.Session.SearchText())
	case "f":
		return m.enterInsert(InputFilter, FormatFilter(m.Session.Filter()))
	case "t":
		return m.enterInsert(InputSince, "")
	}
	return m, nil
}

func (m Model) enterInsert(kind InputKind, value string) (tea.Model, tea.Cmd) {
	m.Mode = ModeInsert
	m.InputKind = kind
	m.FocusArea = FocusInput
	m.Input.SetValue(value)
	m.Input.CursorEnd()
	m.Input.Focus()
	return m, textinput.Blink
}

func (m Model) leaveInsert() Model {
	m.Mode = ModeSelection
	m.FocusArea = FocusRecords
	m.Input.Blur()
	m.Input.SetValue("")
	return m
}

func (m Model) handleInsertKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		return m.leaveInsert(), nil
	case "enter":
		value := m.Input.Value()
		switch m.InputKind {
		case InputSearch:
			m.Session.SetSearch(value)
		case InputFilter:
			criteria := ParseFilter(value)
			if criteria.IsZero() {
				m.Session.ClearFilter()
			} else {
				m.Session.ApplyFilter(criteria)
			}
		case InputSince:
			since, err := ParseSince(value, time.Now())
			if err != nil {
				m.Notice = err.Error()
				return m, nil
			}
			m.Session.SetSince(since)
		}
		m.syncRecords()
		return m.leaveInsert(), nil
	}

	var cmd tea.Cmd
	m.Input, cmd = m.Input.Update(msg)
	if m.InputKind == InputSearch {
		// Search as you type; the session debounces.
		m.Session.SetSearch(m.Input.Value())
		m.syncRecords()
	}
	return m, cmd
}

func (m *Model) focusedList() *list.Model {
	if m.FocusArea == FocusChannels {
		return &m.ChannelList
	}
	return &m.RecordList
}

// syncRecords mirrors the session's visible records into the list.
func (m *Model) syncRecords() {
	visible := m.Session.Visible()
	items := make([]list.Item, len(visible))
	for i, rec := range visible {
		items[i] = RecordItem{Record: rec}
	}
	idx := m.RecordList.Index()
	m.RecordList.SetItems(items)
	if idx >= len(items) {
		idx = len(items) - 1
	}
	if idx < 0 {
		idx = 0
	}
	m.RecordList.Select(idx)
}

func (m *Model) resize() {
	sidebar := sidebarWidth(m.Width)
	content := m.Height - 5 // header, borders, footer
	if content < 1 {
		content = 1
	}
	m.ChannelList.SetSize(sidebar-2, content-1)
	m.RecordList.SetSize(m.Width-sidebar-2, content-1)
	m.Input.Width = m.Width - 12
}

func sidebarWidth(total int) int {
	w := total / 5
	if w < 18 {
		w = 18
	}
	if w > total/2 {
		w = total / 2
	}
	return w
}
