// Package tui provides the terminal user interface for logscope.
package tui

import (
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"

	"github.com/tuanbt/logscope/internal/eventlog"
	"github.com/tuanbt/logscope/internal/session"
)

type ViewMode int

const (
	ModeSelection ViewMode = iota
	ModeInsert
)

type FocusArea int

const (
	FocusChannels FocusArea = iota
	FocusRecords
	FocusInput
)

// InputKind says what the input line edits while in insert mode.
type InputKind int

const (
	InputSearch InputKind = iota
	InputFilter
	InputSince
)

func (k InputKind) prompt() string {
	switch k {
	case InputFilter:
		return "filter> "
	case InputSince:
		return "since> "
	default:
		return "search> "
	}
}

// AllLogsLabel names the merged view in the channel list.
const AllLogsLabel = "All logs"

type Model struct {
	// Core
	Source  eventlog.Source
	Session *session.Controller

	// Models
	ChannelList list.Model
	RecordList  list.Model
	Input       textinput.Model

	// State
	InitialChannel string
	Width          int
	Height         int
	Ready          bool
	FocusArea      FocusArea
	Mode           ViewMode
	InputKind      InputKind
	Notice         string
	Quitting       bool

	ShowModal    bool
	ModalContent string
}

// Options configure New.
type Options struct {
	// Channel is selected as soon as the channel list loads.
	Channel string
	Since   time.Time
}

// New builds the model around an idle session.
func New(src eventlog.Source, ctrl *session.Controller, opts Options) Model {
	channels := list.New([]list.Item{}, ChannelDelegate{}, 0, 0)
	configureList(&channels)
	records := list.New([]list.Item{}, RecordDelegate{}, 0, 0)
	configureList(&records)

	ti := textinput.New()
	ti.Prompt = ""
	ti.Width = 80
	ti.Blur()

	if !opts.Since.IsZero() {
		ctrl.SetSince(opts.Since)
	}

	return Model{
		Source:         src,
		Session:        ctrl,
		ChannelList:    channels,
		RecordList:     records,
		Input:          ti,
		InitialChannel: opts.Channel,
		FocusArea:      FocusChannels,
	}
}

func configureList(l *list.Model) {
	l.SetShowTitle(false)
	l.SetShowStatusBar(false)
	l.SetFilteringEnabled(false)
	l.SetShowHelp(false)
	l.SetShowPagination(false)
}

// ChannelItem implements list.Item.
type ChannelItem struct {
	Name  string
	Label string
}

func (i ChannelItem) FilterValue() string { return i.Label }

// RecordItem implements list.Item.
type RecordItem struct {
	Record eventlog.Record
}

func (i RecordItem) FilterValue() string { return i.Record.Description }

// SelectedRecord returns the highlighted record, if any.
func (m Model) SelectedRecord() (eventlog.Record, bool) {
	it, ok := m.RecordList.SelectedItem().(RecordItem)
	if !ok {
		return eventlog.Record{}, false
	}
	return it.Record, true
}

// SelectedChannel returns the highlighted channel, if any.
func (m Model) SelectedChannel() (ChannelItem, bool) {
	it, ok := m.ChannelList.SelectedItem().(ChannelItem)
	return it, ok
}
