package tui

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/tuanbt/logscope/internal/eventlog"
	"github.com/tuanbt/logscope/internal/session"
)

// SessionMsg carries one background result of the session controller. It
// must be handed back to Controller.Apply on the update goroutine.
type SessionMsg struct {
	Msg session.Msg
}

// ChannelsLoadedMsg delivers the channel list.
type ChannelsLoadedMsg struct {
	Channels []string
	Err      error
}

// waitForSession blocks on the controller's message queue.
func waitForSession(c *session.Controller) tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-c.Messages()
		if !ok {
			return nil
		}
		return SessionMsg{Msg: msg}
	}
}

func loadChannels(src eventlog.Source) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		names, err := src.ListChannels(ctx)
		return ChannelsLoadedMsg{Channels: names, Err: err}
	}
}
