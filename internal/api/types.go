package api

import (
	"time"

	"github.com/tuanbt/logscope/internal/eventlog"
)

// ChannelsResponse lists the channels a source exposes.
type ChannelsResponse struct {
	Channels []string `json:"channels"`
}

// PageResponse is one page after the optional view filter.
type PageResponse struct {
	Channel   string            `json:"channel"`
	Since     time.Time         `json:"since"`
	PageIndex int               `json:"page_index"`
	PageSize  int               `json:"page_size"`
	HasMore   bool              `json:"has_more"`
	Skipped   int               `json:"skipped"`
	Loaded    int               `json:"loaded"`
	Records   []eventlog.Record `json:"records"`
}

// CountResponse carries an exact total, plus the cheap estimate when the
// source offers one and it was requested.
type CountResponse struct {
	Channel  string    `json:"channel"`
	Since    time.Time `json:"since"`
	Count    int64     `json:"count"`
	Estimate *int64    `json:"estimate,omitempty"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}
