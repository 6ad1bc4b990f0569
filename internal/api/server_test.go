package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/tuanbt/logscope/internal/auth"
	"github.com/tuanbt/logscope/internal/eventlog"
	"github.com/tuanbt/logscope/internal/eventlog/eventlogtest"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var end = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T, src *eventlogtest.Source, h *auth.Handler) *httptest.Server {
	t.Helper()
	s := New(src, h, testLogger(), Options{PageSize: 10})
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("get %s: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func TestChannels(t *testing.T) {
	src := eventlogtest.New()
	src.Generate("System", 3, end)
	src.Generate("Application", 2, end)
	ts := newTestServer(t, src, nil)

	var resp ChannelsResponse
	if code := getJSON(t, ts.URL+"/api/channels", &resp); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if len(resp.Channels) != 2 || resp.Channels[0] != "System" {
		t.Errorf("unexpected channels %v", resp.Channels)
	}
}

func TestPage(t *testing.T) {
	src := eventlogtest.New()
	src.Generate("System", 25, end)
	ts := newTestServer(t, src, nil)

	var first PageResponse
	if code := getJSON(t, ts.URL+"/api/page?channel=System", &first); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if len(first.Records) != 10 || !first.HasMore || first.Records[0].RecordID != 25 {
		t.Errorf("unexpected first page: %d records, has_more %v", len(first.Records), first.HasMore)
	}

	var last PageResponse
	getJSON(t, ts.URL+"/api/page?channel=System&page=2", &last)
	if len(last.Records) != 5 || last.HasMore {
		t.Errorf("unexpected last page: %d records, has_more %v", len(last.Records), last.HasMore)
	}

	// Generated event ids cycle through 1000..1009.
	var filtered PageResponse
	getJSON(t, ts.URL+"/api/page?channel=System&size=20&ids=1003", &filtered)
	if filtered.Loaded != 20 || len(filtered.Records) != 2 {
		t.Errorf("expected 2 of 20 loaded records to match, got %d of %d", len(filtered.Records), filtered.Loaded)
	}

	var searched PageResponse
	getJSON(t, ts.URL+"/api/page?channel=System&search=event+25", &searched)
	if len(searched.Records) != 1 || searched.Records[0].RecordID != 25 {
		t.Errorf("unexpected search result %+v", searched.Records)
	}

	var since PageResponse
	getJSON(t, ts.URL+"/api/page?channel=System&since="+end.Add(-4*time.Second).Format(time.RFC3339), &since)
	if len(since.Records) != 5 {
		t.Errorf("expected 5 records since cutoff, got %d", len(since.Records))
	}
}

func TestPageErrors(t *testing.T) {
	src := eventlogtest.New()
	src.Generate("System", 5, end)
	src.AddChannel("Security")
	src.SetQueryError("Security", fmt.Errorf("%w: open Security", eventlog.ErrAccessDenied))
	ts := newTestServer(t, src, nil)

	tests := []struct {
		name string
		path string
		code int
		kind string
	}{
		{"missing channel", "/api/page", http.StatusBadRequest, ""},
		{"bad page", "/api/page?channel=System&page=-1", http.StatusBadRequest, ""},
		{"bad size", "/api/page?channel=System&size=0", http.StatusBadRequest, ""},
		{"bad since", "/api/page?channel=System&since=yesterday", http.StatusBadRequest, ""},
		{"unknown channel", "/api/page?channel=Nope", http.StatusNotFound, "not_found"},
		{"denied", "/api/page?channel=Security", http.StatusForbidden, "access_denied"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp ErrorResponse
			if code := getJSON(t, ts.URL+tt.path, &resp); code != tt.code {
				t.Errorf("expected %d, got %d (%s)", tt.code, code, resp.Error)
			}
			if resp.Kind != tt.kind {
				t.Errorf("expected kind %q, got %q", tt.kind, resp.Kind)
			}
		})
	}
}

func TestCount(t *testing.T) {
	src := eventlogtest.New()
	src.Generate("System", 1234, end)
	src.Generate("Application", 16, end)
	src.SetEstimate(1200)
	ts := newTestServer(t, src, nil)

	var resp CountResponse
	if code := getJSON(t, ts.URL+"/api/count?channel=System&estimate=true", &resp); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if resp.Count != 1234 || resp.Estimate == nil || *resp.Estimate != 1200 {
		t.Errorf("unexpected count response %+v", resp)
	}

	var all CountResponse
	getJSON(t, ts.URL+"/api/count?channel=*", &all)
	if all.Count != 1250 || all.Estimate != nil {
		t.Errorf("unexpected merged count %+v", all)
	}
}

func TestTailStreamsLiveRecords(t *testing.T) {
	src := eventlogtest.New()
	src.AddChannel("System")
	ts := newTestServer(t, src, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/tail?channel=System&levels=error", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("tail: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	deadline := time.Now().Add(3 * time.Second)
	for src.LiveWatches() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("watch was never opened")
		}
		time.Sleep(10 * time.Millisecond)
	}

	src.Push("System", &eventlogtest.Record{ID: 1, At: end, Lvl: 4, Prov: "Svc", Desc: "info"})
	src.Push("System", &eventlogtest.Record{ID: 2, At: end, Lvl: 2, Prov: "Svc", Desc: "boom"})

	lines := make(chan []byte, 1)
	go func() {
		r := bufio.NewReader(resp.Body)
		line, err := r.ReadBytes('\n')
		if err == nil {
			lines <- line
		}
	}()
	select {
	case line := <-lines:
		var rec eventlog.Record
		if err := json.Unmarshal(bytes.TrimSpace(line), &rec); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if rec.RecordID != 2 || rec.Level != eventlog.LevelError {
			t.Errorf("expected only the error record, got %+v", rec)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for streamed record")
	}

	cancel()
	deadline = time.Now().Add(3 * time.Second)
	for src.LiveWatches() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("watch was not released after the client left")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestAuthRequired(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("pw"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	svc := auth.NewAuthService(&auth.Config{
		Username:             "admin",
		PasswordHash:         string(hash),
		JWTSecret:            "0123456789abcdef0123456789abcdef",
		AccessTokenDuration:  time.Minute,
		RefreshTokenDuration: time.Hour,
	})
	src := eventlogtest.New()
	src.Generate("System", 1, end)
	ts := newTestServer(t, src, auth.NewHandler(svc))

	if code := getJSON(t, ts.URL+"/api/channels", nil); code != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", code)
	}
	if code := getJSON(t, ts.URL+"/api/health", nil); code != http.StatusOK {
		t.Errorf("expected health to stay public, got %d", code)
	}

	body, _ := json.Marshal(auth.LoginRequest{Username: "admin", Password: "pw"})
	resp, err := http.Post(ts.URL+"/api/auth/login", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	var tokens auth.AuthResponse
	json.NewDecoder(resp.Body).Decode(&tokens)
	resp.Body.Close()

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/channels", nil)
	req.Header.Set("Authorization", "Bearer "+tokens.Token)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("channels: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 with token, got %d", resp.StatusCode)
	}
}
