package journal

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/valyala/fastjson"

	"github.com/tuanbt/logscope/internal/eventlog"
)

var facilities = []string{
	"kern", "user", "mail", "daemon", "auth", "syslog", "lpr", "news",
	"uucp", "cron", "authpriv", "ftp", "ntp", "security", "console", "solaris-cron",
	"local0", "local1", "local2", "local3", "local4", "local5", "local6", "local7",
}

var errNoMessage = errors.New("entry has no MESSAGE field")

// entry is one journal record decoded from journalctl -o json.
type entry struct {
	at      time.Time
	hasTime bool

	priority    int
	hasPriority bool

	identifier string
	pid        int
	seqnum     int64

	facility    string
	hasFacility bool

	message    string
	hasMessage bool

	uid  string
	host string
	raw  []byte
}

// Level maps syslog priorities onto the five record levels.
func (e *entry) Level() (int, bool) {
	if !e.hasPriority {
		return 0, false
	}
	switch {
	case e.priority <= 2:
		return 1, true
	case e.priority == 3:
		return 2, true
	case e.priority == 4:
		return 3, true
	case e.priority <= 6:
		return 4, true
	case e.priority == 7:
		return 5, true
	}
	return 0, false
}

func (e *entry) Time() (time.Time, bool)  { return e.at, e.hasTime }
func (e *entry) Provider() (string, bool) { return e.identifier, e.identifier != "" }
func (e *entry) EventID() int             { return e.pid }
func (e *entry) RecordID() int64          { return e.seqnum }
func (e *entry) User() string             { return e.uid }
func (e *entry) Computer() string         { return e.host }
func (e *entry) Raw() []byte              { return e.raw }

func (e *entry) Category() (string, error) {
	if !e.hasFacility {
		return "", nil
	}
	n, err := strconv.Atoi(e.facility)
	if err != nil || n < 0 || n >= len(facilities) {
		return "", fmt.Errorf("unknown syslog facility %q", e.facility)
	}
	return facilities[n], nil
}

func (e *entry) Description() (string, error) {
	if !e.hasMessage {
		return "", errNoMessage
	}
	return e.message, nil
}

func parseEntry(p *fastjson.Parser, line []byte) (*entry, error) {
	v, err := p.ParseBytes(line)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", eventlog.ErrMalformedRecord, err)
	}
	if v.Type() != fastjson.TypeObject {
		return nil, fmt.Errorf("%w: entry is not an object", eventlog.ErrMalformedRecord)
	}

	e := &entry{
		identifier: string(v.GetStringBytes("SYSLOG_IDENTIFIER")),
		uid:        string(v.GetStringBytes("_UID")),
		host:       string(v.GetStringBytes("_HOSTNAME")),
		raw:        append([]byte(nil), line...),
	}

	if us, err := strconv.ParseInt(string(v.GetStringBytes("__REALTIME_TIMESTAMP")), 10, 64); err == nil {
		e.at, e.hasTime = time.UnixMicro(us), true
	}
	if pr, err := strconv.Atoi(string(v.GetStringBytes("PRIORITY"))); err == nil {
		e.priority, e.hasPriority = pr, true
	}
	if pid, err := strconv.Atoi(string(v.GetStringBytes("_PID"))); err == nil {
		e.pid = pid
	}
	e.seqnum = cursorSeqnum(string(v.GetStringBytes("__CURSOR")))

	if f := v.Get("SYSLOG_FACILITY"); f != nil {
		e.facility, e.hasFacility = string(f.GetStringBytes()), true
	}

	// MESSAGE is a string, or a byte array when it is not valid UTF-8.
	if m := v.Get("MESSAGE"); m != nil {
		switch m.Type() {
		case fastjson.TypeString:
			e.message, e.hasMessage = string(m.GetStringBytes()), true
		case fastjson.TypeArray:
			var b strings.Builder
			for _, c := range m.GetArray() {
				b.WriteByte(byte(c.GetInt()))
			}
			e.message, e.hasMessage = strings.ToValidUTF8(b.String(), "\uFFFD"), true
		}
	}
	return e, nil
}

// cursorSeqnum extracts the hex sequence number from a journal cursor such
// as "s=...;i=1a2b;b=...".
func cursorSeqnum(cursor string) int64 {
	for _, part := range strings.Split(cursor, ";") {
		if hex, ok := strings.CutPrefix(part, "i="); ok {
			n, err := strconv.ParseInt(hex, 16, 64)
			if err == nil {
				return n
			}
		}
	}
	return 0
}
