package filelog

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/valyala/fastjson"

	"github.com/tuanbt/logscope/internal/eventlog"
)

var errNoDescription = errors.New("record has neither message nor template")

// record is one parsed line. Fields are copied out of the parser so the
// parser can be returned to its pool.
type record struct {
	recordID int64

	at      time.Time
	hasTime bool

	level    int
	hasLevel bool

	provider string
	eventID  int

	task      string
	taskID    int
	hasTaskID bool

	message  string
	template string
	params   []string

	user     string
	computer string
	raw      []byte
}

func (r *record) Level() (int, bool)       { return r.level, r.hasLevel }
func (r *record) Time() (time.Time, bool)  { return r.at, r.hasTime }
func (r *record) Provider() (string, bool) { return r.provider, r.provider != "" }
func (r *record) EventID() int             { return r.eventID }
func (r *record) RecordID() int64          { return r.recordID }
func (r *record) User() string             { return r.user }
func (r *record) Computer() string         { return r.computer }
func (r *record) Raw() []byte              { return r.raw }

func (r *record) Category() (string, error) {
	if r.task != "" {
		return r.task, nil
	}
	if r.hasTaskID {
		return "", fmt.Errorf("task %d has no registered name", r.taskID)
	}
	return "", nil
}

func (r *record) Description() (string, error) {
	if r.message != "" {
		return r.message, nil
	}
	if r.template == "" {
		return "", errNoDescription
	}
	return expandTemplate(r.template, r.params)
}

// expandTemplate replaces %1..%n with params. %% is a literal percent sign.
func expandTemplate(tmpl string, params []string) (string, error) {
	var b strings.Builder
	for i := 0; i < len(tmpl); i++ {
		c := tmpl[i]
		if c != '%' || i+1 >= len(tmpl) {
			b.WriteByte(c)
			continue
		}
		if tmpl[i+1] == '%' {
			b.WriteByte('%')
			i++
			continue
		}
		j := i + 1
		n := 0
		for j < len(tmpl) && tmpl[j] >= '0' && tmpl[j] <= '9' {
			n = n*10 + int(tmpl[j]-'0')
			j++
		}
		if j == i+1 {
			b.WriteByte(c)
			continue
		}
		if n < 1 || n > len(params) {
			return "", fmt.Errorf("template references %%%d but only %d params are present", n, len(params))
		}
		b.WriteString(params[n-1])
		i = j - 1
	}
	return b.String(), nil
}

// parseRecord decodes one JSON line.
func parseRecord(p *fastjson.Parser, line []byte) (*record, error) {
	v, err := p.ParseBytes(line)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", eventlog.ErrMalformedRecord, err)
	}
	if v.Type() != fastjson.TypeObject {
		return nil, fmt.Errorf("%w: line is not an object", eventlog.ErrMalformedRecord)
	}

	r := &record{
		recordID: v.GetInt64("record_id"),
		provider: string(v.GetStringBytes("provider")),
		eventID:  v.GetInt("event_id"),
		task:     string(v.GetStringBytes("task")),
		message:  string(v.GetStringBytes("message")),
		template: string(v.GetStringBytes("template")),
		user:     string(v.GetStringBytes("user")),
		computer: string(v.GetStringBytes("computer")),
		raw:      append([]byte(nil), line...),
	}

	if tv := v.Get("time"); tv != nil {
		switch tv.Type() {
		case fastjson.TypeString:
			if ts, err := time.Parse(time.RFC3339Nano, string(tv.GetStringBytes())); err == nil {
				r.at, r.hasTime = ts, true
			}
		case fastjson.TypeNumber:
			r.at, r.hasTime = time.Unix(0, tv.GetInt64()), true
		}
	}

	if lv := v.Get("level"); lv != nil {
		switch lv.Type() {
		case fastjson.TypeNumber:
			r.level, r.hasLevel = lv.GetInt(), true
		case fastjson.TypeString:
			if lvl, ok := eventlog.ParseLevel(string(lv.GetStringBytes())); ok {
				r.level, r.hasLevel = eventlog.LevelNumber(lvl), true
			}
		}
	}

	if tv := v.Get("task_id"); tv != nil && tv.Type() == fastjson.TypeNumber {
		r.taskID, r.hasTaskID = tv.GetInt(), true
	}

	for _, pv := range v.GetArray("params") {
		switch pv.Type() {
		case fastjson.TypeString:
			r.params = append(r.params, string(pv.GetStringBytes()))
		default:
			r.params = append(r.params, pv.String())
		}
	}

	return r, nil
}
