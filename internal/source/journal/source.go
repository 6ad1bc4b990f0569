// Package journal reads the systemd journal through journalctl. Channels are
// syslog identifiers.
package journal

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/valyala/fastjson"

	"github.com/tuanbt/logscope/internal/eventlog"
)

// Source runs journalctl for every query and watch.
type Source struct {
	binary  string
	logger  *slog.Logger
	parsers fastjson.ParserPool
}

// New creates a source using the given journalctl binary.
func New(binary string, logger *slog.Logger) *Source {
	if binary == "" {
		binary = "journalctl"
	}
	return &Source{binary: binary, logger: logger}
}

// IsInstalled reports whether the journalctl binary can be found.
func (s *Source) IsInstalled() bool {
	_, err := exec.LookPath(s.binary)
	return err == nil
}

// run executes a short journalctl command and returns stdout.
func (s *Source) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, s.binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", classify(err, stderr.String())
	}
	return stdout.String(), nil
}

// ListChannels returns every syslog identifier present in the journal.
func (s *Source) ListChannels(ctx context.Context) ([]string, error) {
	out, err := s.run(ctx, "--no-pager", "-F", "SYSLOG_IDENTIFIER")
	if err != nil {
		return nil, fmt.Errorf("list identifiers: %w", err)
	}
	var names []string
	for _, line := range strings.Split(out, "\n") {
		if name := strings.TrimSpace(line); name != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// OpenQuery streams matching entries newest first from a journalctl child.
func (s *Source) OpenQuery(ctx context.Context, channel string, since time.Time) (eventlog.Cursor, error) {
	if err := validChannel(channel); err != nil {
		return nil, err
	}
	args := []string{"--no-pager", "-o", "json", "--reverse"}
	if !since.IsZero() {
		args = append(args, "--since", "@"+strconv.FormatInt(since.Unix(), 10))
	}
	args = append(args, "SYSLOG_IDENTIFIER="+channel)

	p, err := s.start(args...)
	if err != nil {
		return nil, err
	}
	return &cursor{src: s, proc: p, since: since}, nil
}

// Watch follows new entries for channel.
func (s *Source) Watch(ctx context.Context, channel string) (eventlog.Watch, error) {
	if err := validChannel(channel); err != nil {
		return nil, err
	}
	p, err := s.start("--no-pager", "-o", "json", "-f", "-n", "0", "SYSLOG_IDENTIFIER="+channel)
	if err != nil {
		return nil, err
	}
	w := &watch{
		src:      s,
		channel:  channel,
		proc:     p,
		records:  make(chan eventlog.RawRecord, 64),
		errs:     make(chan error, 1),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
	}
	go w.run()
	return w, nil
}

// Capabilities reports no optional features; journalctl has no cheap count.
func (s *Source) Capabilities() eventlog.Capabilities {
	return eventlog.Capabilities{}
}

// process is a running journalctl child with line-oriented stdout.
type process struct {
	cmd    *exec.Cmd
	cancel context.CancelFunc
	stdout *bufio.Reader
	stderr *bytes.Buffer

	once    sync.Once
	waitErr error
}

func (s *Source) start(args ...string) (*process, error) {
	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(ctx, s.binary, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: stdout pipe: %v", eventlog.ErrProvider, err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("%w: start %s: %v", eventlog.ErrProvider, s.binary, err)
	}
	s.logger.Debug("journalctl started", "pid", cmd.Process.Pid, "args", strings.Join(args, " "))
	return &process{
		cmd:    cmd,
		cancel: cancel,
		stdout: bufio.NewReaderSize(stdout, 64*1024),
		stderr: &stderr,
	}, nil
}

// wait reaps the child once and maps a failed exit to a domain error.
func (p *process) wait() error {
	p.once.Do(func() {
		err := p.cmd.Wait()
		if err != nil {
			p.waitErr = classify(err, p.stderr.String())
		}
	})
	return p.waitErr
}

// stop kills the child and reaps it.
func (p *process) stop() {
	p.cancel()
	p.wait()
}

func (p *process) readLine() ([]byte, error) {
	line, err := p.stdout.ReadBytes('\n')
	if len(bytes.TrimSpace(line)) > 0 {
		return line, nil
	}
	if err != nil {
		return nil, err
	}
	return nil, nil
}

type cursor struct {
	src   *Source
	proc  *process
	since time.Time
	done  bool
}

func (c *cursor) Next(ctx context.Context) (eventlog.RawRecord, error) {
	if c.done {
		return nil, io.EOF
	}
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		line, err := c.proc.readLine()
		if errors.Is(err, io.EOF) {
			c.done = true
			if werr := c.proc.wait(); werr != nil {
				return nil, werr
			}
			return nil, io.EOF
		}
		if err != nil {
			return nil, fmt.Errorf("%w: read journal: %v", eventlog.ErrProvider, err)
		}
		if line == nil {
			continue
		}

		p := c.src.parsers.Get()
		e, err := parseEntry(p, line)
		c.src.parsers.Put(p)
		if err != nil {
			return nil, err
		}
		if !c.since.IsZero() && e.hasTime && e.at.Before(c.since) {
			continue
		}
		return e, nil
	}
}

func (c *cursor) Close() error {
	c.done = true
	c.proc.stop()
	return nil
}

type watch struct {
	src     *Source
	channel string
	proc    *process

	records  chan eventlog.RawRecord
	errs     chan error
	done     chan struct{}
	finished chan struct{}
	once     sync.Once
}

func (w *watch) Records() <-chan eventlog.RawRecord { return w.records }
func (w *watch) Errors() <-chan error               { return w.errs }

// Close kills the follower and waits for its reader. It is idempotent.
func (w *watch) Close() error {
	w.once.Do(func() {
		close(w.done)
		w.proc.stop()
		<-w.finished
	})
	return nil
}

func (w *watch) run() {
	defer close(w.finished)
	defer close(w.records)
	defer close(w.errs)

	for {
		line, err := w.proc.readLine()
		if err != nil {
			select {
			case <-w.done:
				return
			default:
			}
			werr := w.proc.wait()
			if werr == nil {
				werr = fmt.Errorf("%w: journalctl exited", eventlog.ErrProvider)
			}
			select {
			case w.errs <- werr:
			default:
			}
			return
		}
		if line == nil {
			continue
		}

		p := w.src.parsers.Get()
		e, perr := parseEntry(p, line)
		w.src.parsers.Put(p)
		if perr != nil {
			w.src.logger.Debug("skipping unreadable journal entry", "channel", w.channel, "error", perr)
			continue
		}
		select {
		case w.records <- e:
		case <-w.done:
			return
		}
	}
}

func validChannel(channel string) error {
	if channel == "" || channel == eventlog.AllChannels {
		return fmt.Errorf("%w: invalid channel name %q", eventlog.ErrInvalidRequest, channel)
	}
	return nil
}

// classify maps a journalctl failure onto the error taxonomy.
func classify(err error, stderr string) error {
	msg := strings.TrimSpace(stderr)
	lower := strings.ToLower(msg)
	var exitErr *exec.ExitError
	switch {
	case errors.Is(err, exec.ErrNotFound):
		return fmt.Errorf("%w: journalctl not installed: %v", eventlog.ErrProvider, err)
	case strings.Contains(lower, "permission denied"), strings.Contains(lower, "access denied"), strings.Contains(lower, "insufficient permissions"):
		return fmt.Errorf("%w: %s", eventlog.ErrAccessDenied, msg)
	case errors.As(err, &exitErr) && msg != "":
		return fmt.Errorf("%w: journalctl failed: %s", eventlog.ErrProvider, msg)
	default:
		return fmt.Errorf("%w: journalctl failed: %v", eventlog.ErrProvider, err)
	}
}
