package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"

	"github.com/thywilljoshua/slidegen/internal/errinfo"
	"github.com/thywilljoshua/slidegen/internal/progress"
	"github.com/thywilljoshua/slidegen/internal/quota"
	"github.com/thywilljoshua/slidegen/internal/slides"
)

type printer struct {
	out       io.Writer
	err       io.Writer
	useColors bool

	// mu serializes status lines from Watch and the command goroutine.
	mu sync.Mutex
}

func newPrinter(out, errw io.Writer) *printer {
	use := !noColor
	if cfg != nil && !cfg.Output.Colors {
		use = false
	}
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		use = false
	}
	return &printer{out: out, err: errw, useColors: use}
}

func (p *printer) paint(c color.Attribute, format string, args ...any) string {
	s := fmt.Sprintf(format, args...)
	if !p.useColors {
		return s
	}
	return color.New(c).Sprint(s)
}

func (p *printer) status(line string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.err, line)
}

func (p *printer) Info(format string, args ...any) {
	p.status(p.paint(color.FgCyan, format, args...))
}

func (p *printer) Success(format string, args ...any) {
	p.status(p.paint(color.FgGreen, format, args...))
}

func (p *printer) Warn(format string, args ...any) {
	p.status(p.paint(color.FgYellow, format, args...))
}

// Error prints the user-facing message for a generation error along with its
// cause. Other errors are printed as they are.
func (p *printer) Error(err error) {
	msg, detail := err.Error(), ""
	var e *errinfo.Error
	if errors.As(err, &e) {
		msg, detail = errinfo.Message(err), err.Error()
	}
	if p.useColors {
		color.New(color.FgRed, color.Bold).Fprintf(p.err, "Error: %s\n", msg)
	} else {
		fmt.Fprintf(p.err, "[ERROR] %s\n", msg)
	}
	if detail != "" {
		fmt.Fprintf(p.err, "  Cause: %s\n", detail)
	}
	if e != nil && errinfo.Retryable(err) {
		fmt.Fprintln(p.err, p.paint(color.FgCyan, "  Suggestion: the call can be retried"))
	}
}

// Follow runs Watch in the background; the returned func stops it and waits.
func (p *printer) Follow(ctx context.Context, read func() progress.Progress) func() {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Watch(ctx, read)
	}()
	return func() {
		cancel()
		<-done
	}
}

// Watch prints progress lines until ctx is done. Only changes are printed.
func (p *printer) Watch(ctx context.Context, read func() progress.Progress) {
	t := time.NewTicker(500 * time.Millisecond)
	defer t.Stop()
	last := progress.Progress{Percent: -1}
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			pr := read()
			if !pr.Active || (pr.Percent == last.Percent && pr.Label == last.Label) {
				continue
			}
			last = pr
			p.status(p.paint(color.FgHiBlack, "[%3d%%] %s", pr.Percent, pr.Label))
		}
	}
}

func newTable(w io.Writer) *tablewriter.Table {
	return tablewriter.NewTable(w,
		tablewriter.WithConfig(tablewriter.Config{
			Row: tw.CellConfig{
				Formatting: tw.CellFormatting{AutoWrap: tw.WrapNone},
				Alignment:  tw.CellAlignment{Global: tw.AlignLeft},
			},
			Header: tw.CellConfig{
				Formatting: tw.CellFormatting{AutoFormat: tw.On},
				Alignment:  tw.CellAlignment{Global: tw.AlignLeft},
			},
		}),
		tablewriter.WithRendition(tw.Rendition{
			Borders: tw.BorderNone,
			Settings: tw.Settings{
				Separators: tw.Separators{ShowHeader: tw.Off},
			},
		}),
	)
}

func renderSlides(w io.Writer, units []slides.Unit) error {
	t := newTable(w)
	t.Header([]string{"#", "Title", "Status", "Points", "Artifact"})
	for _, u := range units {
		status := string(u.Status)
		if u.Fallback {
			status += " (source)"
		}
		if err := t.Append([]string{
			strconv.Itoa(u.Order),
			u.Title,
			status,
			strconv.Itoa(len(u.KeyPoints)),
			u.Artifact,
		}); err != nil {
			return err
		}
	}
	return t.Render()
}

func renderQuota(w io.Writer, key string, st quota.Status, kinds map[string]int) error {
	t := newTable(w)
	t.Header([]string{"Identity", "Day", "Used", "Limit", "Remaining"})
	if err := t.Append([]string{key, st.Day, strconv.Itoa(st.Used), strconv.Itoa(st.Limit), strconv.Itoa(st.Remaining)}); err != nil {
		return err
	}
	if err := t.Render(); err != nil {
		return err
	}
	if len(kinds) == 0 {
		return nil
	}
	parts := make([]string, 0, len(kinds))
	for k, n := range kinds {
		parts = append(parts, fmt.Sprintf("%s=%d", k, n))
	}
	sort.Strings(parts)
	_, err := fmt.Fprintf(w, "\nBy workflow: %s\n", strings.Join(parts, ", "))
	return err
}
