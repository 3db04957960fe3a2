package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/chatphantom/phantomchat/internal/domain/chat/models"
	"github.com/chatphantom/phantomchat/internal/services/chat"
	"github.com/fatih/color"
)

const defaultTerminalRows = 24

// terminalSurface measures the transcript in terminal rows. The terminal
// itself only scrolls forward, so the offset is bookkeeping for the
// viewport rules rather than a real scroll position.
type terminalSurface struct {
	mu     sync.Mutex
	rows   int
	height int
	offset float64
}

func newTerminalSurface(height int) *terminalSurface {
	if height <= 0 {
		height = defaultTerminalRows
	}
	return &terminalSurface{height: height}
}

func terminalHeight() int {
	if n, err := strconv.Atoi(os.Getenv("LINES")); err == nil && n > 0 {
		return n
	}
	return defaultTerminalRows
}

func (s *terminalSurface) ScrollOffset() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offset
}

func (s *terminalSurface) ContentExtent() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return float64(s.rows)
}

func (s *terminalSurface) ViewportExtent() float64 {
	return float64(s.height)
}

func (s *terminalSurface) SetScrollOffset(offset float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offset = offset
}

func (s *terminalSurface) addRows(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows += n
}

// liveLine tracks how much of the cumulative reply is already on screen.
type liveLine struct {
	printed string
}

// advance returns what to write so the screen shows text.
func (l *liveLine) advance(text string) string {
	if strings.HasPrefix(text, l.printed) {
		out := text[len(l.printed):]
		l.printed = text
		return out
	}
	// The reply was revised rather than extended: start it over.
	l.printed = text
	return "\n" + text
}

func (l *liveLine) reset() {
	l.printed = ""
}

// renderer turns session events into terminal output.
type renderer struct {
	mu      sync.Mutex
	out     io.Writer
	surface *terminalSurface
	session *chat.Session
	live    liveLine
	inLive  bool
}

func newRenderer(out io.Writer, surface *terminalSurface) *renderer {
	return &renderer{out: out, surface: surface}
}

var (
	youLabel     = color.New(color.Bold, color.FgCyan).Sprint("you")
	phantomLabel = color.New(color.Bold, color.FgMagenta).Sprint("phantom")
	dim          = color.New(color.FgHiBlack)
)

func (r *renderer) handle(ev chat.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch ev.Kind {
	case chat.EventReset:
		r.live.reset()
		r.inLive = false
		r.println(dim.Sprintf("── conversation with %s ──", ev.ResourceID))

	case chat.EventHistoryMerged:
		if r.session == nil {
			return
		}
		msgs := r.session.Snapshot().Messages
		if ev.Merged > len(msgs) {
			ev.Merged = len(msgs)
		}
		r.println(dim.Sprintf("── %d earlier messages ──", ev.Merged))
		for _, m := range msgs[:ev.Merged] {
			r.printMessage(m)
		}
		r.session.AfterRender()

	case chat.EventLive:
		if !r.inLive {
			fmt.Fprintf(r.out, "%s: ", phantomLabel)
			r.inLive = true
		}
		fmt.Fprint(r.out, r.live.advance(ev.Live))

	case chat.EventCommitted:
		if ev.Message.Role == models.RoleUser {
			// The user already sees what they typed.
			r.surface.addRows(rowsFor(ev.Message.Content))
			return
		}
		if !r.inLive {
			fmt.Fprintf(r.out, "%s: ", phantomLabel)
		}
		fmt.Fprintln(r.out, r.live.advance(ev.Message.Content))
		r.surface.addRows(rowsFor(ev.Message.Content))
		r.live.reset()
		r.inLive = false

	case chat.EventTurnFailed:
		if r.inLive {
			fmt.Fprintln(r.out)
		}
		r.live.reset()
		r.inLive = false
		r.println(color.New(color.FgRed).Sprintf("reply failed: %v", ev.Err))
	}
}

func (r *renderer) note(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.println(dim.Sprintf(format, args...))
}

func (r *renderer) printMessage(m models.Message) {
	label := phantomLabel
	if m.Role == models.RoleUser {
		label = youLabel
	}
	r.println(fmt.Sprintf("%s: %s", label, m.Content))
}

func (r *renderer) println(s string) {
	fmt.Fprintln(r.out, s)
	r.surface.addRows(rowsFor(s))
}

func rowsFor(s string) int {
	return strings.Count(s, "\n") + 1
}
