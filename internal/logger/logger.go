// Package logger models the specifier-anchored diagnostics that every
// component of the core surfaces to its caller. A Msg is not free text: it
// is pinned to an offending specifier (and, where applicable, a referrer)
// so that errors collected from concurrent tasks can be sorted by display
// text and reported deterministically (see the Graph Builder's error
// selection rule).
package logger

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
)

type MsgKind uint8

const (
	Error MsgKind = iota
	Warning
	Note
)

func (kind MsgKind) String() string {
	switch kind {
	case Error:
		return "error"
	case Warning:
		return "warning"
	case Note:
		return "note"
	default:
		panic("unreachable")
	}
}

// Loc is the 0-based byte offset of a location from the start of a source.
type Loc struct {
	Start int32
}

type Range struct {
	Loc Loc
	Len int32
}

func (r Range) End() int32 { return r.Loc.Start + r.Len }

// Path identifies a specifier for display purposes. Namespace distinguishes
// "file" paths (platform file system paths) from opaque module specifiers
// (http, data, blob, node, npm, jsr).
type Path struct {
	Text      string
	Namespace string
}

func (p Path) String() string {
	if p.Namespace == "" || p.Namespace == "file" {
		return p.Text
	}
	return p.Namespace + ":" + p.Text
}

// MsgLocation pins a Msg to a specifier and, optionally, a byte range and
// referrer within that specifier's source.
type MsgLocation struct {
	Specifier Path
	Referrer  *Path
	Range     Range
	LineText  string
	Line      int // 1-based; 0 if unknown
	Column    int // 0-based, in bytes
}

type MsgData struct {
	Text     string
	Location *MsgLocation
}

type Msg struct {
	Kind  MsgKind
	Data  MsgData
	Notes []MsgData
}

func (m Msg) String() string {
	var b strings.Builder
	if loc := m.Data.Location; loc != nil {
		fmt.Fprintf(&b, "%s: ", loc.Specifier.String())
	}
	fmt.Fprintf(&b, "%s: %s", m.Kind, m.Data.Text)
	return b.String()
}

// SortableMsgs sorts by display text, the determinism rule used whenever
// concurrent tasks race to report the first error.
type SortableMsgs []Msg

func (a SortableMsgs) Len() int      { return len(a) }
func (a SortableMsgs) Swap(i, j int) { a[i], a[j] = a[j], a[i] }
func (a SortableMsgs) Less(i, j int) bool {
	return a[i].String() < a[j].String()
}

// Log accumulates messages from possibly-concurrent tasks and exposes them
// in deterministic (sorted) order once the caller is done producing them.
type Log struct {
	mu   sync.Mutex
	msgs []Msg
}

func NewLog() *Log {
	return &Log{}
}

func (l *Log) AddError(specifier Path, text string) {
	l.add(Msg{Kind: Error, Data: MsgData{Text: text, Location: &MsgLocation{Specifier: specifier}}})
}

func (l *Log) AddErrorWithReferrer(specifier Path, referrer Path, text string) {
	l.add(Msg{Kind: Error, Data: MsgData{Text: text, Location: &MsgLocation{Specifier: specifier, Referrer: &referrer}}})
}

func (l *Log) AddWarning(specifier Path, text string) {
	l.add(Msg{Kind: Warning, Data: MsgData{Text: text, Location: &MsgLocation{Specifier: specifier}}})
}

func (l *Log) add(msg Msg) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.msgs = append(l.msgs, msg)
}

func (l *Log) HasErrors() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, m := range l.msgs {
		if m.Kind == Error {
			return true
		}
	}
	return false
}

// Done returns all accumulated messages sorted by display text.
func (l *Log) Done() []Msg {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Msg, len(l.msgs))
	copy(out, l.msgs)
	sort.Sort(SortableMsgs(out))
	return out
}

// FirstSorted returns the first message once sorted by display text, and
// whether any message was present at all. This is the concrete
// implementation of the "collect errors, sort by display text, return the
// first" determinism rule.
func FirstSorted(msgs []Msg) (Msg, bool) {
	if len(msgs) == 0 {
		return Msg{}, false
	}
	sorted := make([]Msg, len(msgs))
	copy(sorted, msgs)
	sort.Sort(SortableMsgs(sorted))
	return sorted[0], true
}

const (
	colorRed    = "\x1b[31m"
	colorYellow = "\x1b[33m"
	colorReset  = "\x1b[0m"
)

// WriteHuman writes the log's accumulated messages, sorted, one per line,
// as an optional debug stream for embedders running interactively. This is
// the only consumer of TerminalInfo: the Msg/Log model itself never
// branches on whether it is attached to a terminal.
func (l *Log) WriteHuman(w io.Writer, info TerminalInfo) {
	for _, m := range l.Done() {
		fmt.Fprintln(w, colorize(m, info))
	}
}

// WriteHumanToStderr is the conventional entry point for a CLI embedder:
// detect the terminal once and format accordingly.
func (l *Log) WriteHumanToStderr() {
	l.WriteHuman(os.Stderr, GetTerminalInfo(os.Stderr))
}

func colorize(m Msg, info TerminalInfo) string {
	if !info.UseColorEscapes {
		return m.String()
	}
	switch m.Kind {
	case Error:
		return colorRed + m.String() + colorReset
	case Warning:
		return colorYellow + m.String() + colorReset
	default:
		return m.String()
	}
}
