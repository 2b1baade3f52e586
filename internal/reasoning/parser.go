// Package reasoning separates a model's reasoning block from the visible
// answer while text is still streaming in.
package reasoning

import (
	"strings"
)

const (
	OpenMarker  = "<think>"
	CloseMarker = "</think>"
)

// State is the reasoning state derived from a message's raw content
type State int

const (
	StateNone State = iota
	StateActive
	StateFinished
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateFinished:
		return "finished"
	default:
		return "none"
	}
}

// MarshalText renders the state by name in JSON payloads
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// View is the derived split of a message's raw content
type View struct {
	State     State  `json:"state"`
	Reasoning string `json:"reasoning,omitempty"`
	Answer    string `json:"answer"`
	// Live is the last non-empty line of the reasoning body, set only while active
	Live string `json:"live,omitempty"`
	// Truncated is set when the stream ended before the close marker arrived
	Truncated bool `json:"truncated,omitempty"`
}

// Parser accumulates streamed fragments for one message and tracks the
// reasoning block incrementally. A message has at most one reasoning block;
// once the close marker is seen the split is fixed.
//
// Parser is not safe for concurrent use; callers serialize access.
type Parser struct {
	buf       strings.Builder
	openAt    int // index of OpenMarker, -1 until found
	closeAt   int // index of CloseMarker, -1 until found
	scanned   int // prefix of buf already searched for the pending marker
	finalized bool
}

// NewParser returns an empty parser
func NewParser() *Parser {
	return &Parser{openAt: -1, closeAt: -1}
}

// Write appends a fragment. Writes after Finalize are ignored.
func (p *Parser) Write(fragment string) {
	if p.finalized || fragment == "" {
		return
	}
	p.buf.WriteString(fragment)
	p.scan()
}

// scan looks for the pending marker in the unscanned tail only, backing up
// far enough to catch a marker split across fragments.
func (p *Parser) scan() {
	s := p.buf.String()

	if p.openAt < 0 {
		from := max(0, p.scanned-len(OpenMarker)+1)
		i := strings.Index(s[from:], OpenMarker)
		if i < 0 {
			p.scanned = len(s)
			return
		}
		p.openAt = from + i
		p.scanned = p.openAt + len(OpenMarker)
	}

	if p.closeAt < 0 {
		bodyStart := p.openAt + len(OpenMarker)
		from := max(bodyStart, p.scanned-len(CloseMarker)+1)
		if i := strings.Index(s[from:], CloseMarker); i >= 0 {
			p.closeAt = from + i
		}
		p.scanned = len(s)
	}
}

// Finalize marks the stream as ended. An unterminated reasoning block is
// closed at the end of the buffer.
func (p *Parser) Finalize() {
	p.finalized = true
}

// Finalized reports whether Finalize was called
func (p *Parser) Finalized() bool {
	return p.finalized
}

// Raw returns everything written so far
func (p *Parser) Raw() string {
	return p.buf.String()
}

// State returns the current reasoning state
func (p *Parser) State() State {
	switch {
	case p.openAt < 0:
		return StateNone
	case p.closeAt >= 0 || p.finalized:
		return StateFinished
	default:
		return StateActive
	}
}

// View returns the current split of the buffer
func (p *Parser) View() View {
	s := p.buf.String()
	if p.openAt < 0 {
		return View{State: StateNone, Answer: s}
	}

	bodyStart := p.openAt + len(OpenMarker)
	prefix := s[:p.openAt]

	if p.closeAt >= 0 {
		return View{
			State:     StateFinished,
			Reasoning: s[bodyStart:p.closeAt],
			Answer:    prefix + s[p.closeAt+len(CloseMarker):],
		}
	}

	body := s[bodyStart:]
	if p.finalized {
		return View{
			State:     StateFinished,
			Reasoning: body,
			Answer:    prefix,
			Truncated: true,
		}
	}

	return View{
		State:     StateActive,
		Reasoning: body,
		Answer:    prefix,
		Live:      lastLine(body),
	}
}

// Split returns the finished view of stored content
func Split(content string) View {
	p := NewParser()
	p.Write(content)
	p.Finalize()
	return p.View()
}

func lastLine(body string) string {
	for body != "" {
		i := strings.LastIndexByte(body, '\n')
		line := strings.TrimSpace(body[i+1:])
		if line != "" {
			return line
		}
		if i < 0 {
			break
		}
		body = body[:i]
	}
	return ""
}
