// Package messaging is the diagnostics sink for a bind. Every error,
// warning and verbose message the binder produces is a *Message. Messages
// are either posted to a Messenger, which logs them and keeps going, or
// returned as an error when the condition is fatal to the build.
package messaging

import (
	"fmt"
	"sync"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/pkg/errors"
)

// Level is the severity of a message.
type Level int

const (
	LevelVerbose Level = iota
	LevelWarning
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelVerbose:
		return "verbose"
	case LevelWarning:
		return "warning"
	case LevelError:
		return "error"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// SourceLine points back at the authoring that produced a row. It is
// opaque to the binder, usually "file.wxs(42)".
type SourceLine string

// Message is a single structured diagnostic.
type Message struct {
	Level  Level
	Code   Code
	Source SourceLine
	Text   string
}

func newMessage(lvl Level, code Code, src SourceLine, format string, args ...interface{}) *Message {
	return &Message{
		Level:  lvl,
		Code:   code,
		Source: src,
		Text:   fmt.Sprintf(format, args...),
	}
}

// Error implements error, so fatal messages can be returned directly.
func (m *Message) Error() string {
	prefix := "BND"
	if m.Source != "" {
		return fmt.Sprintf("%s: %s %s%04d: %s", m.Source, m.Level, prefix, int(m.Code), m.Text)
	}
	return fmt.Sprintf("%s %s%04d: %s", m.Level, prefix, int(m.Code), m.Text)
}

// CodeOf returns the code of the first *Message in err's chain, and false
// if there is none.
func CodeOf(err error) (Code, bool) {
	var m *Message
	if errors.As(err, &m) {
		return m.Code, true
	}
	return 0, false
}

// Messenger collects posted messages. It is safe for concurrent use; the
// cabinet workers post through it.
type Messenger struct {
	logger log.Logger

	mu       sync.Mutex
	messages []*Message
	errors   int
	warnings int
}

func New(logger log.Logger) *Messenger {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Messenger{logger: logger}
}

// Post records a message and logs it. Posting never interrupts the caller.
func (m *Messenger) Post(msg *Message) {
	m.mu.Lock()
	m.messages = append(m.messages, msg)
	switch msg.Level {
	case LevelError:
		m.errors++
	case LevelWarning:
		m.warnings++
	}
	m.mu.Unlock()

	var lf func(log.Logger) log.Logger
	switch msg.Level {
	case LevelError:
		lf = level.Error
	case LevelWarning:
		lf = level.Warn
	default:
		lf = level.Debug
	}

	lf(m.logger).Log(
		"msg", msg.Text,
		"code", msg.Code.String(),
		"source", string(msg.Source),
	)
}

// Fail posts an error-level message and returns it as an error. It's the
// path for fatal conditions, so the failure also lands in the tally.
func (m *Messenger) Fail(msg *Message) error {
	m.Post(msg)
	return msg
}

// EncounteredError reports whether any error-level message was posted.
func (m *Messenger) EncounteredError() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.errors > 0
}

func (m *Messenger) ErrorCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.errors
}

func (m *Messenger) WarningCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.warnings
}

// Messages returns a copy of everything posted so far, in order.
func (m *Messenger) Messages() []*Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Message, len(m.messages))
	copy(out, m.messages)
	return out
}

// WithCode returns the posted messages carrying code.
func (m *Messenger) WithCode(code Code) []*Message {
	var out []*Message
	for _, msg := range m.Messages() {
		if msg.Code == code {
			out = append(out, msg)
		}
	}
	return out
}
