// Package logx is the process logger: leveled printf-style lines on stderr,
// debug output filtered by domain, and a ring of recent entries for the
// admin API.
package logx

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

const timestampFormat = "2006-01-02T15:04:05.000Z"

type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Logger writes lines tagged with a component and, optionally, a tenant.
type Logger struct {
	component string
	tenantID  string
}

func NewLogger(component string) *Logger {
	return &Logger{component: component}
}

// WithTenant returns a copy tagged with tenantID.
func (l *Logger) WithTenant(tenantID string) *Logger {
	return &Logger{component: l.component, tenantID: tenantID}
}

func (l *Logger) Debug(format string, args ...any) {
	if debugOn("") {
		l.emit(LevelDebug, "", "", format, args)
	}
}

func (l *Logger) Info(format string, args ...any)  { l.emit(LevelInfo, "", "", format, args) }
func (l *Logger) Warn(format string, args ...any)  { l.emit(LevelWarn, "", "", format, args) }
func (l *Logger) Error(format string, args ...any) { l.emit(LevelError, "", "", format, args) }

func (l *Logger) emit(level Level, domain, conversation, format string, args []any) {
	e := LogEntry{
		Timestamp:    time.Now().UTC().Format(timestampFormat),
		Component:    l.component,
		TenantID:     l.tenantID,
		Conversation: conversation,
		Level:        string(level),
		Domain:       domain,
		Message:      fmt.Sprintf(format, args...),
	}
	out.write(e.line())
	recent.add(e)
}

// Debug logs under domain when debug output is on for it. Tenant and
// conversation ids are taken from ctx.
//
//	DEBUG=1                            every domain
//	DEBUG=1 DEBUG_DOMAINS=memory,plan  only those
func Debug(ctx context.Context, domain, format string, args ...any) {
	if !debugOn(domain) {
		return
	}
	l := Logger{component: domain, tenantID: TenantFrom(ctx)}
	l.emit(LevelDebug, domain, ConversationFrom(ctx), format, args)
}

var system = NewLogger("system")

func Infof(format string, args ...any) {
	system.Info(format, args...)
}

// Errorf logs the formatted error and returns it.
func Errorf(format string, args ...any) error {
	err := fmt.Errorf(format, args...)
	system.Error("%v", err)
	return err
}

// Context values.

type ctxKey int

const (
	tenantKey ctxKey = iota
	conversationKey
)

func WithTenant(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantKey, tenantID)
}

func WithConversation(ctx context.Context, conversationID string) context.Context {
	return context.WithValue(ctx, conversationKey, conversationID)
}

func TenantFrom(ctx context.Context) string {
	return ctxString(ctx, tenantKey)
}

func ConversationFrom(ctx context.Context) string {
	return ctxString(ctx, conversationKey)
}

func ctxString(ctx context.Context, key ctxKey) string {
	if ctx == nil {
		return ""
	}
	s, _ := ctx.Value(key).(string)
	return s
}

// Debug switches.

var debug struct {
	sync.RWMutex
	on      bool
	domains map[string]bool // nil means every domain
}

func init() { //nolint:gochecknoinits // environment switches apply before flags are parsed
	v := os.Getenv("DEBUG")
	SetDebug(v == "1" || strings.EqualFold(v, "true"))
	if d := os.Getenv("DEBUG_DOMAINS"); d != "" {
		SetDebugDomains(strings.Split(d, ","))
	}
}

func SetDebug(enabled bool) {
	debug.Lock()
	debug.on = enabled
	debug.Unlock()
}

// SetDebugDomains limits debug output to the named domains. An empty list
// enables all of them.
func SetDebugDomains(domains []string) {
	debug.Lock()
	defer debug.Unlock()
	debug.domains = nil
	for _, d := range domains {
		if d = strings.TrimSpace(d); d == "" {
			continue
		}
		if debug.domains == nil {
			debug.domains = make(map[string]bool)
		}
		debug.domains[d] = true
	}
}

func IsDebugEnabledForDomain(domain string) bool {
	return debugOn(domain)
}

// debugOn with an empty domain ignores the domain filter.
func debugOn(domain string) bool {
	debug.RLock()
	defer debug.RUnlock()
	if !debug.on {
		return false
	}
	return domain == "" || debug.domains == nil || debug.domains[domain]
}

// Output.

type sink struct {
	mu sync.Mutex
	w  io.Writer // nil means stderr
}

var out sink

func (s *sink) write(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := s.w
	if w == nil {
		w = os.Stderr
	}
	_, _ = io.WriteString(w, line+"\n")
}

// LogEntry is one buffered log line.
type LogEntry struct {
	Timestamp    string `json:"timestamp"`
	Component    string `json:"component"`
	TenantID     string `json:"tenant_id,omitempty"`
	Conversation string `json:"conversation_id,omitempty"`
	Level        string `json:"level"`
	Domain       string `json:"domain,omitempty"`
	Message      string `json:"message"`
}

func (e *LogEntry) line() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] [%s", e.Timestamp, e.Component)
	if e.TenantID != "" {
		b.WriteString("@" + e.TenantID)
	}
	b.WriteString("] " + e.Level + ": ")
	if e.Domain != "" {
		b.WriteString("[" + e.Domain + "] ")
	}
	if e.Conversation != "" {
		b.WriteString("(" + e.Conversation + ") ")
	}
	b.WriteString(e.Message)
	return b.String()
}

// EntryFilter selects buffered entries. Zero fields match everything.
type EntryFilter struct {
	TenantID string
	Domain   string
	Since    time.Time
}

func (f EntryFilter) match(e *LogEntry) bool {
	if f.TenantID != "" && e.TenantID != f.TenantID {
		return false
	}
	if f.Domain != "" && !strings.EqualFold(e.Domain, f.Domain) {
		return false
	}
	if !f.Since.IsZero() {
		ts, err := time.Parse(timestampFormat, e.Timestamp)
		if err != nil || ts.Before(f.Since) {
			return false
		}
	}
	return true
}

const ringSize = 1000

type ring struct {
	mu   sync.Mutex
	buf  [ringSize]LogEntry
	next int
	full bool
}

var recent ring

func (r *ring) add(e LogEntry) {
	r.mu.Lock()
	r.buf[r.next] = e
	r.next = (r.next + 1) % ringSize
	if r.next == 0 {
		r.full = true
	}
	r.mu.Unlock()
}

func (r *ring) collect(f EntryFilter) []LogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	start, n := 0, r.next
	if r.full {
		start, n = r.next, ringSize
	}
	res := []LogEntry{}
	for i := 0; i < n; i++ {
		e := &r.buf[(start+i)%ringSize]
		if f.match(e) {
			res = append(res, *e)
		}
	}
	return res
}

// RecentEntries returns buffered entries matching f, oldest first.
func RecentEntries(f EntryFilter) []LogEntry {
	return recent.collect(f)
}
