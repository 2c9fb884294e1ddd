package logging

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// clientSet is shared by a handler and every handler derived from it, so
// SetClients reaches loggers created with With.
type clientSet struct {
	mu      sync.RWMutex
	clients []*SyslogClient
}

func (cs *clientSet) get() []*SyslogClient {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.clients
}

func (cs *clientSet) swap(clients []*SyslogClient) []*SyslogClient {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	old := cs.clients
	cs.clients = clients
	return old
}

// SyslogSlogHandler is an slog.Handler that forwards records to remote
// syslog servers in addition to a wrapped base handler.
type SyslogSlogHandler struct {
	base   slog.Handler
	set    *clientSet
	prefix string // rendered attrs from WithAttrs
	groups []string
}

// NewSyslogSlogHandler wraps base with syslog forwarding.
func NewSyslogSlogHandler(base slog.Handler) *SyslogSlogHandler {
	return &SyslogSlogHandler{base: base, set: &clientSet{}}
}

// SetClients replaces the set of syslog clients. Old clients are closed.
func (h *SyslogSlogHandler) SetClients(clients []*SyslogClient) {
	for _, c := range h.set.swap(clients) {
		c.Close()
	}
}

// Close closes all syslog clients.
func (h *SyslogSlogHandler) Close() {
	h.SetClients(nil)
}

// Enabled implements slog.Handler.
func (h *SyslogSlogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.base.Enabled(ctx, level)
}

// Handle implements slog.Handler.
func (h *SyslogSlogHandler) Handle(ctx context.Context, r slog.Record) error {
	err := h.base.Handle(ctx, r)

	clients := h.set.get()
	if len(clients) == 0 {
		return err
	}
	severity := slogLevelToSyslog(r.Level)
	var msg string
	for _, c := range clients {
		if !c.ShouldSend(severity) {
			continue
		}
		if msg == "" {
			msg = h.format(r)
		}
		c.Send(severity, msg)
	}
	return err
}

// WithAttrs implements slog.Handler.
func (h *SyslogSlogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	var b strings.Builder
	b.WriteString(h.prefix)
	for _, a := range attrs {
		writeAttr(&b, h.groups, a)
	}
	return &SyslogSlogHandler{
		base:   h.base.WithAttrs(attrs),
		set:    h.set,
		prefix: b.String(),
		groups: h.groups,
	}
}

// WithGroup implements slog.Handler.
func (h *SyslogSlogHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &SyslogSlogHandler{
		base:   h.base.WithGroup(name),
		set:    h.set,
		prefix: h.prefix,
		groups: append(append([]string{}, h.groups...), name),
	}
}

// slogLevelToSyslog maps slog levels to syslog severity values.
func slogLevelToSyslog(level slog.Level) int {
	switch {
	case level >= slog.LevelError:
		return SyslogError
	case level >= slog.LevelWarn:
		return SyslogWarning
	case level >= slog.LevelInfo:
		return SyslogInfo
	default:
		return SyslogDebug
	}
}

// format produces a compact key=value rendering of r.
func (h *SyslogSlogHandler) format(r slog.Record) string {
	var b strings.Builder
	b.WriteString(r.Message)
	b.WriteString(h.prefix)
	r.Attrs(func(a slog.Attr) bool {
		writeAttr(&b, h.groups, a)
		return true
	})
	return b.String()
}

func writeAttr(b *strings.Builder, groups []string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() == slog.KindGroup {
		sub := groups
		if a.Key != "" {
			sub = append(append([]string{}, groups...), a.Key)
		}
		for _, ga := range a.Value.Group() {
			writeAttr(b, sub, ga)
		}
		return
	}
	key := a.Key
	if len(groups) > 0 {
		key = strings.Join(groups, ".") + "." + key
	}
	fmt.Fprintf(b, " %s=%s", key, a.Value.String())
}
