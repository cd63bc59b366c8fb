// Package logx provides leveled, owner-tagged logging with domain-filtered debug output.
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

// Level is a log severity.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

const timestampFormat = "2006-01-02T15:04:05.000Z"

// Logger writes lines of the form "[timestamp] [owner] LEVEL: message".
// The owner is usually a session id or a component name.
type Logger struct {
	owner string
}

// DebugConfig controls debug logging behavior.
type DebugConfig struct {
	Domains map[string]bool // nil enables every domain
	Enabled bool
}

var (
	debugConfig = &DebugConfig{}
	debugMutex  sync.RWMutex

	logWriter     io.Writer // nil means stderr
	logWriterLock sync.Mutex
)

type ownerKey struct{}

func init() { //nolint:gochecknoinits // env driven debug switches
	initDebugFromEnv()
}

// initDebugFromEnv reads DEBUG=1|true and DEBUG_DOMAINS=agent,buffer,...
func initDebugFromEnv() {
	debugMutex.Lock()
	defer debugMutex.Unlock()

	if debug := os.Getenv("DEBUG"); debug == "1" || strings.EqualFold(debug, "true") {
		debugConfig.Enabled = true
	}
	if domains := os.Getenv("DEBUG_DOMAINS"); domains != "" {
		debugConfig.Domains = parseDomains(strings.Split(domains, ","))
	}
}

func parseDomains(domains []string) map[string]bool {
	if len(domains) == 0 {
		return nil
	}
	out := make(map[string]bool, len(domains))
	for _, d := range domains {
		if d = strings.TrimSpace(d); d != "" {
			out[d] = true
		}
	}
	return out
}

// NewLogger returns a logger tagged with owner.
func NewLogger(owner string) *Logger {
	return &Logger{owner: owner}
}

// SetOutput redirects all log output. Passing nil restores stderr.
func SetOutput(w io.Writer) {
	logWriterLock.Lock()
	defer logWriterLock.Unlock()
	logWriter = w
}

// SetDebug enables or disables debug output, optionally restricted to domains.
func SetDebug(enabled bool, domains []string) {
	debugMutex.Lock()
	defer debugMutex.Unlock()
	debugConfig.Enabled = enabled
	debugConfig.Domains = parseDomains(domains)
}

// IsDebugEnabledForDomain reports whether debug output for domain is on.
func IsDebugEnabledForDomain(domain string) bool {
	debugMutex.RLock()
	defer debugMutex.RUnlock()

	if !debugConfig.Enabled {
		return false
	}
	if debugConfig.Domains == nil {
		return true
	}
	return debugConfig.Domains[domain]
}

func write(owner string, level Level, message string) {
	line := fmt.Sprintf("[%s] [%s] %s: %s\n", time.Now().UTC().Format(timestampFormat), owner, level, message)

	logWriterLock.Lock()
	defer logWriterLock.Unlock()
	w := logWriter
	if w == nil {
		w = os.Stderr
	}
	_, _ = io.WriteString(w, line)
}

func (l *Logger) log(level Level, format string, args ...any) {
	write(l.owner, level, fmt.Sprintf(format, args...))
}

// Debug logs only when debug output is enabled.
func (l *Logger) Debug(format string, args ...any) {
	debugMutex.RLock()
	enabled := debugConfig.Enabled
	debugMutex.RUnlock()
	if !enabled {
		return
	}
	l.log(LevelDebug, format, args...)
}

func (l *Logger) Info(format string, args ...any) {
	l.log(LevelInfo, format, args...)
}

func (l *Logger) Warn(format string, args ...any) {
	l.log(LevelWarn, format, args...)
}

func (l *Logger) Error(format string, args ...any) {
	l.log(LevelError, format, args...)
}

// Owner returns the tag this logger writes with.
func (l *Logger) Owner() string {
	return l.owner
}

// WithOwner returns a copy of the logger writing under a different tag.
func (l *Logger) WithOwner(owner string) *Logger {
	return &Logger{owner: owner}
}

// ContextWithOwner attaches an owner tag used by the package-level Debug.
func ContextWithOwner(ctx context.Context, owner string) context.Context {
	return context.WithValue(ctx, ownerKey{}, owner)
}

// Debug logs a domain-scoped debug line.
//
//	DEBUG=1                          # every domain
//	DEBUG=1 DEBUG_DOMAINS=buffer     # only the buffer domain
//	DEBUG=1 DEBUG_DOMAINS=agent,git  # several domains
func Debug(ctx context.Context, domain, format string, args ...any) {
	if !IsDebugEnabledForDomain(domain) {
		return
	}
	owner := "unknown"
	if ctx != nil {
		if id, ok := ctx.Value(ownerKey{}).(string); ok && id != "" {
			owner = id
		}
	}
	write(owner, LevelDebug, fmt.Sprintf("[%s] %s", domain, fmt.Sprintf(format, args...)))
}

var defaultLogger = NewLogger("system")

func Infof(format string, args ...any) {
	defaultLogger.Info(format, args...)
}

func Warnf(format string, args ...any) {
	defaultLogger.Warn(format, args...)
}

// Errorf logs and returns the formatted error.
//
//	err := logx.Errorf("setup failed: %w", err)
func Errorf(format string, args ...any) error {
	err := fmt.Errorf(format, args...)
	defaultLogger.Error("%s", err.Error())
	return err
}

// Wrap logs msg + ": " + err.Error() and returns fmt.Errorf("%s: %w", msg, err).
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	wrapped := fmt.Errorf("%s: %w", msg, err)
	defaultLogger.Error("%s", wrapped.Error())
	return wrapped
}
