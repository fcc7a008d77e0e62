package logging

import (
	"io"
	"log"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/TheGojiOG/steamserv/internal/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

// ComponentKey is the attribute naming the subsystem that produced a record.
const ComponentKey = "component"

var (
	mu     sync.RWMutex
	root   *slog.Logger
	closer io.Closer
)

// Init points the process logger at cfg's destination. The standard
// library logger is routed through it, so "[Registry] ..." lines become
// records tagged component=registry. Calling Init again replaces the
// previous destination.
func Init(cfg config.LoggingConfig) (*slog.Logger, error) {
	out, c := openOutput(cfg)
	l := slog.New(newHandler(cfg, out))

	mu.Lock()
	prev := closer
	root, closer = l, c
	mu.Unlock()

	if prev != nil {
		prev.Close()
	}
	slog.SetDefault(l)
	log.SetFlags(0)
	log.SetOutput(stdBridge{})
	return l, nil
}

// L returns the process logger. Before Init it discards everything so
// library code and tests stay quiet.
func L() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	if root == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return root
}

// Component returns L() tagged with the subsystem name.
func Component(name string) *slog.Logger {
	return L().With(ComponentKey, strings.ToLower(name))
}

// Close releases the log file, if one is open.
func Close() error {
	mu.Lock()
	c := closer
	closer = nil
	mu.Unlock()
	if c == nil {
		return nil
	}
	return c.Close()
}

func newHandler(cfg config.LoggingConfig, out io.Writer) slog.Handler {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}
	if strings.EqualFold(cfg.Format, "text") {
		return slog.NewTextHandler(out, opts)
	}
	opts.AddSource = true
	return slog.NewJSONHandler(out, opts)
}

// stdBridge turns log.Printf output into structured records.
type stdBridge struct{}

func (stdBridge) Write(p []byte) (int, error) {
	msg := strings.TrimSpace(string(p))
	if msg == "" {
		return len(p), nil
	}
	name, rest := splitComponent(msg)
	l := L()
	if name != "" {
		l = l.With(ComponentKey, name)
	}
	if strings.HasPrefix(strings.ToLower(rest), "warning:") {
		l.Warn(strings.TrimSpace(rest[len("warning:"):]))
	} else {
		l.Info(rest)
	}
	return len(p), nil
}

// splitComponent separates a leading "[Name]" tag from the message.
func splitComponent(msg string) (string, string) {
	if !strings.HasPrefix(msg, "[") {
		return "", msg
	}
	end := strings.IndexByte(msg, ']')
	if end <= 1 {
		return "", msg
	}
	return strings.ToLower(msg[1:end]), strings.TrimSpace(msg[end+1:])
}

func openOutput(cfg config.LoggingConfig) (io.Writer, io.Closer) {
	if strings.TrimSpace(cfg.File) == "" {
		return os.Stderr, nil
	}

	file := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	}

	// stdout carries command output; the log reaches the terminal only with --verbose.
	if cfg.Console {
		return io.MultiWriter(os.Stderr, file), file
	}
	return file, file
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
