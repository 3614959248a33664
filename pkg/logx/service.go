package logx

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	kit "postwatch/internal/transport"
)

type Config struct {
	Level    string
	Console  bool
	File     FileConfig
	Telegram TelegramConfig
}

type FileConfig struct {
	Enabled bool
	Path    string
}

// TelegramConfig mirrors records at or above MinLevel (default warn) into
// Target, at most RatePerSec per second.
type TelegramConfig struct {
	Enabled    bool
	Target     kit.ChatTarget
	MinLevel   string
	RatePerSec int
}

const (
	timeFormat     = "2006-01-02T15:04:05.000Z07:00"
	defaultLogFile = "./postwatch.log"
)

// Service owns the log outputs. Loggers it hands out pick up every Apply.
type Service struct {
	root atomic.Pointer[zerolog.Logger]

	mu   sync.Mutex // serialises Apply and Close
	file *os.File
	chat *chatSink
}

// New applies cfg and returns the service with its root Logger. A nil
// sender keeps the Telegram output silent.
func New(cfg Config, sender kit.Sender) (*Service, Logger) {
	setGlobals()
	s := &Service{chat: newChatSink(sender)}
	s.Apply(cfg)
	return s, Logger{svc: s}
}

func (s *Service) current() zerolog.Logger {
	if zl := s.root.Load(); zl != nil {
		return *zl
	}
	return zerolog.Nop()
}

// Apply rebuilds the outputs from cfg. Safe for concurrent use with logging.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var outs []io.Writer
	if cfg.Console {
		outs = append(outs, consoleWriter())
	}

	oldFile := s.file
	s.file = nil
	if cfg.File.Enabled {
		path := strings.TrimSpace(cfg.File.Path)
		if path == "" {
			path = defaultLogFile
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "logx: open log file %q: %v\n", path, err)
		} else {
			s.file = f
			outs = append(outs, zerolog.SyncWriter(f))
		}
	}

	s.chat.configure(cfg.Telegram)
	if cfg.Telegram.Enabled {
		outs = append(outs, s.chat)
	}

	if len(outs) == 0 {
		outs = append(outs, consoleWriter())
	}
	zl := zerolog.New(zerolog.MultiLevelWriter(outs...)).
		Level(parseLevel(cfg.Level, zerolog.InfoLevel)).
		With().Timestamp().Logger()
	s.root.Store(&zl)

	// Only now is nothing writing to the previous file.
	if oldFile != nil {
		_ = oldFile.Close()
	}
}

// Close stops the Telegram worker and closes the log file. Loggers keep
// working afterwards but only reach the console.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.chat.stop()
	zl := consoleLogger(s.current().GetLevel())
	s.root.Store(&zl)
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

func setGlobals() {
	zerolog.TimeFieldFormat = timeFormat
	zerolog.ErrorFieldName = "err"
}

func consoleWriter() io.Writer {
	return zerolog.ConsoleWriter{
		Out:          os.Stdout,
		TimeFormat:   timeFormat,
		FormatCaller: func(i any) string {
			s, _ := i.(string)
			return s
		},
	}
}

func consoleLogger(lvl zerolog.Level) zerolog.Logger {
	return zerolog.New(consoleWriter()).Level(lvl).With().Timestamp().Logger()
}
