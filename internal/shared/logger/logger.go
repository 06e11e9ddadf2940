package logger

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"nodesieve/internal/shared/types"
)

// Init 按 [log] 配置初始化全局 zerolog logger，输出到 stderr，
// stdout 留给 run 模式的摘要。未知级别回落到 info。
func Init(cfg types.LogConf) error {
	levelStr := strings.ToLower(strings.TrimSpace(cfg.Level))
	level, err := zerolog.ParseLevel(levelStr)
	if err != nil || levelStr == "" {
		if levelStr != "" {
			fmt.Fprintf(os.Stderr, "unknown log level %q, using info\n", levelStr)
		}
		level = zerolog.InfoLevel
	}

	zerolog.TimestampFunc = func() time.Time {
		return time.Now().UTC()
	}

	log.Logger = zerolog.New(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: "2006-01-02 15:04:05",
	}).Level(level).With().Timestamp().Logger()

	Info().Msgf("Logger initialized with level: %s", level.String())
	return nil
}

// WithComponent 返回带 component 字段的子 logger，
// 名称形如 "ProxyPool/Manager"。
func WithComponent(name string) zerolog.Logger {
	return log.Logger.With().Str("component", name).Logger()
}

// Event 包装 zerolog 事件，供 cmd 与 app 层直接打日志。
type Event struct {
	*zerolog.Event
}

func Info() *Event  { return &Event{log.Info()} }
func Warn() *Event  { return &Event{log.Warn()} }
func Error() *Event { return &Event{log.Error()} }

// Fatal 记录后退出进程。
func Fatal() *Event { return &Event{log.Fatal()} }

func (e *Event) Str(key, value string) *Event {
	e.Event = e.Event.Str(key, value)
	return e
}

func (e *Event) Int(key string, value int) *Event {
	e.Event = e.Event.Int(key, value)
	return e
}

func (e *Event) Err(err error) *Event {
	e.Event = e.Event.Err(err)
	return e
}
