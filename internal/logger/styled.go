// internal/logger/styled.go
package logger

import (
	"fmt"
	"log/slog"

	"github.com/pterm/pterm"

	"github.com/hestia-project/hestia-gateway/internal/core/domain"
	"github.com/hestia-project/hestia-gateway/theme"
)

// StyledLogger wraps slog.Logger with theme-aware formatting methods for the
// gateway's own boot/admin output (route tables, startup banners, lifecycle
// transitions). Request-path logging uses the plain slog.Logger instead.
type StyledLogger struct {
	logger *slog.Logger
	theme  *theme.Theme
}

// NewStyledLogger creates a new styled logger with the given theme.
func NewStyledLogger(logger *slog.Logger, theme *theme.Theme) *StyledLogger {
	return &StyledLogger{
		logger: logger,
		theme:  theme,
	}
}

func (sl *StyledLogger) Debug(msg string, args ...any) {
	sl.logger.Debug(msg, args...)
}

func (sl *StyledLogger) Info(msg string, args ...any) {
	sl.logger.Info(msg, args...)
}

func (sl *StyledLogger) Warn(msg string, args ...any) {
	sl.logger.Warn(msg, args...)
}

func (sl *StyledLogger) Error(msg string, args ...any) {
	sl.logger.Error(msg, args...)
}

// InfoWithCount styles a trailing "(N)" count, used for route tables and
// registry reload summaries.
func (sl *StyledLogger) InfoWithCount(msg string, count int, args ...any) {
	styledMsg := fmt.Sprintf("%s %s", msg, pterm.Style{sl.theme.Highlight}.Sprint("(", count, ")"))
	sl.logger.Info(styledMsg, args...)
}

// InfoWithService styles a service_id inline in the message.
func (sl *StyledLogger) InfoWithService(msg string, serviceID string, args ...any) {
	styledMsg := fmt.Sprintf("%s %s", msg, pterm.Style{sl.theme.Accent}.Sprint(serviceID))
	sl.logger.Info(styledMsg, args...)
}

// WarnWithService is InfoWithService at warn level.
func (sl *StyledLogger) WarnWithService(msg string, serviceID string, args ...any) {
	styledMsg := fmt.Sprintf("%s %s", msg, pterm.Style{sl.theme.Accent}.Sprint(serviceID))
	sl.logger.Warn(styledMsg, args...)
}

// ErrorWithService is InfoWithService at error level.
func (sl *StyledLogger) ErrorWithService(msg string, serviceID string, args ...any) {
	styledMsg := fmt.Sprintf("%s %s", msg, pterm.Style{sl.theme.Accent}.Sprint(serviceID))
	sl.logger.Error(styledMsg, args...)
}

// lifecycleColour maps a Lifecycle to the functional colour that best conveys
// its meaning: COLD is muted, STARTING is the warning colour, HOT is good,
// STOPPING is the warning colour again (it's a transient, recoverable state).
func lifecycleColour(t *theme.Theme, l domain.Lifecycle) pterm.Color {
	switch l {
	case domain.LifecycleHot:
		return t.Good
	case domain.LifecycleStarting, domain.LifecycleStopping:
		return t.Warning
	default:
		return t.Secondary
	}
}

// InfoLifecycleTransition logs a service's state machine moving from one
// Lifecycle to another, colouring the destination state.
func (sl *StyledLogger) InfoLifecycleTransition(serviceID string, from, to domain.Lifecycle, args ...any) {
	styledTo := pterm.Style{lifecycleColour(sl.theme, to)}.Sprint(to)
	styledMsg := fmt.Sprintf("service %s: %s -> %s", pterm.Style{sl.theme.Accent}.Sprint(serviceID), from, styledTo)
	sl.logger.Info(styledMsg, args...)
}

// InfoWithNumbers styles a run of integers inline in a printf-style message.
func (sl *StyledLogger) InfoWithNumbers(msg string, numbers ...int64) {
	formattedNums := make([]string, 0, len(numbers))
	for _, num := range numbers {
		formattedNums = append(formattedNums, pterm.Style{sl.theme.Highlight}.Sprint(num))
	}
	styledMsg := fmt.Sprintf(msg, toInterfaceSlice(formattedNums)...)
	sl.logger.Info(styledMsg)
}

// GetUnderlying returns the underlying slog.Logger for cases where direct
// access is needed (e.g. passing to a library that wants *slog.Logger).
func (sl *StyledLogger) GetUnderlying() *slog.Logger {
	return sl.logger
}

// WithAttrs creates a new StyledLogger with additional structured attributes.
func (sl *StyledLogger) WithAttrs(attrs ...slog.Attr) *StyledLogger {
	args := make([]any, 0, len(attrs)*2)
	for _, attr := range attrs {
		args = append(args, attr.Key, attr.Value)
	}
	return &StyledLogger{
		logger: sl.logger.With(args...),
		theme:  sl.theme,
	}
}

// With creates a new StyledLogger with additional key-value pairs.
func (sl *StyledLogger) With(args ...any) *StyledLogger {
	return &StyledLogger{
		logger: sl.logger.With(args...),
		theme:  sl.theme,
	}
}

func toInterfaceSlice(strs []string) []interface{} {
	result := make([]interface{}, len(strs))
	for i, s := range strs {
		result[i] = s
	}
	return result
}

// NewWithTheme creates both a regular logger and a styled logger sharing the
// same handlers.
func NewWithTheme(cfg *Config) (*slog.Logger, *StyledLogger, func(), error) {
	logger, cleanup, err := New(cfg)
	if err != nil {
		return nil, nil, nil, err
	}

	appTheme := theme.GetTheme(cfg.Theme)
	styledLogger := NewStyledLogger(logger, appTheme)

	return logger, styledLogger, cleanup, nil
}
