package training

import (
	"fmt"
	"strings"
)

// recordLogger captures log lines for assertions.
type recordLogger struct {
	lines []string
}

func (r *recordLogger) log(level, msg string, args ...any) {
	parts := []string{level, msg}
	for _, a := range args {
		parts = append(parts, fmt.Sprint(a))
	}
	r.lines = append(r.lines, strings.Join(parts, " "))
}

func (r *recordLogger) Debug(msg string, args ...any) { r.log("DEBUG", msg, args...) }
func (r *recordLogger) Info(msg string, args ...any)  { r.log("INFO", msg, args...) }
func (r *recordLogger) Warn(msg string, args ...any)  { r.log("WARN", msg, args...) }
func (r *recordLogger) Error(msg string, args ...any) { r.log("ERROR", msg, args...) }

func (r *recordLogger) contains(substr string) bool {
	for _, line := range r.lines {
		if strings.Contains(line, substr) {
			return true
		}
	}
	return false
}
