package hooks

import (
	"runtime/debug"
	"strings"

	log "github.com/sirupsen/logrus"
)

// Adds a "file:line" field naming the call site that produced the entry.
type contextHook struct {
	trimPrefix string
}

func NewContextHook() contextHook {
	return contextHook{trimPrefix: "tollgate/"}
}

func (hook contextHook) Levels() []log.Level {
	return log.AllLevels
}

func (hook contextHook) Fire(entry *log.Entry) error {
	if loc := hook.caller(string(debug.Stack())); loc != "" {
		entry.Data["file:line"] = loc
	}
	return nil
}

// Walks a debug.Stack() dump and returns the first file:line below the logrus frames.
// Stack dumps alternate function lines and "\t/path/file.go:NN +0x..." lines.
func (hook contextHook) caller(stack string) string {
	lines := strings.Split(stack, "\n")
	inLogrus := false
	for i := 0; i < len(lines); i++ {
		line := lines[i]
		if strings.Contains(line, "sirupsen/logrus") {
			inLogrus = true
			continue
		}
		if !inLogrus || !strings.HasPrefix(line, "\t") {
			continue
		}
		loc := strings.TrimSpace(line)
		if idx := strings.LastIndex(loc, " +0x"); idx >= 0 {
			loc = loc[:idx]
		}
		parts := strings.Split(loc, hook.trimPrefix)
		return parts[len(parts)-1]
	}
	return ""
}
