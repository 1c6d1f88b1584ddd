package gitrepo

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const maxLoggedFiles = 5

// ActionEntry is one line of the git action log.
type ActionEntry struct {
	Time      time.Time
	Action    string
	Success   bool
	EventType string
	User      string
	Branch    string
	CommitSHA string
	PRURL     string
	Files     []string
	Error     string
}

// Line renders the entry in the log's key=value format, without a trailing
// newline. Empty fields are omitted.
func (e ActionEntry) Line() string {
	status := "FAILED"
	if e.Success {
		status = "SUCCESS"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] [%s] action=%s event_type=%s",
		e.Time.UTC().Format("2006-01-02T15:04:05.000000"), status, e.Action, e.EventType)
	if e.User != "" {
		fmt.Fprintf(&b, " user=%s", e.User)
	}
	if e.Branch != "" {
		fmt.Fprintf(&b, " branch=%s", e.Branch)
	}
	if e.CommitSHA != "" {
		fmt.Fprintf(&b, " commit=%s", e.CommitSHA)
	}
	if e.PRURL != "" {
		fmt.Fprintf(&b, " pr_url=%s", e.PRURL)
	}
	if len(e.Files) > 0 {
		shown := e.Files
		if len(shown) > maxLoggedFiles {
			shown = shown[:maxLoggedFiles]
		}
		fmt.Fprintf(&b, " files=%s", strings.Join(shown, ","))
		if extra := len(e.Files) - maxLoggedFiles; extra > 0 {
			fmt.Fprintf(&b, "...+%d more", extra)
		}
	}
	if e.Error != "" {
		fmt.Fprintf(&b, " error=%q", e.Error)
	}
	return b.String()
}

// ActionLog appends entries to a plain text file.
type ActionLog struct {
	mu   sync.Mutex
	path string
}

func NewActionLog(path string) *ActionLog {
	return &ActionLog{path: path}
}

func (l *ActionLog) Path() string { return l.path }

func (l *ActionLog) Append(entry ActionEntry) error {
	if entry.Time.IsZero() {
		entry.Time = time.Now()
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create action log dir: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open action log: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(entry.Line() + "\n"); err != nil {
		return fmt.Errorf("write action log: %w", err)
	}
	return nil
}
