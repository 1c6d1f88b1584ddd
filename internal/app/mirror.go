package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/zskreisz01/RepeatNoMore-sub000/internal/language"
	"github.com/zskreisz01/RepeatNoMore-sub000/internal/models"
)

// FileWriter performs the knowledge base writes of the workflows.
type FileWriter interface {
	// AppendEntry appends entry to path. A new file starts with header.
	AppendEntry(path, header, entry string) error
	// MergeContent appends "\n\n<content>\n" to an existing file, or creates
	// the file holding content alone.
	MergeContent(path, content string) error
	ReadFile(path string) ([]byte, error)
}

// DiskWriter writes to the local file system, creating parent directories as
// needed.
type DiskWriter struct {
	mu sync.Mutex
}

func NewDiskWriter() *DiskWriter { return &DiskWriter{} }

func (w *DiskWriter) AppendEntry(path, header, entry string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		entry = header + entry
	}
	return appendFile(path, entry)
}

func (w *DiskWriter) MergeContent(path, content string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := os.Stat(path); err == nil {
		return appendFile(path, "\n\n"+content+"\n")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(path), err)
	}
	return os.WriteFile(path, []byte(content), 0o644)
}

func (w *DiskWriter) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

func appendFile(path, text string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(path), err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(text); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

const (
	suggestionsHeader = "# Feature Suggestions\n\n_Community suggestions for new features and improvements._\n\n---\n\n"
	draftsHeader      = "# Draft Updates\n\n_Pending documentation updates awaiting admin approval._\n\n---\n\n"
	draftPreviewLen   = 1000
	listQuestionLen   = 100
)

func qaHeader(lang models.Language) string {
	return fmt.Sprintf("# Accepted Q&A (%s)\n\n_This file contains accepted Q&A pairs from user interactions._\n\n---\n\n", language.Name(lang))
}

func suggestionEntry(f models.FeatureSuggestion) string {
	return fmt.Sprintf("## %s: %s\n\n**Submitted by:** %s\n**Date:** %s\n**Language:** %s\n\n%s\n\n---\n\n",
		f.ID, f.Title, f.UserEmail, f.CreatedAt.Format("2006-01-02"), strings.ToUpper(string(f.Language)), f.Description)
}

func draftEntry(d models.DraftUpdate) string {
	description := d.Description
	if strings.TrimSpace(description) == "" {
		description = "No description provided."
	}
	content := d.Content
	if r := []rune(content); len(r) > draftPreviewLen {
		content = string(r[:draftPreviewLen]) + "..."
	}
	return fmt.Sprintf("## %s: %s\n\n**Status:** %s\n**Submitted by:** %s\n**Date:** %s\n**Language:** %s\n\n### Description\n%s\n\n### Content\n```\n%s\n```\n\n---\n\n",
		d.ID, d.TargetSection, strings.ToUpper(d.Status.String()), d.UserEmail,
		d.CreatedAt.Format("2006-01-02"), strings.ToUpper(string(d.Language)), description, content)
}

// AcceptedQAEntry is an accepted Q&A pair read back from its markdown file.
type AcceptedQAEntry struct {
	ID         string          `json:"id"`
	Question   string          `json:"question"`
	Answer     string          `json:"answer,omitempty"`
	AcceptedOn string          `json:"accepted_on"`
	Language   models.Language `json:"language"`
	FilePath   string          `json:"file_path,omitempty"`
}

var qaEntryPattern = regexp.MustCompile(`(?s)### ([^\n]*)\n<!-- QA_ID: (QA-[A-F0-9]+) -->\n\n(.*?)\n\n_ID: QA-[A-F0-9]+ \| Accepted on (\d{4}-\d{2}-\d{2})_`)

// parseAcceptedQA returns the entries of an accepted Q&A file in file order.
func parseAcceptedQA(content string, lang models.Language) []AcceptedQAEntry {
	matches := qaEntryPattern.FindAllStringSubmatch(content, -1)
	out := make([]AcceptedQAEntry, 0, len(matches))
	for _, m := range matches {
		out = append(out, AcceptedQAEntry{
			ID:         m[2],
			Question:   strings.TrimSpace(m[1]),
			Answer:     strings.TrimSpace(m[3]),
			AcceptedOn: m[4],
			Language:   lang,
		})
	}
	return out
}
