package handlers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unicode"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/zskreisz01/RepeatNoMore-sub000/internal/events"
)

// Paths containing these fragments never appear in the site navigation.
var navExcluded = []string{"drafts/", "qa/accepted_qa", "suggestions/"}

// Navigation keeps the nav section of mkdocs.yml in step with the docs tree.
// The file is edited through yaml.Node so keys, ordering, comments and custom
// tags it does not touch are preserved.
type Navigation struct {
	mu         sync.Mutex
	docsRoot   string
	mkdocsPath string
	logger     *zap.Logger
}

// NewNavigation edits <docsRoot>/mkdocs.yml; nav paths are relative to
// docsRoot.
func NewNavigation(docsRoot string, logger *zap.Logger) *Navigation {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Navigation{
		docsRoot:   docsRoot,
		mkdocsPath: filepath.Join(docsRoot, "mkdocs.yml"),
		logger:     logger.Named("navigation"),
	}
}

func (n *Navigation) Name() string { return "navigation" }

// MkDocsPath is the config file this handler maintains.
func (n *Navigation) MkDocsPath() string { return n.mkdocsPath }

func (n *Navigation) Handle(ctx context.Context, e events.Event) error {
	if e.FilePath == "" {
		return events.ErrSkipped
	}
	slashed := filepath.ToSlash(e.FilePath)
	for _, frag := range navExcluded {
		if strings.Contains(slashed, frag) {
			return events.ErrSkipped
		}
	}

	var add bool
	switch e.Type {
	case events.DocCreated, events.DraftApproved, events.QuestionAnswered:
		add = true
	case events.DocDeleted:
	default:
		return events.ErrSkipped
	}

	rel, ok := n.relative(e.FilePath)
	if !ok {
		return fmt.Errorf("%w: %s is outside the docs tree", events.ErrSkipped, e.FilePath)
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	data, err := os.ReadFile(n.mkdocsPath)
	if errors.Is(err, os.ErrNotExist) {
		n.logger.Warn("mkdocs config not found", zap.String("path", n.mkdocsPath))
		return events.ErrSkipped
	}
	if err != nil {
		return fmt.Errorf("read mkdocs config: %w", err)
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse mkdocs config: %w", err)
	}
	nav := navNode(&doc)
	if nav == nil || len(nav.Content) == 0 {
		n.logger.Debug("mkdocs config has no nav")
		return events.ErrSkipped
	}

	var changed bool
	if add {
		changed = addToNav(nav, rel, navTitle(e, rel), e.Meta("nav_section"))
	} else {
		changed = removeFromNav(nav, rel)
	}
	if !changed {
		return nil
	}

	out, err := encodeYAML(&doc)
	if err != nil {
		return fmt.Errorf("encode mkdocs config: %w", err)
	}
	if err := os.WriteFile(n.mkdocsPath, out, 0o644); err != nil {
		return fmt.Errorf("write mkdocs config: %w", err)
	}
	n.logger.Info("navigation updated", zap.String("path", rel), zap.String("event_type", e.Type.String()))
	return nil
}

func (n *Navigation) relative(path string) (string, bool) {
	root, clean := filepath.Clean(n.docsRoot), filepath.Clean(path)
	if filepath.IsAbs(clean) == filepath.IsAbs(root) {
		if rel, err := filepath.Rel(root, clean); err == nil && !escapes(rel) {
			return filepath.ToSlash(rel), true
		}
	}
	if filepath.IsAbs(clean) || escapes(clean) {
		return "", false
	}
	// already relative to the docs tree
	return filepath.ToSlash(clean), true
}

func escapes(rel string) bool {
	return rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func navTitle(e events.Event, rel string) string {
	if title := e.Meta("title"); title != "" {
		return title
	}
	stem := strings.TrimSuffix(filepath.Base(rel), filepath.Ext(rel))
	return titleCase(strings.ReplaceAll(stem, "_", " "))
}

// titleCase upper-cases the first letter of every run of letters and
// lower-cases the rest.
func titleCase(s string) string {
	out := []rune(s)
	inWord := false
	for i, r := range out {
		if unicode.IsLetter(r) {
			if inWord {
				out[i] = unicode.ToLower(r)
			} else {
				out[i] = unicode.ToUpper(r)
			}
			inWord = true
		} else {
			inWord = false
		}
	}
	return string(out)
}

// navNode returns the sequence under the top-level nav key, or nil.
func navNode(doc *yaml.Node) *yaml.Node {
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(root.Content); i += 2 {
		if root.Content[i].Value == "nav" && root.Content[i+1].Kind == yaml.SequenceNode {
			return root.Content[i+1]
		}
	}
	return nil
}

func addToNav(nav *yaml.Node, path, title, section string) bool {
	if inNav(nav, path) {
		return false
	}
	entry := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map", Content: []*yaml.Node{
		{Kind: yaml.ScalarNode, Tag: "!!str", Value: title},
		{Kind: yaml.ScalarNode, Tag: "!!str", Value: path},
	}}
	if section != "" {
		for _, item := range nav.Content {
			if item.Kind != yaml.MappingNode || len(item.Content) < 2 {
				continue
			}
			key, value := item.Content[0], item.Content[1]
			if strings.EqualFold(key.Value, section) && value.Kind == yaml.SequenceNode {
				value.Content = append(value.Content, entry)
				return true
			}
		}
	}
	nav.Content = append(nav.Content, entry)
	return true
}

// inNav reports whether path appears anywhere in the nav tree, either as a
// bare entry or as the value of a titled one.
func inNav(node *yaml.Node, path string) bool {
	switch node.Kind {
	case yaml.ScalarNode:
		return node.Value == path
	case yaml.SequenceNode:
		for _, child := range node.Content {
			if inNav(child, path) {
				return true
			}
		}
	case yaml.MappingNode:
		for i := 1; i < len(node.Content); i += 2 {
			if inNav(node.Content[i], path) {
				return true
			}
		}
	}
	return false
}

// removeFromNav drops every entry pointing at path.
func removeFromNav(seq *yaml.Node, path string) bool {
	removed := false
	kept := seq.Content[:0]
	for _, item := range seq.Content {
		if pointsAt(item, path) {
			removed = true
			continue
		}
		if item.Kind == yaml.MappingNode {
			for i := 1; i < len(item.Content); i += 2 {
				if item.Content[i].Kind == yaml.SequenceNode && removeFromNav(item.Content[i], path) {
					removed = true
				}
			}
		}
		kept = append(kept, item)
	}
	seq.Content = kept
	return removed
}

func pointsAt(item *yaml.Node, path string) bool {
	if item.Kind == yaml.ScalarNode {
		return item.Value == path
	}
	return item.Kind == yaml.MappingNode && len(item.Content) == 2 &&
		item.Content[1].Kind == yaml.ScalarNode && item.Content[1].Value == path
}

func encodeYAML(doc *yaml.Node) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
