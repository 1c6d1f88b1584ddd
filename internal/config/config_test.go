package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("KNOWLEDGE_BASE_PATH", "/srv/kb")
	t.Setenv("DOCS_PATH", "")
	t.Setenv("ADMIN_EMAILS", "")

	cfg := Load()
	assert.Equal(t, "/srv/kb", cfg.KnowledgeBasePath)
	assert.Equal(t, filepath.Join("/srv/kb", "docs"), cfg.DocsPath)
	assert.Equal(t, []string{"admin@example.com"}, cfg.AdminEmails)
	assert.Equal(t, 30*time.Second, cfg.HandlerTimeout)
	assert.Equal(t, "main", cfg.GitBranch)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("ADMIN_EMAILS", " a@x.io, ,b@x.io ")
	t.Setenv("DOCS_GIT_ENABLED", "true")
	t.Setenv("HANDLER_TIMEOUT_SECONDS", "5")
	t.Setenv("REINDEX_ON_STARTUP", "not-a-bool")

	cfg := Load()
	assert.Equal(t, []string{"a@x.io", "b@x.io"}, cfg.AdminEmails)
	assert.True(t, cfg.GitEnabled)
	assert.Equal(t, 5*time.Second, cfg.HandlerTimeout)
	assert.True(t, cfg.ReindexOnStartup, "invalid bool falls back to default")
}
