package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Addr        string
	CORSOrigin  string
	Environment string
	LogLevel    string

	// Knowledge base layout. The knowledge base root is the git working tree;
	// DocsPath holds per-language folders and mkdocs.yml.
	KnowledgeBasePath string
	DocsPath          string
	DataDir           string
	// Postgres entity store; file store is used when empty.
	DatabaseURL string

	AdminEmails           []string
	DiscordAdminUsernames []string

	// Git
	GitEnabled       bool
	GitBranch        string
	GitRemoteName    string
	GitSSHKeyPath    string
	GitHTTPToken     string
	GitAuthorName    string
	GitAuthorEmail   string
	GitActionLogPath string
	GitAutoSyncCron  string
	GitLabURL        string
	GitLabToken      string
	GitLabProject    string

	// Search
	MeiliURL         string
	MeiliMasterKey   string
	MeiliIndex       string
	ReindexOnStartup bool

	// Notifications
	RedisURL          string
	DiscordWebhookURL string
	TeamsWebhookURL   string
	SMTPHost          string
	SMTPPort          string
	SMTPUsername      string
	SMTPPassword      string
	SMTPFrom          string
	SMTPFromName      string
	NotifyEmailTo     []string

	HandlerTimeout time.Duration
	WatchDocs      bool
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present; real environment variables win.
func Load() Config {
	_ = godotenv.Load()

	kbPath := getenv("KNOWLEDGE_BASE_PATH", "./knowledge_base")
	return Config{
		Addr:        getenv("API_ADDR", ":8080"),
		CORSOrigin:  getenv("CORS_ORIGIN", "*"),
		Environment: getenv("ENVIRONMENT", "development"),
		LogLevel:    getenv("LOG_LEVEL", "info"),

		KnowledgeBasePath: kbPath,
		DocsPath:          getenv("DOCS_PATH", filepath.Join(kbPath, "docs")),
		DataDir:           getenv("DATA_DIR", "./data/storage"),
		DatabaseURL:       getenv("DATABASE_URL", ""),

		AdminEmails:           getenvList("ADMIN_EMAILS", []string{"admin@example.com"}),
		DiscordAdminUsernames: getenvList("DISCORD_ADMIN_USERNAMES", nil),

		GitEnabled:       getenvBool("DOCS_GIT_ENABLED", false),
		GitBranch:        getenv("DOCS_GIT_BRANCH", "main"),
		GitRemoteName:    getenv("GIT_REMOTE_NAME", "origin"),
		GitSSHKeyPath:    getenv("GIT_SSH_KEY_PATH", ""),
		GitHTTPToken:     getenv("GIT_HTTP_TOKEN", ""),
		GitAuthorName:    getenv("GIT_AUTHOR_NAME", "RepeatNoMore"),
		GitAuthorEmail:   getenv("GIT_AUTHOR_EMAIL", "bot@repeatnomore.local"),
		GitActionLogPath: getenv("GIT_ACTION_LOG_PATH", "./logs/git_actions.log"),
		GitAutoSyncCron:  getenv("GIT_AUTO_SYNC_CRON", ""),
		GitLabURL:        getenv("GITLAB_URL", "https://gitlab.com/api/v4"),
		GitLabToken:      getenv("GITLAB_TOKEN", ""),
		GitLabProject:    getenv("GITLAB_PROJECT", ""),

		MeiliURL:         getenv("MEILI_URL", ""),
		MeiliMasterKey:   getenv("MEILI_MASTER_KEY", ""),
		MeiliIndex:       getenv("MEILI_INDEX", "repeatnomore_docs"),
		ReindexOnStartup: getenvBool("REINDEX_ON_STARTUP", true),

		RedisURL:          getenv("REDIS_URL", ""),
		DiscordWebhookURL: getenv("DISCORD_WEBHOOK_URL", ""),
		TeamsWebhookURL:   getenv("TEAMS_WEBHOOK_URL", ""),
		// SMTP - empty by default, email disabled if not configured
		SMTPHost:      getenv("SMTP_HOST", ""),
		SMTPPort:      getenv("SMTP_PORT", "587"),
		SMTPUsername:  getenv("SMTP_USERNAME", ""),
		SMTPPassword:  getenv("SMTP_PASSWORD", ""),
		SMTPFrom:      getenv("SMTP_FROM", ""),
		SMTPFromName:  getenv("SMTP_FROM_NAME", "RepeatNoMore"),
		NotifyEmailTo: getenvList("NOTIFY_EMAIL_TO", nil),

		HandlerTimeout: time.Duration(getenvInt("HANDLER_TIMEOUT_SECONDS", 30)) * time.Second,
		WatchDocs:      getenvBool("WATCH_DOCS", false),
	}
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

// getenvList splits a comma separated value, dropping blanks.
func getenvList(key string, fallback []string) []string {
	value := os.Getenv(key)
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
