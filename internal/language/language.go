// Package language resolves documentation languages: parsing user input,
// keyword based detection, per-user preferences and language specific paths
// inside the knowledge base.
package language

import (
	"path/filepath"
	"strings"
	"sync"
	"unicode"

	"go.uber.org/zap"

	"github.com/zskreisz01/RepeatNoMore-sub000/internal/models"
)

// Default is used when nothing better is known.
const Default = models.LangEN

// Supported lists the languages with documentation folders.
var Supported = []models.Language{models.LangEN, models.LangHU}

var hungarianMarkers = wordSet(
	"a", "az", "és", "hogy", "nem", "van", "egy", "ez", "mi", "te",
	"ő", "én", "volt", "lesz", "lett", "csak", "már", "még", "is",
	"ha", "de", "vagy", "mert", "aki", "ami", "mint", "után", "előtt",
	"alatt", "fölött", "között", "mellett", "hogyan", "miért", "mikor",
	"hol", "honnan", "hová", "melyik", "mennyi", "milyen",
	"kell", "lehet", "tud", "akar", "kér", "szeretne", "segít",
)

var englishMarkers = wordSet(
	"the", "a", "an", "is", "are", "was", "were", "be", "been", "being",
	"have", "has", "had", "do", "does", "did", "will", "would", "could",
	"should", "may", "might", "must", "can", "shall", "and", "or", "but",
	"if", "then", "else", "when", "where", "why", "how", "what", "which",
	"who", "whom", "this", "that", "these", "those", "i", "you", "he",
	"she", "it", "we", "they", "my", "your", "his", "her", "its", "our",
)

func wordSet(words ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

// Parse accepts codes and common names ("en", "English", "magyar", ...).
func Parse(s string) (models.Language, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "en", "english", "eng":
		return models.LangEN, true
	case "hu", "hungarian", "magyar", "hun":
		return models.LangHU, true
	}
	return "", false
}

func IsSupported(lang models.Language) bool {
	for _, l := range Supported {
		if l == lang {
			return true
		}
	}
	return false
}

// Name returns the display name of lang.
func Name(lang models.Language) string {
	switch lang {
	case models.LangEN:
		return "English"
	case models.LangHU:
		return "Hungarian"
	}
	return string(lang)
}

// Detect guesses the language of text from marker words. Hungarian wins when
// more than 5% of the distinct words are Hungarian markers and they outnumber
// the English ones; everything else is English.
func Detect(text string) models.Language {
	words := tokenize(text)
	if len(words) == 0 {
		return Default
	}
	var hu, en int
	for w := range words {
		if _, ok := hungarianMarkers[w]; ok {
			hu++
		}
		if _, ok := englishMarkers[w]; ok {
			en++
		}
	}
	total := float64(len(words))
	huRatio, enRatio := float64(hu)/total, float64(en)/total
	if huRatio > 0.05 && huRatio > enRatio {
		return models.LangHU
	}
	return models.LangEN
}

func tokenize(text string) map[string]struct{} {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
	words := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		words[f] = struct{}{}
	}
	return words
}

// Service holds per-user language preferences and knowledge base paths.
// Preferences live in memory only.
type Service struct {
	kbPath   string
	docsPath string

	mu    sync.RWMutex
	prefs map[string]models.Language

	logger *zap.Logger
}

// NewService creates a service for the knowledge base at kbPath whose
// documentation tree is docsPath.
func NewService(kbPath, docsPath string, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		kbPath:   kbPath,
		docsPath: docsPath,
		prefs:    make(map[string]models.Language),
		logger:   logger.Named("language"),
	}
}

func (s *Service) KnowledgeBasePath() string { return s.kbPath }
func (s *Service) DocsRoot() string          { return s.docsPath }

// DocsPath is the documentation folder for lang.
func (s *Service) DocsPath(lang models.Language) string {
	return filepath.Join(s.docsPath, string(lang))
}

func (s *Service) QAFilePath(lang models.Language) string {
	return filepath.Join(s.kbPath, "qa", "accepted_qa_"+string(lang)+".md")
}

func (s *Service) SuggestionsFilePath() string {
	return filepath.Join(s.kbPath, "suggestions", "suggested_features.md")
}

func (s *Service) DraftsFilePath() string {
	return filepath.Join(s.kbPath, "drafts", "draft_updates.md")
}

func (s *Service) SetPreference(user string, lang models.Language) {
	s.mu.Lock()
	s.prefs[strings.ToLower(user)] = lang
	s.mu.Unlock()
	s.logger.Info("language preference set", zap.String("user", user), zap.String("language", string(lang)))
}

// Preference returns the user's language, or Default when none was set.
func (s *Service) Preference(user string) models.Language {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if lang, ok := s.prefs[strings.ToLower(user)]; ok {
		return lang
	}
	return Default
}

func (s *Service) ClearPreference(user string) {
	s.mu.Lock()
	delete(s.prefs, strings.ToLower(user))
	s.mu.Unlock()
}

// Resolve picks the language for a request: an explicit, parseable value
// first, then the user's preference.
func (s *Service) Resolve(explicit, user string) models.Language {
	if lang, ok := Parse(explicit); ok {
		return lang
	}
	return s.Preference(user)
}
