package search

import (
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/Aman-CERP/amanrag/internal/ingest"
)

// fileTypeTerm maps a word in the question to the extensions it selects.
type fileTypeTerm struct {
	pattern *regexp.Regexp
	exts    []string
}

// Compiled at package init.
var fileTypeVocabulary = []fileTypeTerm{
	{regexp.MustCompile(`(?i)\b(audio|recordings?)\b`), ingest.AudioExts},
	{regexp.MustCompile(`(?i)\bpdfs?\b`), []string{".pdf"}},
	{regexp.MustCompile(`(?i)\bdocuments?\b`), []string{".pdf", ".docx", ".txt"}},
	{regexp.MustCompile(`(?i)\btexts?\b`), []string{".txt"}},
	{regexp.MustCompile(`(?i)\bword\b`), []string{".docx"}},
}

// mentionedFiles returns the available files whose filename or stem occurs
// in question, ignoring case.
func mentionedFiles(question string, available []string) []string {
	q := strings.ToLower(question)
	var out []string
	for _, name := range available {
		lower := strings.ToLower(name)
		stem := strings.TrimSuffix(lower, filepath.Ext(lower))
		if strings.Contains(q, lower) || (stem != "" && strings.Contains(q, stem)) {
			out = append(out, name)
		}
	}
	return out
}

// filesByType returns the available files whose extension is selected by a
// file-type word in question.
func filesByType(question string, available []string) []string {
	var exts []string
	for _, term := range fileTypeVocabulary {
		if term.pattern.MatchString(question) {
			exts = append(exts, term.exts...)
		}
	}
	if len(exts) == 0 {
		return nil
	}

	var out []string
	for _, name := range available {
		if slices.Contains(exts, strings.ToLower(filepath.Ext(name))) {
			out = append(out, name)
		}
	}
	return out
}
