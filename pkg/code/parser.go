// Package code provides source-file language detection shared by the
// grammar scan command and the file watcher. It does not itself parse
// source — recurrence analysis lives in pkg/analyzer.
package code

import (
	"bufio"
	"bytes"
	"path/filepath"
	"strings"
)

// DetectLanguage determines the language for a file using multiple heuristics:
// 1. File extension (fastest, covers ~95% of cases)
// 2. Known filenames (Makefile, Jenkinsfile, etc.)
// 3. Shebang line (for extensionless scripts, requires content)
func DetectLanguage(filePath string, content []byte) string {
	ext := strings.ToLower(filepath.Ext(filePath))
	if lang, ok := LangExtensions[ext]; ok {
		return lang
	}

	base := filepath.Base(filePath)
	if lang, ok := LangFilenames[base]; ok {
		return lang
	}

	if len(content) > 0 {
		return detectShebang(content)
	}

	return ""
}

// detectShebang parses the first line of content for a shebang interpreter.
func detectShebang(content []byte) string {
	scanner := bufio.NewScanner(bytes.NewReader(content))
	if !scanner.Scan() {
		return ""
	}
	line := scanner.Text()

	if !strings.HasPrefix(line, "#!") {
		return ""
	}

	// Parse "#!/usr/bin/env python3" or "#!/usr/bin/python3"
	shebang := strings.TrimPrefix(line, "#!")
	shebang = strings.TrimSpace(shebang)

	parts := strings.Fields(shebang)
	if len(parts) == 0 {
		return ""
	}

	// If using /usr/bin/env, the interpreter is the next argument.
	interpreter := filepath.Base(parts[0])
	if interpreter == "env" && len(parts) > 1 {
		interpreter = filepath.Base(parts[1])
	}

	if lang, ok := ShebangLangs[interpreter]; ok {
		return lang
	}
	// Try stripping trailing digits (python3 -> python).
	stripped := strings.TrimRight(interpreter, "0123456789.")
	if lang, ok := ShebangLangs[stripped]; ok {
		return lang
	}

	return ""
}

// SupportedExtension returns true if the file extension is recognised.
func SupportedExtension(ext string) bool {
	_, ok := LangExtensions[strings.ToLower(ext)]
	return ok
}

// SupportedFile returns true if the file is recognised (by extension or filename).
func SupportedFile(filePath string) bool {
	ext := strings.ToLower(filepath.Ext(filePath))
	if _, ok := LangExtensions[ext]; ok {
		return true
	}
	base := filepath.Base(filePath)
	_, ok := LangFilenames[base]
	return ok
}

// GetLanguageForFile returns the language for a file path, or empty string if unrecognised.
func GetLanguageForFile(filePath string) string {
	return DetectLanguage(filePath, nil)
}
