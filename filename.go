package main

import (
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const maxFilenameRunes = 120

// SanitizeFilename maps a recipient name to a portable file stem. Accents are
// folded away, every other rune outside [A-Za-z0-9._()-] becomes '_'.
func SanitizeFilename(name string) string {
	folded, _, err := transform.String(transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), name)
	if err != nil {
		folded = name
	}

	var sb strings.Builder
	lastUnderscore := false
	for _, r := range folded {
		if !isFilenameRune(r) {
			r = '_'
		}
		if r == '_' {
			if lastUnderscore {
				continue
			}
			lastUnderscore = true
		} else {
			lastUnderscore = false
		}
		sb.WriteRune(r)
	}

	safe := strings.Trim(sb.String(), "_. ")
	if r := []rune(safe); len(r) > maxFilenameRunes {
		safe = strings.TrimRight(string(r[:maxFilenameRunes]), "_. ")
	}
	if safe == "" {
		safe = "recipient"
	}
	return safe
}

func isFilenameRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '.', r == '-', r == '(', r == ')':
		return true
	}
	return false
}

// FileNamer hands out one stem per recipient for a single run. Stems are
// compared case-insensitively; a taken stem gets the roster row appended.
type FileNamer struct {
	used map[string]struct{}
}

func NewFileNamer() *FileNamer {
	return &FileNamer{used: make(map[string]struct{})}
}

func (n *FileNamer) Name(r Recipient) string {
	stem := SanitizeFilename(r.Name)
	if n.claim(stem) {
		return stem
	}

	candidate := stem + "-" + strconv.Itoa(r.Row)
	for i := 2; !n.claim(candidate); i++ {
		candidate = stem + "-" + strconv.Itoa(r.Row) + "-" + strconv.Itoa(i)
	}
	return candidate
}

func (n *FileNamer) claim(stem string) bool {
	key := strings.ToLower(stem)
	if _, ok := n.used[key]; ok {
		return false
	}
	n.used[key] = struct{}{}
	return true
}
