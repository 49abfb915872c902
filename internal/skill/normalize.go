package skill

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Normalization helpers for skill names, tags, and content. Pure functions,
// shared by the CRUD path, the draft-acceptance generator, and the miners.

var (
	nameRegex     = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)
	whitespaceRun = regexp.MustCompile(`\s+`)
	invalidChars  = regexp.MustCompile(`[^a-z0-9-]`)
	hyphenRun     = regexp.MustCompile(`-{2,}`)
)

var ErrNameEmpty = errors.New("skill name is required")

// NormalizeName lowercases, turns whitespace and invalid characters into
// hyphens, collapses hyphen runs, and trims. The bool reports whether the
// input needed changing.
func NormalizeName(value string) (string, bool, error) {
	raw := strings.ToLower(strings.TrimSpace(value))
	raw = whitespaceRun.ReplaceAllString(raw, "-")
	raw = invalidChars.ReplaceAllString(raw, "-")
	raw = hyphenRun.ReplaceAllString(raw, "-")
	raw = strings.Trim(raw, "-")
	if raw == "" {
		return "", false, ErrNameEmpty
	}
	return raw, raw != value, nil
}

// EnsureName normalizes and then verifies the lowercase-hyphenated shape.
func EnsureName(value string) (string, bool, error) {
	name, normalized, err := NormalizeName(value)
	if err != nil {
		return "", false, err
	}
	if !nameRegex.MatchString(name) {
		return "", false, fmt.Errorf("skill name %q must use lowercase letters, numbers, and hyphens only", name)
	}
	return name, normalized, nil
}

// CleanTags trims, drops empties, and deduplicates preserving order.
func CleanTags(tags []string) []string {
	cleaned := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, item := range tags {
		tag := strings.TrimSpace(item)
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		cleaned = append(cleaned, tag)
		seen[tag] = struct{}{}
	}
	return cleaned
}

// UpsertFrontMatter inserts a front-matter block carrying name and
// description at the top of content, or repairs the name/description lines of
// an existing block. Other front-matter lines are preserved.
func UpsertFrontMatter(content, name, description string) string {
	stripped := strings.TrimLeft(content, " \t\r\n")
	if !strings.HasPrefix(stripped, "---") {
		return freshFrontMatter(name, description) + stripped
	}

	lines := strings.Split(stripped, "\n")
	endIndex := -1
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			endIndex = i
			break
		}
	}
	if endIndex == -1 {
		// Opening fence with no closing fence: treat as body.
		return freshFrontMatter(name, description) + stripped
	}

	fm := lines[1:endIndex]
	fm = replaceOrInsert(fm, "description", description)
	fm = replaceOrInsert(fm, "name", name)

	merged := append([]string{"---"}, fm...)
	merged = append(merged, "---")
	body := strings.TrimLeft(strings.Join(lines[endIndex+1:], "\n"), "\n")
	if body != "" {
		merged = append(merged, "", body)
	}
	return strings.Join(merged, "\n")
}

func freshFrontMatter(name, description string) string {
	return strings.Join([]string{
		"---",
		"name: " + name,
		"description: " + description,
		"---",
		"",
	}, "\n")
}

func replaceOrInsert(lines []string, key, value string) []string {
	entry := key + ": " + value
	for i, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), key+":") {
			lines[i] = entry
			return lines
		}
	}
	return append([]string{entry}, lines...)
}

// EnsureContent normalizes front matter and enforces the hard length cap.
// Oversized content is an error, never a silent truncation.
func EnsureContent(content, name, description string, maxLen int) (string, error) {
	updated := UpsertFrontMatter(strings.TrimSpace(content), name, description)
	if len(updated) > maxLen {
		return "", fmt.Errorf("skill content is %d chars, exceeds max length %d", len(updated), maxLen)
	}
	return updated, nil
}

// EnsureVisibility defaults to private.
func EnsureVisibility(v Visibility) Visibility {
	if v == "" {
		return VisibilityPrivate
	}
	return v
}
