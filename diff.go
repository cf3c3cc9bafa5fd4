package main

import (
	"fmt"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

const diffContextLines = 3

// buildUnifiedDiff renders a line diff of oldContent against newContent.
func buildUnifiedDiff(oldName, newName, oldContent, newContent string) string {
	if oldContent == newContent {
		return fmt.Sprintf("--- %s\n+++ %s\n(no differences)\n", oldName, newName)
	}
	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(ensureTrailingNewline(oldContent)),
		B:        difflib.SplitLines(ensureTrailingNewline(newContent)),
		FromFile: oldName,
		ToFile:   newName,
		Context:  diffContextLines,
	}
	text, err := difflib.GetUnifiedDiffString(diff)
	if err != nil {
		return fmt.Sprintf("--- %s\n+++ %s\n(diff failed: %v)\n", oldName, newName, err)
	}
	if text == "" {
		return fmt.Sprintf("--- %s\n+++ %s\n(no line differences)\n", oldName, newName)
	}
	return text
}

func ensureTrailingNewline(s string) string {
	if strings.HasSuffix(s, "\n") {
		return s
	}
	return s + "\n"
}

// diffLineCounts reports how many lines were added and removed.
func diffLineCounts(diff string) (added, removed int) {
	for _, line := range strings.Split(diff, "\n") {
		switch {
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
		case strings.HasPrefix(line, "+"):
			added++
		case strings.HasPrefix(line, "-"):
			removed++
		}
	}
	return added, removed
}
