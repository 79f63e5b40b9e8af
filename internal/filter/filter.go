// Package filter implements input normalization and the Output Filter
// (spec.md §4.3 / C3): line-continuation joining before submission, and
// compact/full post-processing with a token-budget spill-to-file path,
// grounded on the teacher's display package for line-oriented text
// transforms and pulse/budget for the cap/threshold idiom.
package filter

import (
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/mr-tron/base58"

	"github.com/teranos/stata-bridge/internal/apperrors"
)

// continuationToken is the Engine's explicit line-continuation marker,
// a trailing " ///" per the original interpreter's syntax.
const continuationToken = " ///"

// JoinContinuations folds lines ending in continuationToken into the
// following line, so the Engine sees one logical statement per line
// (spec.md §4.3 "line-continuation join").
func JoinContinuations(code string) string {
	lines := splitLines(code)
	var out []string
	var pending string
	for _, line := range lines {
		trimmed := strings.TrimRight(line, "\r")
		if strings.HasSuffix(trimmed, continuationToken) {
			pending += strings.TrimSuffix(trimmed, continuationToken) + " "
			continue
		}
		out = append(out, pending+trimmed)
		pending = ""
	}
	if pending != "" {
		out = append(out, pending)
	}
	return strings.Join(out, "\n")
}

func splitLines(s string) []string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.Split(s, "\n")
}

// Mode selects between compact and full output filtering.
type Mode string

const (
	ModeCompact Mode = "compact"
	ModeFull    Mode = "full"
)

var (
	numberedLineRe = regexp.MustCompile(`^(\s*)(\d+)\.\s?(.*)$`)
	cosmeticNoteRe = regexp.MustCompile(`^\s*\(\d+ (real changes made|missing values generated)(, \d+ to missing)?\)\s*$`)
	programDefRe   = regexp.MustCompile(`^\s*(program( define)?|python|mata)\b`)
	programEndRe   = regexp.MustCompile(`^\s*(end|python end|mata end)\s*$`)
)

// Apply runs compact-mode stripping or full-mode passthrough, normalizing
// CRLF to LF in either case (spec.md §4.3).
func Apply(raw string, mode Mode) string {
	normalized := strings.ReplaceAll(raw, "\r\n", "\n")
	if mode == ModeFull {
		return normalized
	}
	return compact(normalized)
}

// compact drops command echoes, loop-body echoes (keeping values produced
// inside), program/inline-language block bodies, cosmetic notes, and
// orphaned numbered lines with no content.
func compact(text string) string {
	lines := strings.Split(text, "\n")
	var out []string

	inBlockDef := false
	loopDepth := 0

	for _, line := range lines {
		switch {
		case programDefRe.MatchString(line):
			inBlockDef = true
			continue
		case inBlockDef && programEndRe.MatchString(line):
			inBlockDef = false
			continue
		case inBlockDef:
			continue
		}

		if cosmeticNoteRe.MatchString(line) {
			continue
		}

		if m := numberedLineRe.FindStringSubmatch(line); m != nil {
			indent, content := m[1], m[3]
			depth := len(indent)
			if content == "" {
				continue // orphaned numbered line
			}
			// Nested loop bodies are numbered-line echoes of the command
			// itself (e.g. "1. foreach x ..."); increasing indent signals
			// we've entered another nesting level, whose echo we also drop.
			if isLoopHeader(content) {
				loopDepth = depth + 1
				continue
			}
			if loopDepth > 0 && depth >= loopDepth {
				continue
			}
			out = append(out, content)
			continue
		}

		loopDepth = 0
		if isCommandEcho(line) {
			continue
		}
		out = append(out, line)
	}

	return strings.Join(out, "\n")
}

var loopHeaderRe = regexp.MustCompile(`^\s*(foreach|forvalues|while)\b`)

func isLoopHeader(line string) bool {
	return loopHeaderRe.MatchString(line)
}

// isCommandEcho recognizes a bare echoed command line: interactive Stata
// prefixes every typed command with "." in non-compact logs.
func isCommandEcho(line string) bool {
	return strings.HasPrefix(strings.TrimLeft(line, " "), ". ")
}

// Spill writes text to a uniquely named file in dir when it exceeds
// maxTokens (0 = unlimited; a token is approximated as 4 bytes, per
// spec.md §4.3), returning the spill path or "" if under budget.
func Spill(text string, maxTokens int, dir string) (path string, err error) {
	if maxTokens <= 0 {
		return "", nil
	}
	approxTokens := len(text) / 4
	if approxTokens <= maxTokens {
		return "", nil
	}

	suffix, err := spillSuffix()
	if err != nil {
		return "", apperrors.Internal(err)
	}
	name := fmt.Sprintf("output-%s.txt", suffix)
	full := filepath.Join(dir, name)

	if err := os.WriteFile(full, []byte(text), 0o644); err != nil {
		return "", apperrors.Internal(fmt.Errorf("write spill file: %w", err))
	}
	return full, nil
}

// spillSuffix base58-encodes a random 8-byte id so spill filenames are
// unique, short, and free of characters that need shell-quoting.
func spillSuffix() (string, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	return base58.Encode(buf[:]), nil
}

// TruncationMarker builds the response fragment spec.md §4.3 describes when a
// spill occurred: the filter's caller decides whether to surface this as
// a suffix marker or a structured field.
func TruncationMarker(path string, totalBytes int) string {
	return "[output truncated; full text written to " + path + " (" + strconv.Itoa(totalBytes) + " bytes)]"
}
