package files

import (
	"fmt"
	"strings"
)

// ApplyUnifiedDiff applies a unified diff to content. Only the hunk
// bodies matter; file headers are ignored. Context lines must match or
// the patch is rejected.
func ApplyUnifiedDiff(content, diff string) (string, error) {
	lines := splitLines(content)
	var out []string
	cursor := 0 // next unconsumed index in lines

	diffLines := strings.Split(diff, "\n")
	i := 0
	applied := 0
	for i < len(diffLines) {
		line := diffLines[i]
		if !strings.HasPrefix(line, "@@") {
			i++
			continue
		}
		oldStart, err := parseHunkHeader(line)
		if err != nil {
			return "", err
		}
		// Hunk line numbers are 1-based.
		target := oldStart - 1
		if target < cursor {
			return "", fmt.Errorf("files: overlapping hunks at line %d", oldStart)
		}
		if target > len(lines) {
			return "", fmt.Errorf("files: hunk start %d beyond end of file", oldStart)
		}
		out = append(out, lines[cursor:target]...)
		cursor = target

		i++
		for i < len(diffLines) {
			hl := diffLines[i]
			if strings.HasPrefix(hl, "@@") {
				break
			}
			switch {
			case strings.HasPrefix(hl, " "):
				if cursor >= len(lines) || lines[cursor] != hl[1:] {
					return "", contextMismatch(cursor, hl[1:], lines)
				}
				out = append(out, lines[cursor])
				cursor++
			case strings.HasPrefix(hl, "-"):
				if cursor >= len(lines) || lines[cursor] != hl[1:] {
					return "", contextMismatch(cursor, hl[1:], lines)
				}
				cursor++
			case strings.HasPrefix(hl, "+"):
				out = append(out, hl[1:])
			case hl == "" || strings.HasPrefix(hl, "\\"):
				// trailing blank or "\ No newline" marker
			default:
				if strings.HasPrefix(hl, "---") || strings.HasPrefix(hl, "+++") {
					break
				}
				return "", fmt.Errorf("files: malformed hunk line %q", hl)
			}
			i++
		}
		applied++
	}
	if applied == 0 {
		return "", fmt.Errorf("files: diff contains no hunks")
	}
	out = append(out, lines[cursor:]...)
	return strings.Join(out, "\n"), nil
}

func contextMismatch(cursor int, want string, lines []string) error {
	got := "<eof>"
	if cursor < len(lines) {
		got = lines[cursor]
	}
	return fmt.Errorf("files: patch context mismatch at line %d: want %q, have %q", cursor+1, want, got)
}

// parseHunkHeader extracts the old-file start line from
// "@@ -l,c +l,c @@".
func parseHunkHeader(header string) (int, error) {
	fields := strings.Fields(header)
	if len(fields) < 3 || !strings.HasPrefix(fields[1], "-") {
		return 0, fmt.Errorf("files: malformed hunk header %q", header)
	}
	spec := strings.TrimPrefix(fields[1], "-")
	if idx := strings.Index(spec, ","); idx >= 0 {
		spec = spec[:idx]
	}
	var start int
	if _, err := fmt.Sscanf(spec, "%d", &start); err != nil {
		return 0, fmt.Errorf("files: malformed hunk header %q", header)
	}
	if start < 1 {
		start = 1
	}
	return start, nil
}

func splitLines(content string) []string {
	if content == "" {
		return nil
	}
	return strings.Split(content, "\n")
}
