// Package urllist parses the newline-delimited URL input file consumed by
// the scheduler.
package urllist

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Load reads one URL per line from r. Lines are trimmed; empty lines are
// ignored. Every remaining line must start with "http://" or "https://" —
// URLs are used verbatim, with no further normalisation.
func Load(r io.Reader) ([]string, error) {
	var urls []string

	scanner := bufio.NewScanner(r)
	// URL list files can legitimately contain very long lines (tracking
	// parameters etc.); grow the buffer well past bufio's 64KiB default.
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "http://") && !strings.HasPrefix(line, "https://") {
			return nil, fmt.Errorf("urllist: line %d: %q must start with http:// or https://", lineNo, line)
		}
		urls = append(urls, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("urllist: read failed: %w", err)
	}

	return urls, nil
}
