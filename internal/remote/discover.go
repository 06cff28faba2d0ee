package remote

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"

	"logharvest/internal/sshclient"
)

// fieldDelimiter separates the four fields of a discovery line. Three
// consecutive pipes are vanishingly unlikely inside a filename.
const fieldDelimiter = "|||"

// FileMetadata describes one file found by remote discovery.
type FileMetadata struct {
	Size      int64
	ModTimeMs int64 // modification time in milliseconds since epoch
	Name      string
	Path      string
}

// ParseError reports a single malformed discovery line. Discovery is
// best-effort per line: a ParseError is logged and the line skipped, never
// failing the whole call.
type ParseError struct {
	Line   string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse discovery line %q: %s", e.Line, e.Reason)
}

// DiscoverFiles lists regular files under dir matching pattern, descending
// at most maxDepth levels. Each match is emitted by the remote find as
// size|||mtime|||name|||path. Malformed lines are logged and skipped.
func (e *Executor) DiscoverFiles(ctx context.Context, target sshclient.Target, dir, pattern string, maxDepth int) ([]FileMetadata, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("discover files: directory must not be blank")
	}
	if strings.TrimSpace(pattern) == "" {
		return nil, fmt.Errorf("discover files: pattern must not be blank")
	}
	if maxDepth < 1 {
		return nil, fmt.Errorf("discover files: max depth %d, must be >= 1", maxDepth)
	}

	cmd := fmt.Sprintf("find %s -maxdepth %d -type f -name %s -printf '%%s%s%%T@%s%%f%s%%p\\n'",
		shellQuote(dir), maxDepth, shellQuote(pattern), fieldDelimiter, fieldDelimiter, fieldDelimiter)

	out, err := e.ExecuteCommand(ctx, target, cmd)
	if err != nil {
		return nil, err
	}

	var metas []FileMetadata
	for _, line := range strings.Split(out, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		meta, err := parseDiscoveryLine(line)
		if err != nil {
			log.Printf("[remote] %v, skipping", err)
			continue
		}
		metas = append(metas, meta)
	}
	return metas, nil
}

// parseDiscoveryLine splits one find output line into its four fields.
func parseDiscoveryLine(line string) (FileMetadata, error) {
	fields := strings.Split(line, fieldDelimiter)
	if len(fields) < 4 {
		return FileMetadata{}, &ParseError{Line: line, Reason: fmt.Sprintf("%d fields, want 4", len(fields))}
	}

	size, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return FileMetadata{}, &ParseError{Line: line, Reason: fmt.Sprintf("bad size %q", fields[0])}
	}

	modTimeMs, err := parseEpochMillis(fields[1])
	if err != nil {
		return FileMetadata{}, &ParseError{Line: line, Reason: fmt.Sprintf("bad mtime %q", fields[1])}
	}

	return FileMetadata{
		Size:      size,
		ModTimeMs: modTimeMs,
		Name:      fields[2],
		Path:      fields[3],
	}, nil
}

// parseEpochMillis converts find's %T@ output ("seconds.fraction") to
// milliseconds. The fraction is truncated to millisecond precision rather
// than parsed as a float, which would round.
func parseEpochMillis(s string) (int64, error) {
	secPart, fracPart, _ := strings.Cut(s, ".")
	sec, err := strconv.ParseInt(secPart, 10, 64)
	if err != nil {
		return 0, err
	}

	if len(fracPart) > 3 {
		fracPart = fracPart[:3]
	}
	for len(fracPart) < 3 {
		fracPart += "0"
	}
	frac, err := strconv.ParseInt(fracPart, 10, 64)
	if err != nil {
		return 0, err
	}

	if sec < 0 {
		return sec*1000 - frac, nil
	}
	return sec*1000 + frac, nil
}
