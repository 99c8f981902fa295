// Package whitelist holds the two exemption sets consulted before a block
// decision: queries allowed through even though they fail to parse, and
// queries allowed through even though their risk vector would block them.
// Both are keyed on the structural hash, so literal values do not matter.
package whitelist

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"

	"github.com/sqlwarden/sqlwarden/internal/sensitive"
	"github.com/sqlwarden/sqlwarden/internal/sqlparse"
)

// Whitelist is safe for concurrent readers; Reload swaps the sets under a
// write lock so the fsnotify watcher can refresh them in place.
type Whitelist struct {
	mu           sync.RWMutex
	parseFailSet map[sqlparse.QueryHash]struct{}
	blockSet     map[sqlparse.QueryHash][]*sqlparse.QueryRisk

	parseFailPath string
	blockPath     string
	checker       *sensitive.Checker
}

// New loads the whitelist files. Either path may be empty, leaving that set
// empty. A file that cannot be read or a block-whitelist line that cannot be
// parsed is a startup error.
func New(parseFailPath, blockPath string, checker *sensitive.Checker) (*Whitelist, error) {
	w := &Whitelist{
		parseFailPath: parseFailPath,
		blockPath:     blockPath,
		checker:       checker,
	}
	if err := w.Reload(); err != nil {
		return nil, err
	}
	return w, nil
}

// Reload re-reads both files and atomically replaces the in-memory sets.
func (w *Whitelist) Reload() error {
	parseFail := make(map[sqlparse.QueryHash]struct{})
	block := make(map[sqlparse.QueryHash][]*sqlparse.QueryRisk)

	if w.parseFailPath != "" {
		queries, err := readQueriesFile(w.parseFailPath)
		if err != nil {
			return err
		}
		for _, q := range queries {
			res := sqlparse.Analyze(q.text, w.checker)
			if res.OK() {
				log.Printf("[whitelist] %s:%d parsed successfully; entries there are expected to fail parsing",
					w.parseFailPath, q.line)
			}
			parseFail[res.Hash] = struct{}{}
		}
	}

	if w.blockPath != "" {
		queries, err := readQueriesFile(w.blockPath)
		if err != nil {
			return err
		}
		for _, q := range queries {
			res := sqlparse.Analyze(q.text, w.checker)
			if !res.OK() {
				return fmt.Errorf("%s:%d: whitelisted query does not parse: %w",
					w.blockPath, q.line, res.Err)
			}
			block[res.Hash] = append(block[res.Hash], res.Risk)
		}
	}

	w.mu.Lock()
	w.parseFailSet = parseFail
	w.blockSet = block
	w.mu.Unlock()
	return nil
}

// IsParseExempt reports whether a query that failed to parse should be
// forwarded anyway.
func (w *Whitelist) IsParseExempt(hash sqlparse.QueryHash) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	_, ok := w.parseFailSet[hash]
	return ok
}

// IsBlockExempt reports whether a query that would be blocked should be
// forwarded anyway. The risk vector must match an entry field by field, on
// top of the hash pair, so a collision with a different risk profile does
// not leak through.
func (w *Whitelist) IsBlockExempt(hash sqlparse.QueryHash, qr *sqlparse.QueryRisk) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	for _, candidate := range w.blockSet[hash] {
		if candidate.Equal(qr) {
			return true
		}
	}
	return false
}

// Sizes returns the entry counts, for the status endpoint.
func (w *Whitelist) Sizes() (parseFail, block int) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	total := 0
	for _, entries := range w.blockSet {
		total += len(entries)
	}
	return len(w.parseFailSet), total
}

type fileQuery struct {
	text string
	line int
}

// readQueriesFile reads a line-oriented whitelist file. Blank lines and
// lines starting with # are ignored; every other line is one complete query.
func readQueriesFile(path string) ([]fileQuery, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening whitelist file: %w", err)
	}
	defer f.Close()

	var out []fileQuery
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := scanner.Text()
		if strings.TrimSpace(text) == "" || strings.HasPrefix(text, "#") {
			continue
		}
		out = append(out, fileQuery{text: text, line: line})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading whitelist file %s: %w", path, err)
	}
	return out, nil
}
