package proxy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sqlwarden/sqlwarden/internal/bayes"
	"github.com/sqlwarden/sqlwarden/internal/classify"
	"github.com/sqlwarden/sqlwarden/internal/sensitive"
	"github.com/sqlwarden/sqlwarden/internal/sqlparse"
	"github.com/sqlwarden/sqlwarden/internal/whitelist"
)

func analyzerWithWhitelists(t *testing.T, attackPrior float64, parseList, blockList string) *Analyzer {
	t.Helper()
	dir := t.TempDir()
	writeNetworks(t, dir, attackPrior)
	eval, err := bayes.Load(dir)
	if err != nil {
		t.Fatalf("bayes.Load: %v", err)
	}
	chk, err := sensitive.New(sensitive.Defaults())
	if err != nil {
		t.Fatal(err)
	}

	var parsePath, blockPath string
	if parseList != "" {
		parsePath = filepath.Join(dir, "parse.txt")
		if err := os.WriteFile(parsePath, []byte(parseList), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if blockList != "" {
		blockPath = filepath.Join(dir, "block.txt")
		if err := os.WriteFile(blockPath, []byte(blockList), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	wl, err := whitelist.New(parsePath, blockPath, chk)
	if err != nil {
		t.Fatalf("whitelist.New: %v", err)
	}
	return NewAnalyzer(classify.New(eval, 0, 0), wl, chk, nil)
}

func TestAnalyzeSafeQuery(t *testing.T) {
	a := testAnalyzer(t, 0.1)
	v := a.Analyze("SELECT * FROM items WHERE id = 5")
	if v.Dangerous {
		t.Error("benign query with low posteriors should forward")
	}
	if v.QueryType != sqlparse.TypeSelect {
		t.Errorf("queryType = %v, want SELECT", v.QueryType)
	}
}

func TestAnalyzeBlocksOnHighPosterior(t *testing.T) {
	a := testAnalyzer(t, 0.9)
	v := a.Analyze("SELECT * FROM items WHERE id = 5")
	if !v.Dangerous {
		t.Error("high posterior should block")
	}
}

func TestAnalyzeBlocksParseFailure(t *testing.T) {
	a := testAnalyzer(t, 0.1)
	v := a.Analyze("SELECT * FROM items; DROP TABLE items")
	if !v.Dangerous {
		t.Error("parse failure must block")
	}
	if v.QueryType != sqlparse.TypeSelect {
		t.Errorf("queryType = %v; the opening keyword still names the type", v.QueryType)
	}
}

func TestParseWhitelistForwards(t *testing.T) {
	bad := "SELECT * FROM items; DROP TABLE items"
	a := analyzerWithWhitelists(t, 0.1, bad+"\n", "")
	v := a.Analyze(bad)
	if v.Dangerous {
		t.Error("parse-whitelisted query must forward despite failing to parse")
	}
	if v.QueryType != sqlparse.TypeUnknown {
		t.Errorf("whitelisted queries carry no analysed type, got %v", v.QueryType)
	}
}

func TestBlockWhitelistForwards(t *testing.T) {
	risky := "SELECT * FROM users WHERE name = '' OR 1=1"
	a := analyzerWithWhitelists(t, 0.9, "", risky+"\n")
	v := a.Analyze(risky)
	if v.Dangerous {
		t.Error("block-whitelisted query must forward despite its posterior")
	}

	// A structurally different risky query still blocks.
	v = a.Analyze("SELECT * FROM users WHERE name = '' OR 1=1 AND 2=2")
	if !v.Dangerous {
		t.Error("non-whitelisted risky query should still block")
	}
}

func TestAnalyzerStats(t *testing.T) {
	a := testAnalyzer(t, 0.9)

	a.Analyze("SELECT * FROM items WHERE id = 5")        // blocked (posterior 0.9)
	a.Analyze("BEGIN")                                   // forwarded, nothing scored
	a.Analyze("SELECT * FROM items; DROP TABLE items")   // parse error

	s := a.Stats()
	if s.Analyzed != 3 {
		t.Errorf("analyzed = %d, want 3", s.Analyzed)
	}
	if s.Blocked != 2 || s.Forwarded != 1 {
		t.Errorf("blocked/forwarded = %d/%d, want 2/1", s.Blocked, s.Forwarded)
	}
	if s.ParseErrors != 1 {
		t.Errorf("parse errors = %d, want 1", s.ParseErrors)
	}
	if s.ByQueryType["SELECT"] != 1 || s.ByQueryType["TRANSACTION"] != 1 {
		t.Errorf("per-type counts = %v", s.ByQueryType)
	}
	// Every scored network posted 0.9, so each applicable attack counts one
	// block for the SELECT.
	if s.BlockedByAttack["data access"] != 1 || s.BlockedByAttack["denial of service"] != 1 {
		t.Errorf("per-attack counts = %v", s.BlockedByAttack)
	}
}

func TestFormatQuery(t *testing.T) {
	got := formatQuery("SELECT *\n\tFROM   t\nWHERE a = 1")
	want := "SELECT * FROM t WHERE a = 1"
	if got != want {
		t.Errorf("formatQuery = %q, want %q", got, want)
	}
}
