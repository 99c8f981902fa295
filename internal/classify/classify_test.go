package classify

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sqlwarden/sqlwarden/internal/bayes"
	"github.com/sqlwarden/sqlwarden/internal/sensitive"
	"github.com/sqlwarden/sqlwarden/internal/sqlparse"
)

// Fixture networks: independent six-state nodes with a skewed prior on the
// target node, so every posterior equals the configured prior exactly and
// decisions are predictable.
var (
	fixtureNodeCounts = [bayes.NumAttackTypes]int{19, 15, 14, 24, 21, 7}
	fixtureTargets    = [bayes.NumAttackTypes]int{15, 1, 3, 10, 12, 4}
)

func writeNetworks(t *testing.T, dir string, attackPrior float64) {
	t.Helper()
	for attack := bayes.AttackType(0); attack < bayes.NumAttackTypes; attack++ {
		var b strings.Builder
		b.WriteString("net { }\n")
		nodes := fixtureNodeCounts[attack]
		target := fixtureTargets[attack]
		for i := 0; i < nodes; i++ {
			fmt.Fprintf(&b, "node N%d { states = ( \"s0\" \"s1\" \"s2\" \"s3\" \"s4\" \"s5\" ); }\n", i)
		}
		for i := 0; i < nodes; i++ {
			if i == target {
				rest := (1 - attackPrior) / 5
				fmt.Fprintf(&b, "potential ( N%d ) { data = ( %.6f %.6f %.6f %.6f %.6f %.6f ); }\n",
					i, attackPrior, rest, rest, rest, rest, rest)
			} else {
				fmt.Fprintf(&b, "potential ( N%d ) { data = ( %.6f %.6f %.6f %.6f %.6f %.6f ); }\n",
					i, 1.0/6, 1.0/6, 1.0/6, 1.0/6, 1.0/6, 1.0/6)
			}
		}
		path := filepath.Join(dir, attack.NetFileName())
		if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
			t.Fatalf("writing fixture network: %v", err)
		}
	}
}

func newFixtureClassifier(t *testing.T, attackPrior float64) (*Classifier, *bayes.Evaluator) {
	t.Helper()
	dir := t.TempDir()
	writeNetworks(t, dir, attackPrior)
	eval, err := bayes.Load(dir)
	if err != nil {
		t.Fatalf("bayes.Load: %v", err)
	}
	return New(eval, 0, 0), eval
}

func riskFor(t *testing.T, query string) *sqlparse.QueryRisk {
	t.Helper()
	chk, err := sensitive.New(sensitive.Defaults())
	if err != nil {
		t.Fatal(err)
	}
	res := sqlparse.Analyze(query, chk)
	if !res.OK() {
		t.Fatalf("query %q should parse: %v", query, res.Err)
	}
	return res.Risk
}

func TestAttackSelectionByQueryType(t *testing.T) {
	c, _ := newFixtureClassifier(t, 0.5)

	tests := []struct {
		query   string
		attacks []bayes.AttackType
	}{
		{
			query: "SELECT * FROM items",
			attacks: []bayes.AttackType{
				bayes.AttackDataAccess,
				bayes.AttackFingerprinting,
				bayes.AttackSchema,
				bayes.AttackDenialOfService,
			},
		},
		{
			// A user table adds the bypass network.
			query: "SELECT * FROM users",
			attacks: []bayes.AttackType{
				bayes.AttackDataAccess,
				bayes.AttackBypassAuthentication,
				bayes.AttackFingerprinting,
				bayes.AttackSchema,
				bayes.AttackDenialOfService,
			},
		},
		{
			query: "UPDATE items SET price = 0",
			attacks: []bayes.AttackType{
				bayes.AttackDataModification,
				bayes.AttackFingerprinting,
				bayes.AttackSchema,
			},
		},
		{
			query:   "BEGIN",
			attacks: nil,
		},
		{
			query:   "USE mydb",
			attacks: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			got, err := c.Evaluate(riskFor(t, tt.query))
			if err != nil {
				t.Fatalf("Evaluate: %v", err)
			}
			if len(got.Scores) != len(tt.attacks) {
				t.Fatalf("got %d scores, want %d: %+v", len(got.Scores), len(tt.attacks), got.Scores)
			}
			for i, want := range tt.attacks {
				if got.Scores[i].Attack != want {
					t.Errorf("score %d is %v, want %v", i, got.Scores[i].Attack, want)
				}
			}
		})
	}
}

func TestBlockAndLogThresholds(t *testing.T) {
	qr := riskFor(t, "SELECT * FROM items")

	blockC, _ := newFixtureClassifier(t, 0.9)
	a, err := blockC.Evaluate(qr)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !a.Blocked {
		t.Error("posterior 0.9 should block")
	}
	if len(a.Loggable) != len(a.Scores) {
		t.Errorf("all scores at 0.9 should be loggable, got %d of %d", len(a.Loggable), len(a.Scores))
	}

	logC, _ := newFixtureClassifier(t, 0.6)
	a, err = logC.Evaluate(qr)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if a.Blocked {
		t.Error("posterior 0.6 should not block")
	}
	if len(a.Loggable) == 0 {
		t.Error("posterior 0.6 should be loggable")
	}

	quietC, _ := newFixtureClassifier(t, 0.1)
	a, err = quietC.Evaluate(qr)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if a.Blocked || len(a.Loggable) != 0 {
		t.Error("posterior 0.1 should neither block nor log")
	}
}

func TestDeterministicDecisions(t *testing.T) {
	c, eval := newFixtureClassifier(t, 0.8)
	qr := riskFor(t, "SELECT * FROM users WHERE name = '' OR 1=1")

	first, err := c.Evaluate(qr)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	statsBefore := eval.Stats()

	second, err := c.Evaluate(qr)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	statsAfter := eval.Stats()

	if first.Blocked != second.Blocked {
		t.Error("the block decision must be a pure function of the query text")
	}
	for i := range first.Scores {
		if first.Scores[i].Posterior != second.Scores[i].Posterior {
			t.Errorf("posterior %d changed between identical evaluations", i)
		}
	}
	for i := range statsBefore {
		if statsAfter[i].Misses != statsBefore[i].Misses {
			t.Errorf("network %d re-ran inference for identical evidence", i)
		}
	}
}

func TestEmptyPasswordChangesEvidence(t *testing.T) {
	// With and without a password comparison, the bypass network sees a
	// different evidence vector, so the fingerprints must differ.
	withPw := riskFor(t, "SELECT * FROM users WHERE password = ''")
	withoutPw := riskFor(t, "SELECT * FROM users WHERE name = 'x'")

	_, evWith := encodeEvidence(bayes.AttackBypassAuthentication, withPw)
	_, evWithout := encodeEvidence(bayes.AttackBypassAuthentication, withoutPw)

	if len(evWith.Nodes) != len(evWithout.Nodes)+1 {
		t.Errorf("password evidence should add one node: %d vs %d", len(evWith.Nodes), len(evWithout.Nodes))
	}
	if evWith.Fingerprint() == evWithout.Fingerprint() {
		t.Error("fingerprints with and without password evidence should differ")
	}
}

func TestStringManipulationBucketing(t *testing.T) {
	qr := &sqlparse.QueryRisk{StringManipulationStatements: 2}
	if got := stringManipState(qr); got != 2 {
		t.Errorf("state = %d, want 2", got)
	}
	qr.StringManipulationStatements = 9
	if got := stringManipState(qr); got != 4 {
		t.Errorf("state = %d, want clamp at 4", got)
	}
}
