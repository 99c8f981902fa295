package sqlparse

import (
	"errors"
	"testing"

	"github.com/sqlwarden/sqlwarden/internal/sensitive"
)

func testChecker(t *testing.T) *sensitive.Checker {
	t.Helper()
	chk, err := sensitive.New(sensitive.Defaults())
	if err != nil {
		t.Fatalf("building sensitive checker: %v", err)
	}
	return chk
}

func analyze(t *testing.T, query string) *Result {
	t.Helper()
	return Analyze(query, testChecker(t))
}

func mustParse(t *testing.T, query string) *Result {
	t.Helper()
	res := analyze(t, query)
	if !res.OK() {
		t.Fatalf("query %q should parse, got %v", query, res.Err)
	}
	return res
}

func TestQueryTypes(t *testing.T) {
	tests := []struct {
		query string
		want  QueryType
	}{
		{"SELECT 1", TypeSelect},
		{"SELECT * FROM items WHERE id = 5", TypeSelect},
		{"INSERT INTO t (a, b) VALUES (1, 'x')", TypeInsert},
		{"INSERT t SET a = 1", TypeInsert},
		{"UPDATE t SET a = 1 WHERE b = 2", TypeUpdate},
		{"DELETE FROM t WHERE a = 1", TypeDelete},
		{"BEGIN", TypeTransaction},
		{"START TRANSACTION", TypeTransaction},
		{"COMMIT", TypeTransaction},
		{"ROLLBACK WORK", TypeTransaction},
		{"SET autocommit = 1", TypeSet},
		{"SET NAMES utf8", TypeSet},
		{"SET @x := 5, @@global.y = 2", TypeSet},
		{"SHOW DATABASES", TypeShow},
		{"SHOW TABLES FROM mydb", TypeShow},
		{"DESCRIBE items", TypeDescribe},
		{"DESC items", TypeDescribe},
		{"EXPLAIN items", TypeDescribe},
		{"EXPLAIN SELECT 1", TypeExplain},
		{"LOCK TABLES items READ, users WRITE", TypeLock},
		{"UNLOCK TABLES", TypeLock},
		{"USE mydb", TypeUse},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			res := mustParse(t, tt.query)
			if res.Risk.QueryType != tt.want {
				t.Errorf("queryType = %v, want %v", res.Risk.QueryType, tt.want)
			}
		})
	}
}

func TestMultipleStatementsRejected(t *testing.T) {
	tests := []string{
		"SELECT 1; SELECT 2",
		"SELECT * FROM items; DROP TABLE items",
		"SELECT 1; DELETE FROM t; SELECT 2",
	}
	for _, query := range tests {
		t.Run(query, func(t *testing.T) {
			res := analyze(t, query)
			if res.OK() {
				t.Fatal("multi-statement buffer should fail to parse")
			}
			if !errors.Is(res.Err, ErrMultipleStatements) {
				t.Errorf("err = %v, want ErrMultipleStatements", res.Err)
			}
			if !res.Risk.MultipleQueries {
				t.Error("multipleQueries should be set")
			}
			if res.Risk.Valid {
				t.Error("valid should be cleared")
			}
		})
	}

	// A single trailing semicolon is fine.
	mustParse(t, "SELECT 1;")
}

func TestInvalidQueries(t *testing.T) {
	tests := []string{
		"",
		"DANCE FOR ME MYSQL",
		"SELECT FROM WHERE",
		"SELECT * FROM",
		"UPDATE t WHERE a = 1",
		"INSERT INTO",
	}
	for _, query := range tests {
		t.Run(query, func(t *testing.T) {
			res := analyze(t, query)
			if res.OK() {
				t.Errorf("query %q should fail to parse", query)
			}
			if res.Risk.Valid {
				t.Error("valid should be cleared on parse failure")
			}
		})
	}
}

func TestUnionCounters(t *testing.T) {
	res := mustParse(t, "SELECT a FROM t UNION SELECT b FROM u UNION ALL SELECT c FROM v")
	if res.Risk.UnionStatements != 2 {
		t.Errorf("unionStatements = %d, want 2", res.Risk.UnionStatements)
	}
	if res.Risk.UnionAllStatements != 1 {
		t.Errorf("unionAllStatements = %d, want 1", res.Risk.UnionAllStatements)
	}
}

func TestJoinCounters(t *testing.T) {
	res := mustParse(t, "SELECT * FROM a JOIN b ON a.id = b.id CROSS JOIN c LEFT OUTER JOIN d ON d.x = c.x")
	if res.Risk.JoinStatements != 3 {
		t.Errorf("joinStatements = %d, want 3", res.Risk.JoinStatements)
	}
	if res.Risk.CrossJoinStatements != 1 {
		t.Errorf("crossJoinStatements = %d, want 1", res.Risk.CrossJoinStatements)
	}
}

func TestOrCounting(t *testing.T) {
	res := mustParse(t, "SELECT * FROM t WHERE a = 1 OR b = 2 OR c = 3")
	if res.Risk.OrStatements != 2 {
		t.Errorf("orStatements = %d, want 2", res.Risk.OrStatements)
	}
}

func TestOrderByNumber(t *testing.T) {
	res := mustParse(t, "SELECT * FROM t ORDER BY 3")
	if !res.Risk.OrderByNumber {
		t.Error("positional ORDER BY should set orderByNumber")
	}

	res = mustParse(t, "SELECT * FROM t ORDER BY name")
	if res.Risk.OrderByNumber {
		t.Error("ORDER BY column should not set orderByNumber")
	}

	// Only the first sort key counts.
	res = mustParse(t, "SELECT * FROM t ORDER BY name, 2")
	if res.Risk.OrderByNumber {
		t.Error("positional key in later position should not set orderByNumber")
	}
}

func TestFunctionClassification(t *testing.T) {
	tests := []struct {
		query string
		check func(*QueryRisk) bool
		field string
	}{
		{"SELECT BENCHMARK(5000000, MD5('x'))", func(r *QueryRisk) bool { return r.BenchmarkStatements == 1 }, "benchmarkStatements"},
		{"SELECT IF(1, 2, 3)", func(r *QueryRisk) bool { return r.IfStatements == 1 }, "ifStatements"},
		{"SELECT USER()", func(r *QueryRisk) bool { return r.UserStatements == 1 }, "userStatements"},
		{"SELECT VERSION()", func(r *QueryRisk) bool { return r.FingerprintingStatements == 1 }, "fingerprintingStatements"},
		{"SELECT CONCAT(a, b) FROM t", func(r *QueryRisk) bool { return r.StringManipulationStatements == 1 }, "stringManipulationStatements"},
		{"SELECT LOAD_FILE('/etc/passwd')", func(r *QueryRisk) bool { return r.BruteForceCommands == 1 }, "bruteForceCommands"},
		// SUBSTRING is both brute force and string manipulation.
		{"SELECT SUBSTRING(a, 1, 1) FROM t", func(r *QueryRisk) bool {
			return r.BruteForceCommands == 1 && r.StringManipulationStatements == 1
		}, "substring both"},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			res := mustParse(t, tt.query)
			if !tt.check(res.Risk) {
				t.Errorf("%s not counted as expected:\n%s", tt.field, res.Risk)
			}
		})
	}
}

func TestTableClassification(t *testing.T) {
	res := mustParse(t, "SELECT * FROM users")
	if res.Risk.SensitiveTables != 1 {
		t.Errorf("sensitiveTables = %d, want 1", res.Risk.SensitiveTables)
	}
	if !res.Risk.UserTable {
		t.Error("userTable should be set for the users table")
	}

	res = mustParse(t, "SELECT * FROM information_schema.tables")
	if !res.Risk.InformationSchema {
		t.Error("informationSchema should be set")
	}

	res = mustParse(t, "USE mysql")
	if !res.Risk.InformationSchema {
		t.Error("USE mysql should set informationSchema")
	}
}

func TestEmptyPassword(t *testing.T) {
	tests := []struct {
		query string
		want  EmptyPassword
	}{
		{"SELECT name FROM users WHERE pw = ''", PasswordEmpty},
		{"SELECT name FROM users WHERE password = ''", PasswordEmpty},
		{"SELECT name FROM users WHERE password = 'hunter2'", PasswordNotEmpty},
		{"SELECT name FROM users WHERE name = ''", PasswordNotUsed},
		{"SELECT name FROM users WHERE password = '' OR password = 'x'", PasswordEmpty},
		{"UPDATE users SET password = '' WHERE id = 1", PasswordEmpty},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			res := mustParse(t, tt.query)
			if res.Risk.EmptyPassword != tt.want {
				t.Errorf("emptyPassword = %v, want %v", res.Risk.EmptyPassword, tt.want)
			}
		})
	}
}

func TestAlwaysTrueWhere(t *testing.T) {
	tests := []struct {
		query      string
		alwaysTrue bool
		conjuncts  uint16
	}{
		{"SELECT * FROM t WHERE 1 = 1", true, 1},
		{"SELECT * FROM t WHERE 1 = 2", false, 0},
		{"SELECT * FROM t WHERE id = 5", false, 0},
		{"SELECT * FROM users WHERE name = '' OR 1=1", true, 1},
		{"SELECT * FROM t WHERE 1=1 AND 2=2", true, 2},
		{"SELECT * FROM t WHERE id = 5 AND 1=1", false, 1},
		{"SELECT * FROM t WHERE 'abc' LIKE '%'", true, 1},
		{"SELECT * FROM t WHERE 1 IN (1, 2, 3)", true, 1},
		{"SELECT * FROM t WHERE 5 BETWEEN 1 AND 10", true, 2},
		{"SELECT * FROM t WHERE NOT 1 = 2", true, 1},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			res := mustParse(t, tt.query)
			if res.Risk.AlwaysTrue != tt.alwaysTrue {
				t.Errorf("alwaysTrue = %v, want %v", res.Risk.AlwaysTrue, tt.alwaysTrue)
			}
			if res.Risk.AlwaysTrueConditionals != tt.conjuncts {
				t.Errorf("alwaysTrueConditionals = %d, want %d", res.Risk.AlwaysTrueConditionals, tt.conjuncts)
			}
		})
	}
}

func TestNoWhereIsAlwaysTrue(t *testing.T) {
	res := mustParse(t, "SELECT * FROM t")
	if !res.Risk.AlwaysTrue {
		t.Error("a query with no WHERE clause is unconditionally true")
	}
}

func TestHexStringContext(t *testing.T) {
	res := mustParse(t, "SELECT * FROM t WHERE name = 0x41424344")
	if res.Risk.HexStrings != 0 {
		t.Errorf("hex against an identifier is not string context, got %d", res.Risk.HexStrings)
	}

	res = mustParse(t, "SELECT * FROM t WHERE 'ABCD' = 0x41424344")
	if res.Risk.HexStrings != 1 {
		t.Errorf("hex compared with a string should count, got %d", res.Risk.HexStrings)
	}

	res = mustParse(t, "SELECT * FROM t WHERE name LIKE 0x41")
	if res.Risk.HexStrings != 1 {
		t.Errorf("hex as LIKE operand should count, got %d", res.Risk.HexStrings)
	}
}

func TestSlowRegexes(t *testing.T) {
	res := mustParse(t, "SELECT * FROM t WHERE name LIKE '%admin%'")
	if res.Risk.SlowRegexes != 1 {
		t.Errorf("slowRegexes = %d, want 1", res.Risk.SlowRegexes)
	}
	if res.Risk.RegexLength != 7 {
		t.Errorf("regexLength = %d, want 7", res.Risk.RegexLength)
	}

	// A bare % is not counted as slow.
	res = mustParse(t, "SELECT * FROM t WHERE name LIKE '%'")
	if res.Risk.SlowRegexes != 0 {
		t.Errorf("bare %% should not count as slow, got %d", res.Risk.SlowRegexes)
	}
}

func TestSubselects(t *testing.T) {
	res := mustParse(t, "SELECT * FROM t WHERE id IN (SELECT id FROM u WHERE x = 1)")
	if res.Risk.AlwaysTrue {
		t.Error("IN subselect is indeterminate, never always true")
	}

	mustParse(t, "SELECT * FROM (SELECT id FROM u) AS sub")
	mustParse(t, "SELECT (SELECT MAX(id) FROM u) FROM t")
}

func TestStructuralHash(t *testing.T) {
	a := mustParse(t, "SELECT * FROM users WHERE id = 5")
	b := mustParse(t, "SELECT * FROM users WHERE id = 123456")
	c := mustParse(t, "SELECT * FROM users WHERE name = 'aaa'")
	d := mustParse(t, "SELECT * FROM users WHERE name = 'completely different'")
	e := mustParse(t, "SELECT * FROM orders WHERE id = 5")

	if a.Hash != b.Hash {
		t.Error("queries differing only in an integer literal should hash equal")
	}
	if c.Hash != d.Hash {
		t.Error("queries differing only in a string literal should hash equal")
	}
	if a.Hash == c.Hash {
		t.Error("literal kind and identifiers stay part of the hash")
	}
	if a.Hash == e.Hash {
		t.Error("different table names must hash differently")
	}
	if a.Hash.TokenCount == 0 {
		t.Error("token count should be recorded")
	}
}

func TestHashAvailableOnParseFailure(t *testing.T) {
	res := analyze(t, "SELECT * FROM items; DROP TABLE items")
	if res.OK() {
		t.Fatal("expected parse failure")
	}
	if res.Hash.TokenCount == 0 {
		t.Error("hash should be computed even when parsing fails")
	}
}
