package sqlparse

import (
	"fmt"
	"regexp"
	"strings"
)

// QueryType classifies a statement by its opening keyword.
type QueryType int

const (
	TypeUnknown QueryType = iota
	TypeSelect
	TypeInsert
	TypeUpdate
	TypeDelete
	TypeTransaction
	TypeSet
	TypeExplain
	TypeShow
	TypeDescribe
	TypeLock
	TypeUse
)

func (t QueryType) String() string {
	switch t {
	case TypeSelect:
		return "SELECT"
	case TypeInsert:
		return "INSERT"
	case TypeUpdate:
		return "UPDATE"
	case TypeDelete:
		return "DELETE"
	case TypeTransaction:
		return "TRANSACTION"
	case TypeSet:
		return "SET"
	case TypeExplain:
		return "EXPLAIN"
	case TypeShow:
		return "SHOW"
	case TypeDescribe:
		return "DESCRIBE"
	case TypeLock:
		return "LOCK"
	case TypeUse:
		return "USE"
	default:
		return "UNKNOWN"
	}
}

// EmptyPassword records whether a query compared a password-like field
// against an empty value. Empty outranks not-empty outranks not-used when
// results from several conjuncts are merged.
type EmptyPassword int

const (
	PasswordNotUsed EmptyPassword = iota
	PasswordNotEmpty
	PasswordEmpty
)

// mergePassword combines two observations, keeping the riskier one.
func mergePassword(a, b EmptyPassword) EmptyPassword {
	if a == PasswordEmpty || b == PasswordEmpty {
		return PasswordEmpty
	}
	if a == PasswordNotEmpty || b == PasswordNotEmpty {
		return PasswordNotEmpty
	}
	return PasswordNotUsed
}

// QueryRisk is the fixed-layout record of syntactic risk features accumulated
// by the lexer and parser while analysing a single query. It is the single
// output of analysis and the single input to classification.
type QueryRisk struct {
	QueryType QueryType

	MultiLineComments            uint16
	HashComments                 uint16
	DashDashComments             uint16
	MySqlComments                uint16
	MySqlVersionedComments       uint16
	SensitiveTables              uint16
	OrStatements                 uint16
	UnionStatements              uint16
	UnionAllStatements           uint16
	BruteForceCommands           uint16
	IfStatements                 uint16
	HexStrings                   uint16
	BenchmarkStatements          uint16
	UserStatements               uint16
	FingerprintingStatements     uint16
	MySqlStringConcat            uint16
	StringManipulationStatements uint16
	AlwaysTrueConditionals       uint16
	CommentedConditionals        uint16
	CommentedQuotes              uint16
	GlobalVariables              uint16
	JoinStatements               uint16
	CrossJoinStatements          uint16
	RegexLength                  uint16
	SlowRegexes                  uint16

	EmptyPassword EmptyPassword

	MultipleQueries   bool
	OrderByNumber     bool
	AlwaysTrue        bool
	InformationSchema bool
	Valid             bool
	UserTable         bool
}

// NewQueryRisk returns a zeroed vector. Valid starts true and is cleared by
// the parser on failure; AlwaysTrue starts true and survives only if the
// WHERE analysis confirms it.
func NewQueryRisk() *QueryRisk {
	return &QueryRisk{
		EmptyPassword: PasswordNotUsed,
		AlwaysTrue:    true,
		Valid:         true,
	}
}

// Identifier classification lists. The table list follows GreenSQL's, the
// function lists follow the MySQL manual and "SQL Injection Attacks and
// Defense" (Clarke).
var (
	sensitiveTablesRegex = regexp.MustCompile(`(?i)(customer|member|order|admin|user|permission|session)`)
	userTableRegex       = regexp.MustCompile(`(?i)(user|customer|member)`)
	infoSchemaRegex      = regexp.MustCompile(`(?i)^(information_schema|mysql)$`)

	bruteForceFuncs = map[string]bool{
		"mid": true, "substr": true, "substring": true, "load_file": true, "char": true,
	}
	userFuncs = map[string]bool{
		"current_user": true, "session_user": true, "system_user": true, "user": true,
	}
	fingerprintingFuncs = map[string]bool{
		"schema": true, "database": true, "version": true, "connection_id": true,
		"last_insert_id": true, "row_count": true,
	}
	stringManipulationFuncs = map[string]bool{
		"concat": true, "concatws": true, "concat_ws": true, "char": true, "insert": true,
		"hex": true, "mid": true, "replace": true, "reverse": true, "substr": true,
		"substring": true,
	}
)

// CheckTable classifies a table identifier.
func (qr *QueryRisk) CheckTable(table string) {
	if sensitiveTablesRegex.MatchString(table) {
		qr.SensitiveTables++
	}
	if userTableRegex.MatchString(table) {
		qr.UserTable = true
	}
}

// CheckDatabase classifies a database identifier.
func (qr *QueryRisk) CheckDatabase(database string) {
	if infoSchemaRegex.MatchString(database) {
		qr.InformationSchema = true
	}
}

// CheckFunction classifies a function name. Brute-force detection is
// independent; the remaining buckets are mutually exclusive.
func (qr *QueryRisk) CheckFunction(name string) {
	lower := strings.ToLower(name)
	if bruteForceFuncs[lower] {
		qr.BruteForceCommands++
	}
	switch {
	case stringManipulationFuncs[lower]:
		qr.StringManipulationStatements++
	case userFuncs[lower]:
		qr.UserStatements++
	case fingerprintingFuncs[lower]:
		qr.FingerprintingStatements++
	case lower == "benchmark":
		qr.BenchmarkStatements++
	case lower == "if":
		qr.IfStatements++
	}
}

// CheckRegex inspects a LIKE pattern for denial-of-service potential. A
// pattern longer than anything seen so far sets RegexLength; a leading
// wildcard on a non-trivial pattern defeats index use and counts as slow.
func (qr *QueryRisk) CheckRegex(pattern string) {
	if int(qr.RegexLength) < len(pattern) {
		qr.RegexLength = uint16(len(pattern))
	}
	if len(pattern) > 1 && pattern[0] == '%' {
		qr.SlowRegexes++
	}
}

// MergePassword folds an empty-password observation into the vector.
func (qr *QueryRisk) MergePassword(ep EmptyPassword) {
	qr.EmptyPassword = mergePassword(qr.EmptyPassword, ep)
}

// Equal compares two vectors field by field.
func (qr *QueryRisk) Equal(other *QueryRisk) bool {
	return *qr == *other
}

// String renders the non-zero features, one per line, for log records.
func (qr *QueryRisk) String() string {
	var b strings.Builder
	counters := []struct {
		name  string
		value uint16
	}{
		{"multiLineComments", qr.MultiLineComments},
		{"hashComments", qr.HashComments},
		{"dashDashComments", qr.DashDashComments},
		{"mySqlComments", qr.MySqlComments},
		{"mySqlVersionedComments", qr.MySqlVersionedComments},
		{"sensitiveTables", qr.SensitiveTables},
		{"orStatements", qr.OrStatements},
		{"unionStatements", qr.UnionStatements},
		{"unionAllStatements", qr.UnionAllStatements},
		{"bruteForceCommands", qr.BruteForceCommands},
		{"ifStatements", qr.IfStatements},
		{"hexStrings", qr.HexStrings},
		{"benchmarkStatements", qr.BenchmarkStatements},
		{"userStatements", qr.UserStatements},
		{"fingerprintingStatements", qr.FingerprintingStatements},
		{"mySqlStringConcat", qr.MySqlStringConcat},
		{"stringManipulationStatements", qr.StringManipulationStatements},
		{"alwaysTrueConditionals", qr.AlwaysTrueConditionals},
		{"commentedConditionals", qr.CommentedConditionals},
		{"commentedQuotes", qr.CommentedQuotes},
		{"globalVariables", qr.GlobalVariables},
		{"joinStatements", qr.JoinStatements},
		{"crossJoinStatements", qr.CrossJoinStatements},
		{"regexLength", qr.RegexLength},
		{"slowRegexes", qr.SlowRegexes},
	}
	for _, c := range counters {
		if c.value > 0 {
			fmt.Fprintf(&b, "%s: %d\n", c.name, c.value)
		}
	}
	switch qr.EmptyPassword {
	case PasswordEmpty:
		b.WriteString("password: empty\n")
	case PasswordNotEmpty:
		b.WriteString("password: not empty\n")
	}
	bools := []struct {
		name  string
		value bool
	}{
		{"multipleQueries", qr.MultipleQueries},
		{"orderByNumber", qr.OrderByNumber},
		{"alwaysTrue", qr.AlwaysTrue},
		{"informationSchema", qr.InformationSchema},
		{"valid", qr.Valid},
		{"userTable", qr.UserTable},
	}
	for _, f := range bools {
		if f.value {
			fmt.Fprintf(&b, "%s: true\n", f.name)
		}
	}
	fmt.Fprintf(&b, "queryType: %s\n", qr.QueryType)
	return b.String()
}
