package sqlparse

import (
	"strconv"
	"strings"

	"github.com/sqlwarden/sqlwarden/internal/sensitive"
)

// Expr is a node of the analysis tree built for a WHERE clause. Nodes own
// their children; a tree lives only for the duration of analysing one query.
//
// Evaluation answers three questions: can the node be reduced to a literal
// without reference to any identifier (ResultsInValue/Value), and what is
// its logical truth when fully reducible (AlwaysTrue, with Decidable
// distinguishing "false" from "unknown").
type Expr interface {
	ResultsInValue() bool
	Value() string
	AlwaysTrue() bool
	Decidable() bool
}

// TerminalKind classifies leaf values.
type TerminalKind int

const (
	TermInteger TerminalKind = iota
	TermFloat
	TermHex
	TermString
	TermIdentifier
	TermSessionVariable
	TermGlobalVariable
)

// Terminal is a leaf: a literal, an identifier, or a variable reference.
type Terminal struct {
	Val  string
	Kind TerminalKind
}

func (t *Terminal) ResultsInValue() bool {
	switch t.Kind {
	case TermIdentifier, TermSessionVariable, TermGlobalVariable:
		return false
	}
	return true
}

func (t *Terminal) Value() string {
	if t.Kind == TermHex {
		return decodeHex(t.Val)
	}
	return t.Val
}

func (t *Terminal) AlwaysTrue() bool {
	if !t.ResultsInValue() {
		return false
	}
	// Numbers and numeric strings are true when non-zero; other strings
	// coerce to 0 and are false.
	v := t.Value()
	if isNumberString(v) {
		f, _ := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f != 0
	}
	return false
}

func (t *Terminal) Decidable() bool { return t.ResultsInValue() }

// decodeHex turns 0x41 into the byte string "A", matching how MySQL treats
// hex literals in string context.
func decodeHex(text string) string {
	digits := text[2:]
	if len(digits)%2 == 1 {
		digits = "0" + digits
	}
	var b strings.Builder
	for i := 0; i+2 <= len(digits); i += 2 {
		v, err := strconv.ParseUint(digits[i:i+2], 16, 8)
		if err != nil {
			return text
		}
		b.WriteByte(byte(v))
	}
	return b.String()
}

// isNumberString reports whether the string looks like a MySQL numeric
// literal: optional surrounding whitespace, optional sign, digits with an
// optional fraction.
func isNumberString(s string) bool {
	i, n := 0, len(s)
	for i < n && (s[i] == ' ' || s[i] == '\t') {
		i++
	}
	if i < n && (s[i] == '-' || s[i] == '+' || s[i] == '~') {
		i++
	}
	digit := false
	for i < n && s[i] >= '0' && s[i] <= '9' {
		i++
		digit = true
	}
	if i < n && s[i] == '.' {
		i++
		for i < n && s[i] >= '0' && s[i] <= '9' {
			i++
			digit = true
		}
	}
	for i < n && (s[i] == ' ' || s[i] == '\t') {
		i++
	}
	return i == n && digit
}

// coerceNumber applies MySQL's string-to-number rule: non-numeric strings
// become 0.
func coerceNumber(s string) float64 {
	if !isNumberString(s) {
		return 0
	}
	f, _ := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return f
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// BinaryOp is an arithmetic expression over two operands.
type BinaryOp struct {
	Left  Expr
	Op    string
	Right Expr
}

func (b *BinaryOp) ResultsInValue() bool {
	if !b.Left.ResultsInValue() || !b.Right.ResultsInValue() {
		return false
	}
	// Integer division by a zero-rounded divisor has no value.
	if b.Op == "DIV" {
		if int64(roundHalfAway(coerceNumber(b.Right.Value()))) == 0 {
			return false
		}
	}
	return true
}

func roundHalfAway(f float64) float64 {
	if f < 0 {
		return float64(int64(f - 0.5))
	}
	return float64(int64(f + 0.5))
}

func (b *BinaryOp) Value() string {
	l := coerceNumber(b.Left.Value())
	r := coerceNumber(b.Right.Value())
	switch b.Op {
	case "+":
		return formatNumber(l + r)
	case "-":
		return formatNumber(l - r)
	case "*":
		return formatNumber(l * r)
	case "/":
		return formatNumber(l / r)
	case "DIV":
		li, ri := int64(roundHalfAway(l)), int64(roundHalfAway(r))
		return strconv.FormatInt(li/ri, 10)
	case "MOD", "%":
		return formatNumber(fmod(l, r))
	case "&":
		return strconv.FormatInt(int64(roundHalfAway(l))&int64(roundHalfAway(r)), 10)
	case "|":
		return strconv.FormatInt(int64(roundHalfAway(l))|int64(roundHalfAway(r)), 10)
	case "^":
		return strconv.FormatInt(int64(roundHalfAway(l))^int64(roundHalfAway(r)), 10)
	case "<<":
		return strconv.FormatInt(int64(roundHalfAway(l))<<uint(roundHalfAway(r)), 10)
	case ">>":
		return strconv.FormatInt(int64(roundHalfAway(l))>>uint(roundHalfAway(r)), 10)
	}
	return "0"
}

func fmod(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a - b*float64(int64(a/b))
}

func (b *BinaryOp) AlwaysTrue() bool {
	if !b.ResultsInValue() {
		return false
	}
	return coerceNumber(b.Value()) != 0
}

func (b *BinaryOp) Decidable() bool { return b.ResultsInValue() }

// LogicOp is a boolean connective.
type LogicOp int

const (
	LogicAnd LogicOp = iota
	LogicOr
	LogicXor
)

// BooleanLogic combines two conditionals.
type BooleanLogic struct {
	Left  Expr
	Op    LogicOp
	Right Expr
}

func (b *BooleanLogic) ResultsInValue() bool { return false }
func (b *BooleanLogic) Value() string        { return "" }

func (b *BooleanLogic) AlwaysTrue() bool {
	switch b.Op {
	case LogicAnd:
		return b.Left.AlwaysTrue() && b.Right.AlwaysTrue()
	case LogicOr:
		return b.Left.AlwaysTrue() || b.Right.AlwaysTrue()
	case LogicXor:
		if !b.Left.Decidable() || !b.Right.Decidable() {
			return false
		}
		return b.Left.AlwaysTrue() != b.Right.AlwaysTrue()
	}
	return false
}

func (b *BooleanLogic) Decidable() bool {
	ld, rd := b.Left.Decidable(), b.Right.Decidable()
	switch b.Op {
	case LogicAnd:
		// Short circuit: one determinate false decides the conjunction.
		if ld && !b.Left.AlwaysTrue() {
			return true
		}
		if rd && !b.Right.AlwaysTrue() {
			return true
		}
		return ld && rd
	case LogicOr:
		if ld && b.Left.AlwaysTrue() {
			return true
		}
		if rd && b.Right.AlwaysTrue() {
			return true
		}
		return ld && rd
	case LogicXor:
		return ld && rd
	}
	return false
}

// Comparison compares two expressions with a relational operator. Op is one
// of "=", "!=", "<", "<=", ">", ">=", "like", "not like", "sounds like".
type Comparison struct {
	Left  Expr
	Op    string
	Right Expr
}

func (c *Comparison) ResultsInValue() bool { return false }
func (c *Comparison) Value() string        { return "" }

func (c *Comparison) Decidable() bool {
	return c.Left.ResultsInValue() && c.Right.ResultsInValue()
}

func (c *Comparison) AlwaysTrue() bool {
	// Identifiers may or may not compare correctly at runtime, so any
	// comparison touching one is assumed legitimate.
	if !c.Decidable() {
		return false
	}
	lv, rv := c.Left.Value(), c.Right.Value()
	switch c.Op {
	case "=":
		return compareValues(lv, rv) == 0
	case "!=":
		return compareValues(lv, rv) != 0
	case "<":
		return compareValues(lv, rv) < 0
	case "<=":
		return compareValues(lv, rv) <= 0
	case ">":
		return compareValues(lv, rv) > 0
	case ">=":
		return compareValues(lv, rv) >= 0
	case "like":
		return likeMatch(lv, rv)
	case "not like":
		if rv == "" {
			return true
		}
		return !likeMatch(lv, rv)
	case "sounds like":
		return Soundex(lv) == Soundex(rv)
	}
	return false
}

// compareValues compares numerically when both sides look numeric, else as
// case-insensitive strings, mirroring MySQL's comparison coercion.
func compareValues(a, b string) int {
	if isNumberString(a) && isNumberString(b) {
		af, bf := coerceNumber(a), coerceNumber(b)
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		}
		return 0
	}
	return strings.Compare(strings.ToLower(a), strings.ToLower(b))
}

// passwordRisk inspects an equality against a password-like field. The
// sensitive-name policy decides what counts as a password column.
func (c *Comparison) passwordRisk(chk *sensitive.Checker) EmptyPassword {
	if chk == nil || c.Op != "=" {
		return PasswordNotUsed
	}
	field, value := c.Left, c.Right
	ft, ok := field.(*Terminal)
	if !ok || ft.Kind != TermIdentifier {
		// Also catch the flipped form '' = password.
		ft, ok = value.(*Terminal)
		if !ok || ft.Kind != TermIdentifier {
			return PasswordNotUsed
		}
		value = c.Left
	}
	if !chk.IsPasswordField(ft.Val) || !value.ResultsInValue() {
		return PasswordNotUsed
	}
	if value.Value() == "" {
		return PasswordEmpty
	}
	return PasswordNotEmpty
}

// InList is "expr [NOT] IN (member, ...)".
type InList struct {
	Expr    Expr
	Negated bool
	Members []Expr
}

func (in *InList) ResultsInValue() bool { return false }
func (in *InList) Value() string        { return "" }

func (in *InList) Decidable() bool {
	if !in.Expr.ResultsInValue() {
		return false
	}
	for _, m := range in.Members {
		if !m.ResultsInValue() {
			return false
		}
	}
	return true
}

func (in *InList) AlwaysTrue() bool {
	if !in.Decidable() {
		return false
	}
	v := in.Expr.Value()
	found := false
	for _, m := range in.Members {
		if compareValues(v, m.Value()) == 0 {
			found = true
			break
		}
	}
	if in.Negated {
		return !found
	}
	return found
}

// InSubselect is "expr [NOT] IN (SELECT ...)". Subselect results are never
// known at analysis time, so the node is always indeterminate.
type InSubselect struct {
	Expr    Expr
	Negated bool
}

func (in *InSubselect) ResultsInValue() bool { return false }
func (in *InSubselect) Value() string        { return "" }
func (in *InSubselect) AlwaysTrue() bool     { return false }
func (in *InSubselect) Decidable() bool      { return false }

// Negation is "NOT expr".
type Negation struct {
	Inner Expr
}

func (n *Negation) ResultsInValue() bool { return false }
func (n *Negation) Value() string        { return "" }
func (n *Negation) Decidable() bool      { return n.Inner.Decidable() }

func (n *Negation) AlwaysTrue() bool {
	if !n.Inner.Decidable() {
		return false
	}
	return !n.Inner.AlwaysTrue()
}

// AlwaysSomething is a synthetic node with a fixed truth value, emitted for
// constructs the parser can decide on sight, such as LIKE '%'.
type AlwaysSomething struct {
	Truth bool
}

func (a *AlwaysSomething) ResultsInValue() bool { return false }
func (a *AlwaysSomething) Value() string        { return "" }
func (a *AlwaysSomething) AlwaysTrue() bool     { return a.Truth }
func (a *AlwaysSomething) Decidable() bool      { return true }

// Function is a call such as BENCHMARK(...) or MD5(...). Calls are never
// evaluated, so the node is indeterminate.
type Function struct {
	Name string
	Args []Expr
}

func (f *Function) ResultsInValue() bool { return false }
func (f *Function) Value() string        { return "" }
func (f *Function) AlwaysTrue() bool     { return false }
func (f *Function) Decidable() bool      { return false }

// Null is the literal NULL. NULL is not true in boolean context, and
// comparisons against it yield NULL, so it is treated as indeterminate.
type Null struct{}

func (n *Null) ResultsInValue() bool { return false }
func (n *Null) Value() string        { return "" }
func (n *Null) AlwaysTrue() bool     { return false }
func (n *Null) Decidable() bool      { return false }

// Indeterminate is the placeholder for constructs the analyser cannot
// reason about.
type Indeterminate struct{}

func (i *Indeterminate) ResultsInValue() bool { return false }
func (i *Indeterminate) Value() string        { return "" }
func (i *Indeterminate) AlwaysTrue() bool     { return false }
func (i *Indeterminate) Decidable() bool      { return false }

// countAlwaysTrueLeaves walks the boolean skeleton of a WHERE tree and
// counts the conjuncts/disjuncts that independently evaluate as constantly
// true.
func countAlwaysTrueLeaves(e Expr) uint16 {
	if b, ok := e.(*BooleanLogic); ok {
		return countAlwaysTrueLeaves(b.Left) + countAlwaysTrueLeaves(b.Right)
	}
	if e.AlwaysTrue() {
		return 1
	}
	return 0
}

// passwordRiskOf folds empty-password observations over the whole tree.
func passwordRiskOf(e Expr, chk *sensitive.Checker) EmptyPassword {
	switch n := e.(type) {
	case *BooleanLogic:
		return mergePassword(passwordRiskOf(n.Left, chk), passwordRiskOf(n.Right, chk))
	case *Negation:
		return passwordRiskOf(n.Inner, chk)
	case *Comparison:
		return n.passwordRisk(chk)
	}
	return PasswordNotUsed
}
