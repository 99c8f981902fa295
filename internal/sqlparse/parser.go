package sqlparse

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sqlwarden/sqlwarden/internal/sensitive"
)

// Parse failure classes. Callers only branch on success, but the classes
// keep log records specific.
var (
	ErrSyntax             = errors.New("syntax error")
	ErrMultipleStatements = errors.New("multiple statements in one buffer")
)

// Result is the outcome of analysing one query buffer. The risk vector is
// populated even on failure: counters the scanner incremented before the
// failure stay in place so the parse-failure whitelist hash still has its
// context, and Valid is cleared.
type Result struct {
	Risk *QueryRisk
	Hash QueryHash
	Err  error
}

// OK reports whether the buffer parsed cleanly.
func (r *Result) OK() bool { return r.Err == nil && r.Risk.Valid }

// Analyze tokenizes and parses a single query buffer, returning the filled
// risk vector and the structural hash. The sensitive-name checker feeds
// empty-password detection and may be nil.
func Analyze(query string, chk *sensitive.Checker) *Result {
	risk := NewQueryRisk()

	lx := NewLexer(query, risk)
	var toks []Token
	for {
		tok, err := lx.Next()
		if err != nil {
			risk.Valid = false
			return &Result{Risk: risk, Hash: hashTokens(toks), Err: err}
		}
		if tok.Kind == TokEOF {
			break
		}
		toks = append(toks, tok)
	}
	hash := hashTokens(toks)

	p := &parser{toks: toks, risk: risk, chk: chk}
	if err := p.parseBuffer(); err != nil {
		risk.Valid = false
		return &Result{Risk: risk, Hash: hash, Err: err}
	}
	return &Result{Risk: risk, Hash: hash}
}

type parser struct {
	toks []Token
	pos  int
	risk *QueryRisk
	chk  *sensitive.Checker
}

func (p *parser) peek() Token {
	if p.pos >= len(p.toks) {
		return Token{Kind: TokEOF}
	}
	return p.toks[p.pos]
}

func (p *parser) peekAt(n int) Token {
	if p.pos+n >= len(p.toks) {
		return Token{Kind: TokEOF}
	}
	return p.toks[p.pos+n]
}

func (p *parser) next() Token {
	t := p.peek()
	if p.pos < len(p.toks) {
		p.pos++
	}
	return t
}

func (p *parser) accept(kind TokenKind) bool {
	if p.peek().Kind == kind {
		p.pos++
		return true
	}
	return false
}

func (p *parser) expect(kind TokenKind) (Token, error) {
	t := p.peek()
	if t.Kind != kind {
		return Token{}, fmt.Errorf("%w: unexpected token %q", ErrSyntax, t.Text)
	}
	p.pos++
	return t, nil
}

// identText consumes an identifier, allowing unreserved keywords to appear
// in identifier position.
func (p *parser) identText() (string, error) {
	t := p.peek()
	if t.Kind == TokIdentifier || t.IdentFallback {
		p.pos++
		return t.Text, nil
	}
	return "", fmt.Errorf("%w: expected identifier, got %q", ErrSyntax, t.Text)
}

// parseBuffer parses exactly one statement. A second non-empty statement in
// the same buffer is rejected outright.
func (p *parser) parseBuffer() error {
	if p.peek().Kind == TokEOF {
		return fmt.Errorf("%w: empty statement", ErrSyntax)
	}
	if err := p.parseStatement(); err != nil {
		return err
	}
	sawSemicolon := false
	for p.accept(TokSemicolon) {
		sawSemicolon = true
	}
	if p.peek().Kind != TokEOF {
		if sawSemicolon {
			p.risk.MultipleQueries = true
			return ErrMultipleStatements
		}
		return fmt.Errorf("%w: trailing input %q", ErrSyntax, p.peek().Text)
	}
	return nil
}

func (p *parser) parseStatement() error {
	switch p.peek().Kind {
	case KwSelect:
		p.risk.QueryType = TypeSelect
		return p.parseSelect()
	case KwInsert:
		p.risk.QueryType = TypeInsert
		return p.parseInsert()
	case KwUpdate:
		p.risk.QueryType = TypeUpdate
		return p.parseUpdate()
	case KwDelete:
		p.risk.QueryType = TypeDelete
		return p.parseDelete()
	case KwBegin, KwCommit, KwRollback, KwStart:
		p.risk.QueryType = TypeTransaction
		return p.parseTransaction()
	case KwSet:
		p.risk.QueryType = TypeSet
		return p.parseSet()
	case KwShow:
		p.risk.QueryType = TypeShow
		return p.parseShow()
	case KwDescribe, KwDesc:
		p.risk.QueryType = TypeDescribe
		return p.parseDescribe()
	case KwExplain:
		p.risk.QueryType = TypeExplain
		return p.parseExplain()
	case KwLock, KwUnlock:
		p.risk.QueryType = TypeLock
		return p.parseLock()
	case KwUse:
		p.risk.QueryType = TypeUse
		return p.parseUse()
	}
	return fmt.Errorf("%w: statement cannot start with %q", ErrSyntax, p.peek().Text)
}

// ---------------- SELECT ----------------

// parseSelect handles a full select statement including UNION chains.
func (p *parser) parseSelect() error {
	if err := p.parseSelectBody(); err != nil {
		return err
	}
	for p.peek().Kind == KwUnion {
		p.next()
		p.risk.UnionStatements++
		if p.accept(KwAll) {
			p.risk.UnionAllStatements++
		} else {
			p.accept(KwDistinct)
		}
		if p.accept(TokLParen) {
			if _, err := p.expect(KwSelect); err != nil {
				return err
			}
			if err := p.parseSelectBody(); err != nil {
				return err
			}
			if _, err := p.expect(TokRParen); err != nil {
				return err
			}
		} else {
			if _, err := p.expect(KwSelect); err != nil {
				return err
			}
			if err := p.parseSelectBody(); err != nil {
				return err
			}
		}
	}
	return nil
}

// parseSelectBody parses one SELECT core. It consumes the SELECT keyword
// itself unless the caller already has.
func (p *parser) parseSelectBody() error {
	if p.peek().Kind == KwSelect {
		p.next()
	}
	if !p.accept(KwDistinct) {
		p.accept(KwAll)
	}

	if err := p.parseSelectExprs(); err != nil {
		return err
	}

	if p.accept(KwFrom) {
		if err := p.parseTableRefs(); err != nil {
			return err
		}
	}

	if p.accept(KwWhere) {
		if err := p.parseWhere(); err != nil {
			return err
		}
	}

	if p.peek().Kind == KwGroup {
		p.next()
		if _, err := p.expect(KwBy); err != nil {
			return err
		}
		for {
			if _, err := p.parseExpr(); err != nil {
				return err
			}
			p.accept(KwAsc)
			p.accept(KwDesc)
			if !p.accept(TokComma) {
				break
			}
		}
		if p.accept(KwHaving) {
			tree, err := p.parseExpr()
			if err != nil {
				return err
			}
			p.foldConditionTree(tree)
		}
	}

	if err := p.parseOrderBy(); err != nil {
		return err
	}
	if err := p.parseLimit(); err != nil {
		return err
	}

	// LOCK IN SHARE MODE is accepted and ignored. FOR UPDATE is not
	// recognised and fails to parse.
	if p.peek().Kind == KwLock {
		p.next()
		if _, err := p.expect(KwIn); err != nil {
			return err
		}
		if _, err := p.identText(); err != nil {
			return err
		}
		if _, err := p.identText(); err != nil {
			return err
		}
	}
	return nil
}

func (p *parser) parseSelectExprs() error {
	for {
		if p.accept(TokStar) {
			// plain *
		} else {
			if _, err := p.parseExpr(); err != nil {
				return err
			}
			if p.accept(KwAs) {
				if _, err := p.identText(); err != nil {
					return err
				}
			} else if p.peek().Kind == TokIdentifier || p.peek().IdentFallback {
				// implicit alias
				p.next()
			}
		}
		if !p.accept(TokComma) {
			return nil
		}
	}
}

// parseTableRefs parses the FROM clause: table factors joined by commas and
// JOIN productions.
func (p *parser) parseTableRefs() error {
	if err := p.parseTableFactor(); err != nil {
		return err
	}
	for {
		switch p.peek().Kind {
		case TokComma:
			p.next()
			if err := p.parseTableFactor(); err != nil {
				return err
			}

		case KwJoin, KwInner, KwCross, KwLeft, KwRight, KwNatural, KwStraightJoin:
			cross := false
			switch p.peek().Kind {
			case KwCross:
				cross = true
				p.next()
			case KwInner:
				p.next()
			case KwLeft, KwRight:
				p.next()
				p.accept(KwOuter)
			case KwNatural:
				p.next()
				switch p.peek().Kind {
				case KwLeft, KwRight:
					p.next()
					p.accept(KwOuter)
				}
			}
			if p.peek().Kind == KwStraightJoin {
				p.next()
			} else {
				if _, err := p.expect(KwJoin); err != nil {
					return err
				}
			}
			p.risk.JoinStatements++
			if cross {
				p.risk.CrossJoinStatements++
			}
			if err := p.parseTableFactor(); err != nil {
				return err
			}
			if p.accept(KwOn) {
				tree, err := p.parseExpr()
				if err != nil {
					return err
				}
				p.foldConditionTree(tree)
			} else if p.accept(KwUsing) {
				if _, err := p.expect(TokLParen); err != nil {
					return err
				}
				for {
					if _, err := p.identText(); err != nil {
						return err
					}
					if !p.accept(TokComma) {
						break
					}
				}
				if _, err := p.expect(TokRParen); err != nil {
					return err
				}
			}

		default:
			return nil
		}
	}
}

// parseTableFactor parses a single table reference: a (possibly qualified)
// table name, a parenthesized subselect, or a parenthesized join list.
func (p *parser) parseTableFactor() error {
	if p.accept(TokLParen) {
		if p.peek().Kind == KwSelect {
			if err := p.parseSelect(); err != nil {
				return err
			}
		} else {
			if err := p.parseTableRefs(); err != nil {
				return err
			}
		}
		if _, err := p.expect(TokRParen); err != nil {
			return err
		}
		p.parseTableAlias()
		return nil
	}

	name, err := p.identText()
	if err != nil {
		return err
	}
	if p.accept(TokDot) {
		table, err := p.identText()
		if err != nil {
			return err
		}
		p.risk.CheckDatabase(name)
		p.risk.CheckTable(table)
	} else {
		p.risk.CheckTable(name)
	}
	p.parseTableAlias()
	return nil
}

func (p *parser) parseTableAlias() {
	if p.accept(KwAs) {
		p.identText() //nolint:errcheck // alias after AS; a miss fails later anyway
		return
	}
	if p.peek().Kind == TokIdentifier {
		p.next()
	}
}

// parseWhere builds the conditional tree and runs the always-true analysis
// at the top of the clause.
func (p *parser) parseWhere() error {
	tree, err := p.parseExpr()
	if err != nil {
		return err
	}
	p.foldConditionTree(tree)
	p.risk.AlwaysTrue = tree.AlwaysTrue()
	return nil
}

// foldConditionTree accumulates the tree-derived features shared by WHERE,
// HAVING, and ON clauses: independently-true conjuncts and password use.
func (p *parser) foldConditionTree(tree Expr) {
	p.risk.AlwaysTrueConditionals += countAlwaysTrueLeaves(tree)
	p.risk.MergePassword(passwordRiskOf(tree, p.chk))
}

func (p *parser) parseOrderBy() error {
	if p.peek().Kind != KwOrder {
		return nil
	}
	p.next()
	if _, err := p.expect(KwBy); err != nil {
		return err
	}
	first := true
	for {
		if first && p.peek().Kind == TokInteger {
			// A positional sort key betrays column-count probing.
			p.risk.OrderByNumber = true
		}
		first = false
		if _, err := p.parseExpr(); err != nil {
			return err
		}
		p.accept(KwAsc)
		p.accept(KwDesc)
		if !p.accept(TokComma) {
			return nil
		}
	}
}

func (p *parser) parseLimit() error {
	if !p.accept(KwLimit) {
		return nil
	}
	if _, err := p.expect(TokInteger); err != nil {
		return err
	}
	if p.accept(TokComma) {
		if _, err := p.expect(TokInteger); err != nil {
			return err
		}
	} else if p.accept(KwOffset) {
		if _, err := p.expect(TokInteger); err != nil {
			return err
		}
	}
	return nil
}

// ---------------- INSERT / UPDATE / DELETE ----------------

func (p *parser) parseInsert() error {
	p.next() // INSERT
	p.accept(KwLowPriority)
	p.accept(KwIgnore)
	p.accept(KwInto)

	if err := p.parseQualifiedTable(); err != nil {
		return err
	}

	switch p.peek().Kind {
	case TokLParen:
		p.next()
		for {
			if _, err := p.identText(); err != nil {
				return err
			}
			if !p.accept(TokComma) {
				break
			}
		}
		if _, err := p.expect(TokRParen); err != nil {
			return err
		}
		if p.peek().Kind == KwSelect {
			if err := p.parseSelect(); err != nil {
				return err
			}
		} else {
			if err := p.parseValuesLists(); err != nil {
				return err
			}
		}

	case KwValues:
		if err := p.parseValuesLists(); err != nil {
			return err
		}

	case KwSet:
		p.next()
		if err := p.parseAssignmentList(); err != nil {
			return err
		}

	case KwSelect:
		if err := p.parseSelect(); err != nil {
			return err
		}

	default:
		return fmt.Errorf("%w: unexpected %q in INSERT", ErrSyntax, p.peek().Text)
	}

	if p.peek().Kind == KwOn {
		p.next()
		if _, err := p.expect(KwDuplicate); err != nil {
			return err
		}
		if _, err := p.expect(KwKey); err != nil {
			return err
		}
		if _, err := p.expect(KwUpdate); err != nil {
			return err
		}
		if err := p.parseAssignmentList(); err != nil {
			return err
		}
	}
	return nil
}

func (p *parser) parseValuesLists() error {
	if _, err := p.expect(KwValues); err != nil {
		return err
	}
	for {
		if _, err := p.expect(TokLParen); err != nil {
			return err
		}
		if p.peek().Kind != TokRParen {
			for {
				if _, err := p.parseExpr(); err != nil {
					return err
				}
				if !p.accept(TokComma) {
					break
				}
			}
		}
		if _, err := p.expect(TokRParen); err != nil {
			return err
		}
		if !p.accept(TokComma) {
			return nil
		}
	}
}

// parseAssignmentList parses col = expr, ... and feeds password detection
// with each assignment.
func (p *parser) parseAssignmentList() error {
	for {
		col, err := p.parseColumnRef()
		if err != nil {
			return err
		}
		if !p.accept(TokEq) {
			if _, err := p.expect(TokAssign); err != nil {
				return err
			}
		}
		val, err := p.parseExpr()
		if err != nil {
			return err
		}
		cmp := &Comparison{Left: col, Op: "=", Right: val}
		p.risk.MergePassword(cmp.passwordRisk(p.chk))
		if !p.accept(TokComma) {
			return nil
		}
	}
}

func (p *parser) parseColumnRef() (Expr, error) {
	name, err := p.identText()
	if err != nil {
		return nil, err
	}
	for p.accept(TokDot) {
		name, err = p.identText()
		if err != nil {
			return nil, err
		}
	}
	return &Terminal{Val: name, Kind: TermIdentifier}, nil
}

func (p *parser) parseQualifiedTable() error {
	name, err := p.identText()
	if err != nil {
		return err
	}
	if p.accept(TokDot) {
		table, err := p.identText()
		if err != nil {
			return err
		}
		p.risk.CheckDatabase(name)
		p.risk.CheckTable(table)
		return nil
	}
	p.risk.CheckTable(name)
	return nil
}

func (p *parser) parseUpdate() error {
	p.next() // UPDATE
	p.accept(KwLowPriority)
	p.accept(KwIgnore)
	if err := p.parseTableRefs(); err != nil {
		return err
	}
	if _, err := p.expect(KwSet); err != nil {
		return err
	}
	if err := p.parseAssignmentList(); err != nil {
		return err
	}
	if p.accept(KwWhere) {
		if err := p.parseWhere(); err != nil {
			return err
		}
	}
	if err := p.parseOrderBy(); err != nil {
		return err
	}
	return p.parseLimit()
}

func (p *parser) parseDelete() error {
	p.next() // DELETE
	p.accept(KwLowPriority)
	p.accept(KwIgnore)
	if _, err := p.expect(KwFrom); err != nil {
		return err
	}
	if err := p.parseQualifiedTable(); err != nil {
		return err
	}
	if p.accept(KwWhere) {
		if err := p.parseWhere(); err != nil {
			return err
		}
	}
	if err := p.parseOrderBy(); err != nil {
		return err
	}
	return p.parseLimit()
}

// ---------------- other statements ----------------

func (p *parser) parseTransaction() error {
	switch p.next().Kind {
	case KwBegin:
		p.accept(KwWork)
	case KwStart:
		if _, err := p.expect(KwTransaction); err != nil {
			return err
		}
	case KwCommit, KwRollback:
		p.accept(KwWork)
	}
	return nil
}

func (p *parser) parseSet() error {
	p.next() // SET
	// SET NAMES charset has no assignment form.
	if t := p.peek(); t.Kind == TokIdentifier && strings.EqualFold(t.Text, "names") {
		p.next()
		switch p.peek().Kind {
		case TokIdentifier, TokString:
			p.next()
			return nil
		}
		return fmt.Errorf("%w: expected charset after SET NAMES", ErrSyntax)
	}
	for {
		if !p.accept(KwGlobal) {
			p.accept(KwSession)
		}
		t := p.peek()
		switch {
		case t.Kind == TokSessionVariable || t.Kind == TokGlobalVariable:
			p.next()
		case t.Kind == TokIdentifier || t.IdentFallback:
			p.next()
		default:
			return fmt.Errorf("%w: expected variable in SET, got %q", ErrSyntax, t.Text)
		}
		if !p.accept(TokEq) {
			if _, err := p.expect(TokAssign); err != nil {
				return err
			}
		}
		if _, err := p.parseExpr(); err != nil {
			return err
		}
		if !p.accept(TokComma) {
			return nil
		}
	}
}

// parseShow accepts the SHOW family permissively: the exact subcommand is
// irrelevant to risk scoring, but database names after FROM/IN are still
// classified.
func (p *parser) parseShow() error {
	p.next() // SHOW
	if p.peek().Kind == TokEOF || p.peek().Kind == TokSemicolon {
		return fmt.Errorf("%w: bare SHOW", ErrSyntax)
	}
	for {
		t := p.peek()
		if t.Kind == TokEOF || t.Kind == TokSemicolon {
			return nil
		}
		if t.Kind == KwFrom || t.Kind == KwIn {
			p.next()
			name, err := p.identText()
			if err != nil {
				return err
			}
			p.risk.CheckDatabase(name)
			continue
		}
		if t.Kind == KwLike {
			p.next()
			lit, err := p.expect(TokString)
			if err != nil {
				return err
			}
			p.risk.CheckRegex(lit.Decoded)
			continue
		}
		p.next()
	}
}

func (p *parser) parseDescribe() error {
	p.next() // DESCRIBE | DESC
	if err := p.parseQualifiedTable(); err != nil {
		return err
	}
	// Optional column or wildcard filter.
	t := p.peek()
	if t.Kind == TokIdentifier || t.IdentFallback {
		p.next()
	} else if t.Kind == TokString {
		p.next()
	}
	return nil
}

func (p *parser) parseExplain() error {
	p.next() // EXPLAIN
	if p.peek().Kind == KwSelect {
		return p.parseSelect()
	}
	// EXPLAIN table is DESCRIBE by another name.
	p.risk.QueryType = TypeDescribe
	return p.parseQualifiedTable()
}

func (p *parser) parseLock() error {
	if p.next().Kind == KwUnlock {
		_, err := p.expect(KwTables)
		return err
	}
	if _, err := p.expect(KwTables); err != nil {
		return err
	}
	for {
		if err := p.parseQualifiedTable(); err != nil {
			return err
		}
		p.parseTableAlias()
		switch p.peek().Kind {
		case KwRead:
			p.next()
		case KwWrite:
			p.next()
		case KwLowPriority:
			p.next()
			if _, err := p.expect(KwWrite); err != nil {
				return err
			}
		default:
			return fmt.Errorf("%w: expected READ or WRITE, got %q", ErrSyntax, p.peek().Text)
		}
		if !p.accept(TokComma) {
			return nil
		}
	}
}

func (p *parser) parseUse() error {
	p.next() // USE
	name, err := p.identText()
	if err != nil {
		return err
	}
	p.risk.CheckDatabase(name)
	return nil
}
