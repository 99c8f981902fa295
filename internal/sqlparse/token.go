package sqlparse

// TokenKind identifies the lexical class of a token. Each SQL keyword the
// grammar recognises gets its own kind so the parser can switch on it
// directly and so the structural hash reflects keyword identity.
type TokenKind int

const (
	TokEOF TokenKind = iota
	TokIdentifier
	TokInteger
	TokFloat
	TokHex
	TokString
	TokGlobalVariable
	TokSessionVariable

	// Punctuation and operators.
	TokLParen
	TokRParen
	TokComma
	TokDot
	TokSemicolon
	TokStar
	TokPlus
	TokMinus
	TokSlash
	TokPercent
	TokAmpersand
	TokPipe
	TokCaret
	TokTilde
	TokShiftLeft
	TokShiftRight
	TokEq
	TokNe
	TokNullSafeEq
	TokLt
	TokLe
	TokGt
	TokGe
	TokAssign

	// Keywords.
	KwAll
	KwAnd
	KwAs
	KwAsc
	KwBegin
	KwBetween
	KwBy
	KwCommit
	KwCross
	KwDelete
	KwDesc
	KwDescribe
	KwDistinct
	KwDiv
	KwDuplicate
	KwExplain
	KwFrom
	KwGlobal
	KwGroup
	KwHaving
	KwIgnore
	KwIn
	KwInner
	KwInsert
	KwInto
	KwIs
	KwJoin
	KwKey
	KwLeft
	KwLike
	KwLimit
	KwLock
	KwLowPriority
	KwMod
	KwNatural
	KwNot
	KwNull
	KwOffset
	KwOn
	KwOr
	KwOrder
	KwOuter
	KwRead
	KwRight
	KwRollback
	KwSelect
	KwSession
	KwSet
	KwShow
	KwSounds
	KwStart
	KwStraightJoin
	KwTables
	KwTransaction
	KwUnion
	KwUnlock
	KwUpdate
	KwUse
	KwUsing
	KwValues
	KwWhere
	KwWork
	KwWrite
	KwXor
)

// Token is a single lexeme. Text holds the raw slice of the input; for
// string literals Decoded holds the unescaped value with MySQL's
// adjacent-literal concatenation already applied.
type Token struct {
	Kind    TokenKind
	Text    string
	Decoded string

	// IdentFallback marks keywords that may appear as identifiers in some
	// contexts (unreserved words such as SESSION or KEY).
	IdentFallback bool
}

var keywords = map[string]TokenKind{
	"all":           KwAll,
	"and":           KwAnd,
	"as":            KwAs,
	"asc":           KwAsc,
	"begin":         KwBegin,
	"between":       KwBetween,
	"by":            KwBy,
	"commit":        KwCommit,
	"cross":         KwCross,
	"delete":        KwDelete,
	"desc":          KwDesc,
	"describe":      KwDescribe,
	"distinct":      KwDistinct,
	"div":           KwDiv,
	"duplicate":     KwDuplicate,
	"explain":       KwExplain,
	"from":          KwFrom,
	"global":        KwGlobal,
	"group":         KwGroup,
	"having":        KwHaving,
	"ignore":        KwIgnore,
	"in":            KwIn,
	"inner":         KwInner,
	"insert":        KwInsert,
	"into":          KwInto,
	"is":            KwIs,
	"join":          KwJoin,
	"key":           KwKey,
	"left":          KwLeft,
	"like":          KwLike,
	"limit":         KwLimit,
	"lock":          KwLock,
	"low_priority":  KwLowPriority,
	"mod":           KwMod,
	"natural":       KwNatural,
	"not":           KwNot,
	"null":          KwNull,
	"offset":        KwOffset,
	"on":            KwOn,
	"or":            KwOr,
	"order":         KwOrder,
	"outer":         KwOuter,
	"read":          KwRead,
	"right":         KwRight,
	"rollback":      KwRollback,
	"select":        KwSelect,
	"session":       KwSession,
	"set":           KwSet,
	"show":          KwShow,
	"sounds":        KwSounds,
	"start":         KwStart,
	"straight_join": KwStraightJoin,
	"tables":        KwTables,
	"transaction":   KwTransaction,
	"union":         KwUnion,
	"unlock":        KwUnlock,
	"update":        KwUpdate,
	"use":           KwUse,
	"using":         KwUsing,
	"values":        KwValues,
	"where":         KwWhere,
	"work":          KwWork,
	"write":         KwWrite,
	"xor":           KwXor,
}

// identFallbackKeywords are unreserved in MySQL: they lex as keywords but the
// parser may accept them where an identifier is expected.
var identFallbackKeywords = map[TokenKind]bool{
	KwBegin:       true,
	KwCommit:      true,
	KwDuplicate:   true,
	KwGlobal:      true,
	KwKey:         true,
	KwOffset:      true,
	KwRollback:    true,
	KwSession:     true,
	KwSounds:      true,
	KwStart:       true,
	KwTables:      true,
	KwTransaction: true,
	KwWork:        true,
	KwValues:      true,
}

// IsKeyword reports whether the kind is a SQL keyword.
func (k TokenKind) IsKeyword() bool {
	return k >= KwAll
}

// literalValueKind reports whether the token's literal value should be
// ignored by the structural hash: two queries differing only in such
// literals hash equal.
func literalValueKind(k TokenKind) bool {
	switch k {
	case TokInteger, TokFloat, TokHex, TokString:
		return true
	}
	return false
}
