// Package classify turns a risk feature vector into attack posteriors by
// encoding per-attack evidence and querying the Bayesian evaluator.
package classify

import (
	"fmt"

	"github.com/sqlwarden/sqlwarden/internal/bayes"
	"github.com/sqlwarden/sqlwarden/internal/sqlparse"
)

// Default decision thresholds on the posterior probability.
const (
	DefaultBlockThreshold = 0.75
	DefaultLogThreshold   = 0.5
)

// Score is one attack type's posterior for a query.
type Score struct {
	Attack    bayes.AttackType
	Posterior float64
}

// Assessment is the classification outcome for one query.
type Assessment struct {
	Scores  []Score
	Blocked bool
	// Loggable lists the scores at or above the log threshold, whether or
	// not they also blocked.
	Loggable []Score
}

// Classifier evaluates the attack networks that apply to a query's type.
type Classifier struct {
	eval           *bayes.Evaluator
	blockThreshold float64
	logThreshold   float64
}

// New builds a classifier with the given thresholds; zero values select the
// defaults.
func New(eval *bayes.Evaluator, blockThreshold, logThreshold float64) *Classifier {
	if blockThreshold == 0 {
		blockThreshold = DefaultBlockThreshold
	}
	if logThreshold == 0 {
		logThreshold = DefaultLogThreshold
	}
	return &Classifier{eval: eval, blockThreshold: blockThreshold, logThreshold: logThreshold}
}

// Evaluate runs every attack network that applies to the query type and
// folds the posteriors into a block/log decision. Which networks run depends
// on the statement kind: reads are scored for access, bypass (only when a
// user table is touched), fingerprinting, schema discovery, and denial of
// service; writes for modification, fingerprinting, and schema discovery.
func (c *Classifier) Evaluate(qr *sqlparse.QueryRisk) (*Assessment, error) {
	var attacks []bayes.AttackType
	switch qr.QueryType {
	case sqlparse.TypeSelect:
		attacks = append(attacks, bayes.AttackDataAccess)
		if qr.UserTable {
			attacks = append(attacks, bayes.AttackBypassAuthentication)
		}
		attacks = append(attacks,
			bayes.AttackFingerprinting,
			bayes.AttackSchema,
			bayes.AttackDenialOfService,
		)
	case sqlparse.TypeInsert, sqlparse.TypeUpdate, sqlparse.TypeDelete:
		attacks = append(attacks,
			bayes.AttackDataModification,
			bayes.AttackFingerprinting,
			bayes.AttackSchema,
		)
	default:
		// Transactional and administrative statements carry no scored
		// surface; they are forwarded as-is.
		return &Assessment{}, nil
	}

	out := &Assessment{}
	for _, attack := range attacks {
		target, ev := encodeEvidence(attack, qr)
		p, err := c.eval.Posterior(attack, target, attackState, ev)
		if err != nil {
			return nil, fmt.Errorf("evaluating %s network: %w", attack, err)
		}
		s := Score{Attack: attack, Posterior: p}
		out.Scores = append(out.Scores, s)
		if p >= c.blockThreshold {
			out.Blocked = true
		}
		if p >= c.logThreshold {
			out.Loggable = append(out.Loggable, s)
		}
	}
	return out, nil
}

// BlockThreshold returns the configured block threshold.
func (c *Classifier) BlockThreshold() float64 { return c.blockThreshold }

// attackState is the index of the "attack" state in every target node.
const attackState = 0

// boolState maps a feature's presence onto the conventional two-state
// layout: state 0 is the risky state.
func boolState(present bool) int {
	if present {
		return 0
	}
	return 1
}

// stringManipState buckets the string-manipulation counter into the
// five-state node.
func stringManipState(qr *sqlparse.QueryRisk) int {
	if qr.StringManipulationStatements <= 3 {
		return int(qr.StringManipulationStatements)
	}
	return 4
}

// stringStmtsState is the combined "string statements" feature shared by
// several networks.
func stringStmtsState(qr *sqlparse.QueryRisk) int {
	return boolState(qr.UserStatements > 0 || qr.FingerprintingStatements > 0 || qr.GlobalVariables > 0)
}

// orAlwaysTrueState is true when an always-true conditional arrived through
// an OR branch.
func orAlwaysTrueState(qr *sqlparse.QueryRisk) int {
	return boolState(qr.OrStatements > 0 && qr.AlwaysTrue && qr.AlwaysTrueConditionals > 0)
}

// encodeEvidence maps the feature vector onto one network's evidence nodes.
// The node index constants mirror the declaration order inside each Hugin
// file; the evidence lists skip the internal (non-evidence) nodes.
func encodeEvidence(attack bayes.AttackType, qr *sqlparse.QueryRisk) (target int, ev bayes.Evidence) {
	switch attack {
	case bayes.AttackDataAccess:
		return encodeDataAccess(qr)
	case bayes.AttackBypassAuthentication:
		return encodeBypass(qr)
	case bayes.AttackDataModification:
		return encodeModification(qr)
	case bayes.AttackFingerprinting:
		return encodeFingerprinting(qr)
	case bayes.AttackSchema:
		return encodeSchema(qr)
	case bayes.AttackDenialOfService:
		return encodeDenial(qr)
	}
	return 0, bayes.Evidence{}
}

func encodeDataAccess(qr *sqlparse.QueryRisk) (int, bayes.Evidence) {
	// Node order in dataAccess.net.
	const (
		daGlobalVariables = iota
		daIfStmts
		daStringManipulation
		daHexStrings
		daOrAlwaysTrue
		daConditionalModification // internal
		daCommentedConditionals
		daDetectionEvasion // internal
		daStringStmts
		daBruteForce
		daConditionalStmts // internal
		daUnionStmts
		daBenchmarkStmts
		daCommentedQuotes
		daAlwaysTrueConditional
		daDataAccess // target
		daSensitiveTables
		daUnionAllStmts
		daOrStmts
	)
	ev := bayes.Evidence{
		Nodes: []int{
			daGlobalVariables, daIfStmts, daStringManipulation, daHexStrings,
			daOrAlwaysTrue, daCommentedConditionals, daStringStmts, daBruteForce,
			daUnionStmts, daBenchmarkStmts, daCommentedQuotes,
			daAlwaysTrueConditional, daSensitiveTables, daUnionAllStmts, daOrStmts,
		},
		States: []int{
			boolState(qr.GlobalVariables > 0),
			boolState(qr.IfStatements > 0),
			stringManipState(qr),
			boolState(qr.HexStrings > 0),
			orAlwaysTrueState(qr),
			boolState(qr.CommentedConditionals > 0),
			stringStmtsState(qr),
			boolState(qr.BruteForceCommands > 0),
			boolState(qr.UnionStatements > 0),
			boolState(qr.BenchmarkStatements > 0),
			boolState(qr.CommentedQuotes > 0),
			boolState(qr.AlwaysTrueConditionals > 0),
			boolState(qr.SensitiveTables > 0),
			boolState(qr.UnionAllStatements > 0),
			boolState(qr.OrStatements > 0),
		},
	}
	return daDataAccess, ev
}

func encodeBypass(qr *sqlparse.QueryRisk) (int, bayes.Evidence) {
	// Node order in bypassAuthentication.net.
	const (
		baOrAlwaysTrue         = iota // internal
		baBypassAuthentication        // target
		baHexStrings
		baBruteForce
		baDetectionEvasion // internal
		baCommentedQuotes
		baStringStmts
		baGlobalVariables
		baUnionStmts
		baAlwaysTrueConditional
		baOrStmts
		baStringManipulation
		baEmptyPassword
		baConditionalModification // internal
		baCommentedConditionals
	)
	nodes := []int{
		baHexStrings, baBruteForce, baCommentedQuotes, baStringStmts,
		baGlobalVariables, baUnionStmts, baAlwaysTrueConditional, baOrStmts,
		baStringManipulation,
	}
	states := []int{
		boolState(qr.HexStrings > 0),
		boolState(qr.BruteForceCommands > 0),
		boolState(qr.CommentedQuotes > 0),
		stringStmtsState(qr),
		boolState(qr.GlobalVariables > 0),
		boolState(qr.UnionStatements > 0 || qr.UnionAllStatements > 0),
		boolState(qr.AlwaysTrueConditionals > 0),
		boolState(qr.OrStatements > 0),
		stringManipState(qr),
	}
	// Password evidence is set only when the query actually touched a
	// password field; otherwise the node is left uninstantiated.
	switch qr.EmptyPassword {
	case sqlparse.PasswordEmpty:
		nodes = append(nodes, baEmptyPassword)
		states = append(states, 0)
	case sqlparse.PasswordNotEmpty:
		nodes = append(nodes, baEmptyPassword)
		states = append(states, 1)
	}
	nodes = append(nodes, baCommentedConditionals)
	states = append(states, boolState(qr.CommentedConditionals > 0))

	return baBypassAuthentication, bayes.Evidence{Nodes: nodes, States: states}
}

func encodeModification(qr *sqlparse.QueryRisk) (int, bayes.Evidence) {
	// Node order in dataModification.net.
	const (
		dmDetectionEvasion = iota // internal
		dmHexStrings
		dmStringStmts
		dmDataModification // target
		dmInsert
		dmConditionalModification // internal
		dmGlobalVariables
		dmBruteForce
		dmOrStmts
		dmAlwaysTrue
		dmStringManipulation
		dmCommentedConditionals
		dmCommentedQuotes
		dmSensitiveTables
	)
	ev := bayes.Evidence{
		Nodes: []int{
			dmHexStrings, dmStringStmts, dmInsert, dmGlobalVariables,
			dmBruteForce, dmOrStmts, dmAlwaysTrue, dmStringManipulation,
			dmCommentedConditionals, dmCommentedQuotes, dmSensitiveTables,
		},
		States: []int{
			boolState(qr.HexStrings > 0),
			stringStmtsState(qr),
			boolState(qr.QueryType == sqlparse.TypeInsert),
			boolState(qr.GlobalVariables > 0),
			boolState(qr.BruteForceCommands > 0),
			boolState(qr.OrStatements > 0),
			boolState(qr.AlwaysTrue),
			stringManipState(qr),
			boolState(qr.CommentedConditionals > 0),
			boolState(qr.CommentedQuotes > 0),
			boolState(qr.SensitiveTables > 0),
		},
	}
	return dmDataModification, ev
}

func encodeFingerprinting(qr *sqlparse.QueryRisk) (int, bayes.Evidence) {
	// Node order in fingerprinting.net.
	const (
		fpMySqlComments = iota
		fpMySqlStringConcat
		fpDataAccess // internal
		fpGlobalVariables
		fpSelect
		fpStringManipulation
		fpOrStmts
		fpConditionalModification // internal
		fpIfStmts
		fpCommentedQuotes
		fpFingerprinting // target
		fpBruteForce
		fpCommentedConditionals
		fpConditionalStmts // internal
		fpHexStrings
		fpUnionStmts
		fpMySqlVersionComments
		fpDetectionEvasion // internal
		fpFingerprintingStmts
		fpUserStmts
		fpAlwaysTrueConditional
		fpBenchmarkStmts
		fpStringStmts
		fpOrAlwaysTrue
	)
	ev := bayes.Evidence{
		Nodes: []int{
			fpMySqlComments, fpMySqlStringConcat, fpGlobalVariables, fpSelect,
			fpStringManipulation, fpOrStmts, fpIfStmts, fpCommentedQuotes,
			fpBruteForce, fpCommentedConditionals, fpHexStrings, fpUnionStmts,
			fpMySqlVersionComments, fpFingerprintingStmts, fpUserStmts,
			fpAlwaysTrueConditional, fpBenchmarkStmts, fpStringStmts,
			fpOrAlwaysTrue,
		},
		States: []int{
			boolState(qr.MySqlComments > 0),
			boolState(qr.MySqlStringConcat > 0),
			boolState(qr.GlobalVariables > 0),
			boolState(qr.QueryType == sqlparse.TypeSelect),
			stringManipState(qr),
			boolState(qr.OrStatements > 0),
			boolState(qr.IfStatements > 0),
			boolState(qr.CommentedQuotes > 0),
			boolState(qr.BruteForceCommands > 0),
			boolState(qr.CommentedConditionals > 0),
			boolState(qr.HexStrings > 0),
			boolState(qr.UnionStatements > 0 || qr.UnionAllStatements > 0),
			boolState(qr.MySqlVersionedComments > 0),
			boolState(qr.FingerprintingStatements > 0),
			boolState(qr.UserStatements > 0),
			boolState(qr.AlwaysTrueConditionals > 0),
			boolState(qr.BenchmarkStatements > 0),
			stringStmtsState(qr),
			orAlwaysTrueState(qr),
		},
	}
	return fpFingerprinting, ev
}

func encodeSchema(qr *sqlparse.QueryRisk) (int, bayes.Evidence) {
	// Node order in schema.net.
	const (
		scOrStmts = iota
		scOrderByNumber
		scGlobalVariables
		scBruteForce
		scCommentedQuotes
		scIfStmts
		scStringStmts
		scDataAccess // internal
		scInformationSchema
		scHexStrings
		scConditionalModification // internal
		scDetectionEvasion        // internal
		scSchema                  // target
		scUnionStmts
		scCommentedConditionals
		scConditionalStmts // internal
		scBenchmarkStmts
		scOrAlwaysTrue
		scAlwaysTrueConditional
		scStringManipulation
		scSelect
	)
	ev := bayes.Evidence{
		Nodes: []int{
			scOrStmts, scOrderByNumber, scGlobalVariables, scBruteForce,
			scCommentedQuotes, scIfStmts, scStringStmts, scInformationSchema,
			scHexStrings, scUnionStmts, scCommentedConditionals,
			scBenchmarkStmts, scOrAlwaysTrue, scAlwaysTrueConditional,
			scStringManipulation, scSelect,
		},
		States: []int{
			boolState(qr.OrStatements > 0),
			boolState(qr.OrderByNumber),
			boolState(qr.GlobalVariables > 0),
			boolState(qr.BruteForceCommands > 0),
			boolState(qr.CommentedQuotes > 0),
			boolState(qr.IfStatements > 0),
			stringStmtsState(qr),
			boolState(qr.InformationSchema),
			boolState(qr.HexStrings > 0),
			boolState(qr.UnionStatements > 0 || qr.UnionAllStatements > 0),
			boolState(qr.CommentedConditionals > 0),
			boolState(qr.BenchmarkStatements > 0),
			orAlwaysTrueState(qr),
			boolState(qr.AlwaysTrueConditionals > 0),
			stringManipState(qr),
			boolState(qr.QueryType == sqlparse.TypeSelect),
		},
	}
	return scSchema, ev
}

func encodeDenial(qr *sqlparse.QueryRisk) (int, bayes.Evidence) {
	// Node order in denialOfService.net.
	const (
		dsAlwaysTrue = iota
		dsSlowRegex
		dsBenchmark
		dsJoins
		dsDenialOfService // target
		dsCrossJoin
		dsRegexLength
	)
	joins := int(qr.JoinStatements)
	if joins > 5 {
		joins = 5
	}
	regexLen := int(qr.RegexLength) / 5
	if regexLen > 5 {
		regexLen = 5
	}
	ev := bayes.Evidence{
		Nodes: []int{dsAlwaysTrue, dsSlowRegex, dsBenchmark, dsJoins, dsCrossJoin, dsRegexLength},
		States: []int{
			boolState(qr.AlwaysTrue),
			boolState(qr.SlowRegexes > 0),
			boolState(qr.BenchmarkStatements > 0),
			joins,
			boolState(qr.CrossJoinStatements > 0),
			regexLen,
		},
	}
	return dsDenialOfService, ev
}
