package proxy

import (
	"log/slog"
	"strings"
	"time"

	"github.com/sqlwarden/sqlwarden/internal/classify"
	"github.com/sqlwarden/sqlwarden/internal/metrics"
	"github.com/sqlwarden/sqlwarden/internal/sensitive"
	"github.com/sqlwarden/sqlwarden/internal/sqlparse"
	"github.com/sqlwarden/sqlwarden/internal/whitelist"
)

// Analyzer bundles the query-analysis pipeline the guard half runs per
// COM_QUERY: parse, whitelist check, classification, decision. All members
// are read-only after startup and shared across sessions; the counters are
// atomic.
type Analyzer struct {
	classifier *classify.Classifier
	whitelist  *whitelist.Whitelist
	checker    *sensitive.Checker
	metrics    *metrics.Collector
	stats      analyzerStats
}

// NewAnalyzer wires the pipeline. metrics may be nil in tests.
func NewAnalyzer(c *classify.Classifier, w *whitelist.Whitelist, chk *sensitive.Checker, m *metrics.Collector) *Analyzer {
	return &Analyzer{classifier: c, whitelist: w, checker: chk, metrics: m}
}

// Verdict is the outcome of analysing one query. Invalid marks a query that
// failed to parse; such a query is always answered with the generic error.
type Verdict struct {
	Dangerous bool
	Invalid   bool
	QueryType sqlparse.QueryType
}

// Analyze decides whether a query may be forwarded. The default on any
// internal failure is to block: no analysis error may let a dangerous query
// through silently.
func (a *Analyzer) Analyze(query string) Verdict {
	start := time.Now()
	a.stats.analyzed.Add(1)
	v := a.analyze(query)
	if v.Dangerous {
		a.stats.blocked.Add(1)
	} else {
		a.stats.forwarded.Add(1)
	}
	if a.metrics != nil {
		verdict := "forwarded"
		if v.Dangerous {
			verdict = "blocked"
		}
		a.metrics.QueryAnalyzed(verdict, time.Since(start))
	}
	return v
}

func (a *Analyzer) analyze(query string) Verdict {
	res := sqlparse.Analyze(query, a.checker)

	if a.whitelist != nil {
		if a.whitelist.IsParseExempt(res.Hash) {
			a.stats.whitelistParse.Add(1)
			if a.metrics != nil {
				a.metrics.WhitelistPass("parse")
			}
			return Verdict{QueryType: sqlparse.TypeUnknown}
		}
		if a.whitelist.IsBlockExempt(res.Hash, res.Risk) {
			a.stats.whitelistBlock.Add(1)
			if a.metrics != nil {
				a.metrics.WhitelistPass("block")
			}
			return Verdict{QueryType: sqlparse.TypeUnknown}
		}
	}

	if !res.OK() {
		slog.Warn("blocked invalid query", "query", formatQuery(query), "err", res.Err)
		a.stats.parseErrors.Add(1)
		if a.metrics != nil {
			a.metrics.QueryBlocked("parse_error")
		}
		return Verdict{Dangerous: true, Invalid: true, QueryType: res.Risk.QueryType}
	}
	a.stats.byQueryType[int(res.Risk.QueryType)].Add(1)

	assessment, err := a.classifier.Evaluate(res.Risk)
	if err != nil {
		// Classification failure defaults to a block; the session goes on.
		slog.Error("classifier failure, blocking query", "query", formatQuery(query), "err", err)
		a.stats.internalErrors.Add(1)
		if a.metrics != nil {
			a.metrics.QueryBlocked("internal_error")
		}
		return Verdict{Dangerous: true, QueryType: res.Risk.QueryType}
	}

	for _, s := range assessment.Scores {
		if a.metrics != nil {
			a.metrics.PosteriorComputed(s.Attack.String(), s.Posterior)
		}
	}
	for _, s := range assessment.Loggable {
		blocked := s.Posterior >= a.classifier.BlockThreshold()
		if blocked {
			a.stats.blockedByAttack[int(s.Attack)].Add(1)
			if a.metrics != nil {
				a.metrics.QueryBlocked(s.Attack.String())
			}
		}
		slog.Warn("risky query",
			"attack", s.Attack.String(),
			"probability", s.Posterior,
			"blocked", blocked,
			"query", formatQuery(query),
		)
	}

	return Verdict{Dangerous: assessment.Blocked, QueryType: res.Risk.QueryType}
}

// formatQuery collapses whitespace so a query lands on one log line.
func formatQuery(query string) string {
	return strings.Join(strings.Fields(query), " ")
}
