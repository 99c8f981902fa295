package proxy

import (
	"sync/atomic"

	"github.com/sqlwarden/sqlwarden/internal/bayes"
	"github.com/sqlwarden/sqlwarden/internal/sqlparse"
)

const numQueryTypes = int(sqlparse.TypeUse) + 1

// analyzerStats accumulates the per-process query counters behind the
// /stats surface. All fields are atomics; snapshots are taken lock-free.
type analyzerStats struct {
	analyzed       atomic.Uint64
	forwarded      atomic.Uint64
	blocked        atomic.Uint64
	parseErrors    atomic.Uint64
	internalErrors atomic.Uint64
	whitelistParse atomic.Uint64
	whitelistBlock atomic.Uint64

	byQueryType     [numQueryTypes]atomic.Uint64
	blockedByAttack [bayes.NumAttackTypes]atomic.Uint64
}

// StatsSnapshot is a point-in-time copy of the analyzer's counters.
type StatsSnapshot struct {
	Analyzed        uint64            `json:"analyzed"`
	Forwarded       uint64            `json:"forwarded"`
	Blocked         uint64            `json:"blocked"`
	ParseErrors     uint64            `json:"parse_errors"`
	InternalErrors  uint64            `json:"internal_errors"`
	WhitelistParse  uint64            `json:"whitelist_parse_passes"`
	WhitelistBlock  uint64            `json:"whitelist_block_passes"`
	ByQueryType     map[string]uint64 `json:"by_query_type"`
	BlockedByAttack map[string]uint64 `json:"blocked_by_attack"`
}

// Stats returns the analyzer's cumulative counters.
func (a *Analyzer) Stats() StatsSnapshot {
	s := StatsSnapshot{
		Analyzed:        a.stats.analyzed.Load(),
		Forwarded:       a.stats.forwarded.Load(),
		Blocked:         a.stats.blocked.Load(),
		ParseErrors:     a.stats.parseErrors.Load(),
		InternalErrors:  a.stats.internalErrors.Load(),
		WhitelistParse:  a.stats.whitelistParse.Load(),
		WhitelistBlock:  a.stats.whitelistBlock.Load(),
		ByQueryType:     make(map[string]uint64),
		BlockedByAttack: make(map[string]uint64),
	}
	for i := 0; i < numQueryTypes; i++ {
		if n := a.stats.byQueryType[i].Load(); n > 0 {
			s.ByQueryType[sqlparse.QueryType(i).String()] = n
		}
	}
	for i := 0; i < bayes.NumAttackTypes; i++ {
		if n := a.stats.blockedByAttack[i].Load(); n > 0 {
			s.BlockedByAttack[bayes.AttackType(i).String()] = n
		}
	}
	return s
}
