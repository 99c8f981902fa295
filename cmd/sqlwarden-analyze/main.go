// Command sqlwarden-analyze runs the query-analysis pipeline offline: it
// reads queries (one per line) from a file or stdin, prints their risk
// features, and, when the Bayesian network files are available, the attack
// posteriors. Useful for tuning thresholds and building whitelist files.
package main

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	flags "github.com/jessevdk/go-flags"

	"github.com/sqlwarden/sqlwarden/internal/bayes"
	"github.com/sqlwarden/sqlwarden/internal/classify"
	"github.com/sqlwarden/sqlwarden/internal/sensitive"
	"github.com/sqlwarden/sqlwarden/internal/sqlparse"
)

type options struct {
	NetworkDir string `long:"network-dir" description:"Directory holding the Bayesian network files (omit to skip classification)"`
	Quiet      bool   `short:"q" long:"quiet" description:"Skip the query text and risk features; print only the attack posteriors"`
	Args       struct {
		File string `positional-arg-name:"file"`
	} `positional-args:"yes"`
}

func main() {
	var opts options
	if _, err := flags.ParseArgs(&opts, os.Args[1:]); err != nil {
		os.Exit(1)
	}

	in := os.Stdin
	if opts.Args.File != "" {
		f, err := os.Open(opts.Args.File)
		if err != nil {
			log.Fatalf("Unable to open %s: %v", opts.Args.File, err)
		}
		defer f.Close()
		in = f
	}

	checker, err := sensitive.New(sensitive.Defaults())
	if err != nil {
		log.Fatalf("Sensitive-name policy: %v", err)
	}

	var classifier *classify.Classifier
	if opts.NetworkDir != "" {
		eval, err := bayes.Load(opts.NetworkDir)
		if err != nil {
			log.Fatalf("Loading networks: %v", err)
		}
		classifier = classify.New(eval, 0, 0)
	}

	var (
		total      int
		parsed     int
		blocked    int
		typeCounts = map[sqlparse.QueryType]int{}
	)

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		query := scanner.Text()
		if strings.TrimSpace(query) == "" || strings.HasPrefix(query, "#") {
			continue
		}
		total++
		analyzeOne(query, checker, classifier, &parsed, &blocked, typeCounts, opts.Quiet)
	}
	if err := scanner.Err(); err != nil && err != io.EOF {
		log.Fatalf("Reading queries: %v", err)
	}

	fmt.Printf("\n%d queries, %d parsed, %d failed", total, parsed, total-parsed)
	if classifier != nil {
		fmt.Printf(", %d would block", blocked)
	}
	fmt.Println()
	for t, n := range typeCounts {
		fmt.Printf("  %s: %d\n", t, n)
	}
}

func analyzeOne(
	query string,
	checker *sensitive.Checker,
	classifier *classify.Classifier,
	parsed, blocked *int,
	typeCounts map[sqlparse.QueryType]int,
	quiet bool,
) {
	res := sqlparse.Analyze(query, checker)
	if !res.OK() {
		fmt.Printf("parse error: %v\n  %s\n", res.Err, query)
		return
	}
	*parsed++
	typeCounts[res.Risk.QueryType]++

	if !quiet {
		fmt.Println(query)
		fmt.Print(res.Risk)
	}

	if classifier == nil {
		return
	}
	assessment, err := classifier.Evaluate(res.Risk)
	if err != nil {
		fmt.Printf("classification error: %v\n", err)
		return
	}
	for _, s := range assessment.Scores {
		marker := ""
		if s.Posterior >= classifier.BlockThreshold() {
			marker = "  <- BLOCK"
		}
		fmt.Printf("  %-22s %.4f%s\n", s.Attack, s.Posterior, marker)
	}
	if assessment.Blocked {
		*blocked++
	}
}
