package bayes

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ParseHugin reads the plain-text Hugin .net dialect: a "net" header block,
// "node" declarations with named states, and "potential" blocks carrying the
// conditional probability tables. Only the constructs the network files use
// are recognised; anything else inside a block is skipped by key.
func ParseHugin(src string) (*Network, error) {
	s := &huginScanner{src: src}
	net := &Network{index: make(map[string]int)}
	potentials := 0

	for {
		word, err := s.nextWord()
		if err != nil {
			if errors.Is(err, errHuginEOF) {
				break
			}
			return nil, err
		}
		switch word {
		case "net":
			if err := s.skipBlock(); err != nil {
				return nil, err
			}
		case "node":
			if err := parseHuginNode(s, net); err != nil {
				return nil, err
			}
		case "potential":
			if err := parseHuginPotential(s, net); err != nil {
				return nil, err
			}
			potentials++
		default:
			return nil, fmt.Errorf("hugin: unexpected %q at top level", word)
		}
	}

	if len(net.Nodes) == 0 {
		return nil, fmt.Errorf("hugin: no nodes declared")
	}
	if potentials != len(net.Nodes) {
		return nil, fmt.Errorf("hugin: %d nodes but %d potentials", len(net.Nodes), potentials)
	}
	if err := net.validate(); err != nil {
		return nil, fmt.Errorf("hugin: %w", err)
	}
	return net, nil
}

func parseHuginNode(s *huginScanner, net *Network) error {
	name, err := s.nextWord()
	if err != nil {
		return fmt.Errorf("hugin: node name: %w", err)
	}
	if _, ok := net.index[name]; ok {
		return fmt.Errorf("hugin: duplicate node %q", name)
	}
	node := &Node{Name: name}

	if err := s.expect('{'); err != nil {
		return err
	}
	for {
		tok, err := s.next()
		if err != nil {
			return err
		}
		if tok.ch == '}' {
			break
		}
		if tok.word == "states" {
			if err := s.expect('='); err != nil {
				return err
			}
			if err := s.expect('('); err != nil {
				return err
			}
			for {
				t, err := s.next()
				if err != nil {
					return err
				}
				if t.ch == ')' {
					break
				}
				if t.str == "" && t.word == "" {
					return fmt.Errorf("hugin: bad state name in node %q", name)
				}
				state := t.str
				if state == "" {
					state = t.word
				}
				node.States = append(node.States, state)
			}
			if err := s.expect(';'); err != nil {
				return err
			}
			continue
		}
		// Any other key (label, position, ...) runs to its semicolon.
		if err := s.skipToSemicolon(); err != nil {
			return err
		}
	}

	net.index[name] = len(net.Nodes)
	net.Nodes = append(net.Nodes, node)
	return nil
}

func parseHuginPotential(s *huginScanner, net *Network) error {
	if err := s.expect('('); err != nil {
		return err
	}
	childName, err := s.nextWord()
	if err != nil {
		return err
	}
	child, ok := net.index[childName]
	if !ok {
		return fmt.Errorf("hugin: potential for unknown node %q", childName)
	}
	node := net.Nodes[child]

	tok, err := s.next()
	if err != nil {
		return err
	}
	switch tok.ch {
	case ')':
	case '|':
		for {
			t, err := s.next()
			if err != nil {
				return err
			}
			if t.ch == ')' {
				break
			}
			if t.word == "" {
				return fmt.Errorf("hugin: bad parent name for node %q", childName)
			}
			parent, ok := net.index[t.word]
			if !ok {
				return fmt.Errorf("hugin: unknown parent %q of node %q", t.word, childName)
			}
			node.Parents = append(node.Parents, parent)
		}
	default:
		return fmt.Errorf("hugin: malformed potential header for %q", childName)
	}

	if err := s.expect('{'); err != nil {
		return err
	}
	for {
		tok, err := s.next()
		if err != nil {
			return err
		}
		if tok.ch == '}' {
			break
		}
		if tok.word == "data" {
			if err := s.expect('='); err != nil {
				return err
			}
			data, err := s.readNumbers()
			if err != nil {
				return fmt.Errorf("hugin: data for %q: %w", childName, err)
			}
			node.CPT = data
			if err := s.expect(';'); err != nil {
				return err
			}
			continue
		}
		if err := s.skipToSemicolon(); err != nil {
			return err
		}
	}
	return nil
}

var errHuginEOF = errors.New("hugin: end of input")

type huginToken struct {
	ch   byte   // punctuation, 0 when word/str set
	word string // identifier or number
	str  string // quoted string
}

type huginScanner struct {
	src string
	pos int
}

func (s *huginScanner) skipSpace() {
	for s.pos < len(s.src) {
		c := s.src[s.pos]
		if c == ' ' || c == '\t' || c == '\r' || c == '\n' {
			s.pos++
			continue
		}
		// Hugin files may carry % comments to end of line.
		if c == '%' {
			for s.pos < len(s.src) && s.src[s.pos] != '\n' {
				s.pos++
			}
			continue
		}
		return
	}
}

func (s *huginScanner) next() (huginToken, error) {
	s.skipSpace()
	if s.pos >= len(s.src) {
		return huginToken{}, errHuginEOF
	}
	c := s.src[s.pos]
	switch c {
	case '{', '}', '(', ')', '=', ';', '|':
		s.pos++
		return huginToken{ch: c}, nil
	case '"':
		s.pos++
		start := s.pos
		for s.pos < len(s.src) && s.src[s.pos] != '"' {
			s.pos++
		}
		if s.pos >= len(s.src) {
			return huginToken{}, fmt.Errorf("hugin: unterminated string")
		}
		str := s.src[start:s.pos]
		s.pos++
		return huginToken{str: str}, nil
	}
	start := s.pos
	for s.pos < len(s.src) {
		c := s.src[s.pos]
		if c == ' ' || c == '\t' || c == '\r' || c == '\n' ||
			c == '{' || c == '}' || c == '(' || c == ')' || c == '=' || c == ';' || c == '|' || c == '"' || c == '%' {
			break
		}
		s.pos++
	}
	if start == s.pos {
		return huginToken{}, fmt.Errorf("hugin: unexpected character %q", s.src[s.pos])
	}
	return huginToken{word: s.src[start:s.pos]}, nil
}

func (s *huginScanner) nextWord() (string, error) {
	tok, err := s.next()
	if err != nil {
		return "", err
	}
	if tok.word == "" {
		return "", fmt.Errorf("hugin: expected word, got %q", tok.ch)
	}
	return tok.word, nil
}

func (s *huginScanner) expect(ch byte) error {
	tok, err := s.next()
	if err != nil {
		return err
	}
	if tok.ch != ch {
		return fmt.Errorf("hugin: expected %q, got %q%s", ch, tok.ch, tok.word)
	}
	return nil
}

// skipBlock consumes a balanced { ... } block.
func (s *huginScanner) skipBlock() error {
	if err := s.expect('{'); err != nil {
		return err
	}
	depth := 1
	for depth > 0 {
		tok, err := s.next()
		if err != nil {
			return err
		}
		switch tok.ch {
		case '{':
			depth++
		case '}':
			depth--
		}
	}
	return nil
}

func (s *huginScanner) skipToSemicolon() error {
	for {
		tok, err := s.next()
		if err != nil {
			return err
		}
		if tok.ch == ';' {
			return nil
		}
	}
}

// readNumbers flattens the nested parenthesised data list into a float
// slice, preserving file order.
func (s *huginScanner) readNumbers() ([]float64, error) {
	var out []float64
	depth := 0
	for {
		tok, err := s.next()
		if err != nil {
			return nil, err
		}
		switch {
		case tok.ch == '(':
			depth++
		case tok.ch == ')':
			depth--
			if depth == 0 {
				if len(out) == 0 {
					return nil, fmt.Errorf("empty data block")
				}
				return out, nil
			}
		case tok.word != "":
			f, err := strconv.ParseFloat(strings.TrimSuffix(tok.word, ","), 64)
			if err != nil {
				return nil, fmt.Errorf("bad number %q", tok.word)
			}
			out = append(out, f)
		default:
			return nil, fmt.Errorf("unexpected token in data block")
		}
	}
}
