// Package dbgredact decides which fields must be masked before a value is
// dumped. A policy is compiled once from a deny-list of field names and a set
// of /pattern/flags regular expressions, and is then pure: the same key always
// yields the same verdict.
package dbgredact

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Kind distinguishes literal rules from pattern rules.
type Kind int

const (
	// Literal rules match a key exactly.
	Literal Kind = iota

	// Pattern rules match a key with a regular expression.
	Pattern
)

func (k Kind) String() string {
	switch k {
	case Literal:
		return "literal"
	case Pattern:
		return "pattern"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Rule is a single redaction rule.
type Rule struct {
	Kind  Kind
	Value string
	Flags string // pattern rules only, subset of "imsU"
}

// String renders the rule the way it would be configured.
func (r Rule) String() string {
	if r.Kind == Pattern {
		return "/" + r.Value + "/" + r.Flags
	}
	return r.Value
}

// ParseRule parses a configured rule string. Strings of the form
// /pattern/flags are pattern rules, everything else is a literal.
// Supported flags are i (case-insensitive), m (multi-line), s (dot matches
// newline), and U (ungreedy).
func ParseRule(s string) (Rule, error) {
	if len(s) < 2 || s[0] != '/' {
		return Rule{Kind: Literal, Value: s}, nil
	}

	end := strings.LastIndexByte(s, '/')
	if end <= 0 {
		return Rule{Kind: Literal, Value: s}, nil
	}

	pattern, flags := s[1:end], s[end+1:]
	for _, f := range flags {
		if !strings.ContainsRune("imsU", f) {
			return Rule{}, fmt.Errorf("%s: unsupported flag %q", s, f)
		}
	}

	return Rule{Kind: Pattern, Value: pattern, Flags: flags}, nil
}

//
//
//

// Config is the typed form of the redaction configuration.
type Config struct {
	// DenyList is a set of field names which are always masked.
	DenyList []string `yaml:"deny_list"`

	// Patterns are rules in /pattern/flags form. Entries without slashes are
	// treated as additional literals.
	Patterns []string `yaml:"patterns"`

	// CaseSensitive controls how literals are matched. By default, literals
	// match regardless of case. Patterns carry their own flags.
	CaseSensitive bool `yaml:"case_sensitive"`
}

// DefaultDenyList is used by DefaultConfig.
var DefaultDenyList = []string{
	"password",
	"password_confirmation",
	"secret",
	"token",
	"api_key",
	"authorization",
	"cookie",
}

// DefaultConfig returns a config with the default deny-list.
func DefaultConfig() Config {
	return Config{
		DenyList: append([]string(nil), DefaultDenyList...),
	}
}

// LoadFile reads a YAML file with deny_list, patterns, and case_sensitive
// keys.
func LoadFile(path string) (Config, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read redaction rules: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse redaction rules: %w", err)
	}

	return cfg, nil
}

//
//
//

// Policy is a compiled set of rules. A nil policy masks nothing.
type Policy struct {
	caseSensitive bool
	literals      map[string]Rule
	patterns      []compiledRule
}

type compiledRule struct {
	rule Rule
	re   *regexp.Regexp
}

// Nop masks nothing.
var Nop = &Policy{}

// Compile the config into a policy.
func Compile(cfg Config) (*Policy, error) {
	p := &Policy{
		caseSensitive: cfg.CaseSensitive,
		literals:      map[string]Rule{},
	}

	for _, s := range cfg.DenyList {
		p.addLiteral(Rule{Kind: Literal, Value: s})
	}

	for _, s := range cfg.Patterns {
		rule, err := ParseRule(s)
		if err != nil {
			return nil, err
		}

		if rule.Kind == Literal {
			p.addLiteral(rule)
			continue
		}

		expr := rule.Value
		if rule.Flags != "" {
			expr = "(?" + rule.Flags + ")" + expr
		}

		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", rule, err)
		}

		p.patterns = append(p.patterns, compiledRule{rule: rule, re: re})
	}

	return p, nil
}

// MustCompile is like Compile but panics on error.
func MustCompile(cfg Config) *Policy {
	p, err := Compile(cfg)
	if err != nil {
		panic(err)
	}
	return p
}

func (p *Policy) addLiteral(rule Rule) {
	key := rule.Value
	if !p.caseSensitive {
		key = strings.ToLower(key)
	}
	if _, ok := p.literals[key]; !ok {
		p.literals[key] = rule // first wins
	}
}

// Match returns the first rule matching key, checking literals before
// patterns, and patterns in configured order.
func (p *Policy) Match(key string) (Rule, bool) {
	if p == nil {
		return Rule{}, false
	}

	lookup := key
	if !p.caseSensitive {
		lookup = strings.ToLower(key)
	}
	if rule, ok := p.literals[lookup]; ok {
		return rule, true
	}

	for _, cr := range p.patterns {
		if cr.re.MatchString(key) {
			return cr.rule, true
		}
	}

	return Rule{}, false
}

// ShouldMask returns true if the value of a field named key must be masked.
func (p *Policy) ShouldMask(key string) bool {
	_, ok := p.Match(key)
	return ok
}
