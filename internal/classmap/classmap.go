// Package classmap implements class-mapping rules (§4.6): a configured
// list of "pattern  class1 class2 …" lines that append classes to a node's
// base Entity when the node's name (or, with ClassMappingsMatchPath,
// storage path) matches pattern. A pattern wrapped in slashes ("/re/") is a
// regular expression whose capture groups may be back-referenced in the
// listed class names; anything else is a shell glob.
//
// Grounded on the reference implementation's reclass/core.py
// (_shlex_split, _match_glob, _match_regexp, _get_class_mappings_entity).
package classmap

import (
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	rerrors "github.com/reclass-go/reclass/internal/errors"
)

// Rule is one parsed class-mapping line.
type Rule struct {
	Pattern string
	Classes []string

	isRegex bool
	re      *regexp.Regexp
}

// Parse parses every non-blank line in lines into a Rule.
func Parse(lines []string) ([]*Rule, error) {
	var rules []*Rule
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		r, err := parseLine(line)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, nil
}

func parseLine(line string) (*Rule, error) {
	trimmed := strings.TrimSpace(line)
	regexQuote := strings.HasPrefix(trimmed, "/")
	toks, err := tokenize(trimmed, regexQuote)
	if err != nil {
		return nil, rerrors.NewMappingFormatError(
			"error in mapping " + quoteForError(line) + ": " + err.Error())
	}
	if len(toks) == 0 {
		return nil, rerrors.NewMappingFormatError("error in mapping " + quoteForError(line) + ": empty rule")
	}

	pattern := toks[0]
	r := &Rule{Classes: toks[1:]}
	if regexQuote {
		r.isRegex = true
		r.Pattern = "/" + pattern + "/"
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, rerrors.NewMappingFormatError(
				"error in mapping " + quoteForError(line) + ": " + err.Error())
		}
		r.re = re
	} else {
		r.Pattern = pattern
	}
	return r, nil
}

func quoteForError(s string) string { return "\"" + s + "\"" }

// tokenize splits s into shell-word-like tokens: whitespace-separated,
// with single and double quotes grouping a token's content. When
// regexSlash is true, "/" is also treated as a quoting character, so a
// leading "/pattern/ classes…" line's first token is the text between the
// slashes (without the slashes themselves) — mirroring the reference
// implementation's shlex configuration for regex mapping keys.
func tokenize(s string, regexSlash bool) ([]string, error) {
	quotes := "'\""
	if regexSlash {
		quotes += "/"
	}
	var toks []string
	i, n := 0, len(s)
	for i < n {
		for i < n && isSpace(s[i]) {
			i++
		}
		if i >= n {
			break
		}
		if strings.IndexByte(quotes, s[i]) >= 0 {
			q := s[i]
			i++
			start := i
			for i < n && s[i] != q {
				i++
			}
			if i >= n {
				return nil, errMissingQuote
			}
			toks = append(toks, s[start:i])
			i++
		} else {
			start := i
			for i < n && !isSpace(s[i]) {
				i++
			}
			toks = append(toks, s[start:i])
		}
	}
	return toks, nil
}

func isSpace(b byte) bool { return b == ' ' || b == '\t' }

type mappingErr string

func (e mappingErr) Error() string { return string(e) }

const errMissingQuote = mappingErr("missing closing quote (or slash)")

// Match reports whether r's pattern matches name, and if so, the class
// list to append — with regex backreferences ($1, ${name}) expanded
// against the match when r is a regex rule. Glob rules append their class
// list verbatim.
func (r *Rule) Match(name string) (classes []string, matched bool, err error) {
	if r.isRegex {
		loc := r.re.FindStringSubmatchIndex(name)
		if loc == nil {
			return nil, false, nil
		}
		out := make([]string, len(r.Classes))
		for i, c := range r.Classes {
			out[i] = string(r.re.ExpandString(nil, c, name, loc))
		}
		return out, true, nil
	}
	ok, err := doublestar.Match(r.Pattern, name)
	if err != nil {
		return nil, false, rerrors.NewMappingFormatError("invalid glob pattern " + quoteForError(r.Pattern) + ": " + err.Error())
	}
	if !ok {
		return nil, false, nil
	}
	return append([]string{}, r.Classes...), true, nil
}

// Resolve runs every rule against name in order, appending each matching
// rule's classes (duplicates suppressed, first occurrence wins order),
// mirroring Classes.append_if_new as used by
// Core._get_class_mappings_entity.
func Resolve(rules []*Rule, name string) ([]string, error) {
	var out []string
	seen := map[string]bool{}
	for _, r := range rules {
		classes, matched, err := r.Match(name)
		if err != nil {
			return nil, err
		}
		if !matched {
			continue
		}
		for _, c := range classes {
			if seen[c] {
				continue
			}
			seen[c] = true
			out = append(out, c)
		}
	}
	return out, nil
}
