// Package vocabulary fixes recurring recognition mistakes in field vocabulary such as
// park, trail and facility names before a transcript is uploaded.
package vocabulary

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
)

const defaultPassLimit = 30

type rule interface {
	Apply(input string) (output string, changed bool)
}

// Rewriter applies an ordered list of substitutions until the text is stable.
type Rewriter struct {
	rules     []rule
	keywords  []string
	passLimit int
}

// Options select the rule sources. Inline rules are applied before rules from the file.
type Options struct {
	Path      string
	Inline    []string
	PassLimit int
}

// New compiles rules from the inline list and the optional rules file. A missing file is
// treated as empty.
func New(opts Options) (*Rewriter, error) {
	passLimit := opts.PassLimit
	if passLimit <= 0 {
		passLimit = defaultPassLimit
	}

	var lines []string
	lines = append(lines, opts.Inline...)
	if path := strings.TrimSpace(opts.Path); path != "" {
		contents, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read vocabulary file %q: %w", path, err)
		default:
			lines = append(lines, strings.Split(string(contents), "\n")...)
		}
	}

	rewriter := &Rewriter{passLimit: passLimit}
	seen := map[string]bool{}
	for index, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		compiled, keyword, err := parseLine(line)
		if err != nil {
			return nil, fmt.Errorf("vocabulary rule %d: %w", index+1, err)
		}
		rewriter.rules = append(rewriter.rules, compiled)
		if keyword != "" && !seen[strings.ToLower(keyword)] {
			seen[strings.ToLower(keyword)] = true
			rewriter.keywords = append(rewriter.keywords, keyword)
		}
	}
	return rewriter, nil
}

// Len is the number of compiled rules.
func (r *Rewriter) Len() int { return len(r.rules) }

// Keywords are the replacement terms of phrase rules. They are passed to the recognizer
// as hints.
func (r *Rewriter) Keywords() []string {
	return append([]string(nil), r.keywords...)
}

// Apply rewrites text. The loop stops once a full pass changes nothing or after the pass limit.
func (r *Rewriter) Apply(text string) (string, error) {
	result := text
	for pass := 0; pass < r.passLimit && len(r.rules) > 0; pass++ {
		changed := false
		for _, rule := range r.rules {
			if next, ok := rule.Apply(result); ok {
				result = next
				changed = true
			}
		}
		if !changed {
			break
		}
	}
	return result, nil
}

func parseLine(line string) (rule, string, error) {
	if isRegexRule(line) {
		compiled, err := parseRegexRule(line)
		return compiled, "", err
	}
	if strings.Contains(line, "=>") {
		return parsePhraseRule(line)
	}
	return nil, "", errors.New("unsupported rule format")
}

// phraseRule replaces a whole-word phrase case-insensitively. Whitespace inside the
// phrase matches any run of whitespace.
type phraseRule struct {
	re          *regexp.Regexp
	replacement string
}

func parsePhraseRule(line string) (rule, string, error) {
	from, to, _ := strings.Cut(line, "=>")
	from = strings.TrimSpace(from)
	to = strings.TrimSpace(to)
	if from == "" {
		return nil, "", errors.New("phrase rule source cannot be empty")
	}

	words := strings.Fields(from)
	for i, word := range words {
		words[i] = regexp.QuoteMeta(word)
	}
	re, err := regexp.Compile(`(?i)\b` + strings.Join(words, `\s+`) + `\b`)
	if err != nil {
		return nil, "", fmt.Errorf("invalid phrase: %w", err)
	}
	return phraseRule{re: re, replacement: to}, to, nil
}

func (r phraseRule) Apply(input string) (string, bool) {
	output := r.re.ReplaceAllLiteralString(input, r.replacement)
	return output, output != input
}

// regexRule is a sed-style s/pattern/replacement/flags rule. Matching is case-insensitive
// unless the c flag is given; without g only the first match is replaced.
type regexRule struct {
	re          *regexp.Regexp
	replacement string
	global      bool
}

func parseRegexRule(line string) (rule, error) {
	delim := line[1]
	pattern, pos, err := parseDelimited(line, 2, delim)
	if err != nil {
		return nil, fmt.Errorf("invalid regex pattern: %w", err)
	}
	replacement, pos, err := parseDelimited(line, pos, delim)
	if err != nil {
		return nil, fmt.Errorf("invalid regex replacement: %w", err)
	}

	ignoreCase := true
	global := false
	var extra strings.Builder
	for _, flag := range strings.TrimSpace(line[pos:]) {
		switch flag {
		case 'i':
			ignoreCase = true
		case 'c':
			ignoreCase = false
		case 'g':
			global = true
		case 'm', 's':
			extra.WriteRune(flag)
		case ' ':
		default:
			return nil, fmt.Errorf("unsupported regex flag %q", flag)
		}
	}

	prefix := extra.String()
	if ignoreCase {
		prefix = "i" + prefix
	}
	if prefix != "" {
		pattern = "(?" + prefix + ")" + pattern
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid regex: %w", err)
	}
	return regexRule{re: re, replacement: replacement, global: global}, nil
}

func (r regexRule) Apply(input string) (string, bool) {
	if r.global {
		output := r.re.ReplaceAllString(input, r.replacement)
		return output, output != input
	}

	match := r.re.FindStringSubmatchIndex(input)
	if match == nil {
		return input, false
	}
	expanded := r.re.ExpandString(nil, r.replacement, input, match)
	output := input[:match[0]] + string(expanded) + input[match[1]:]
	return output, output != input
}

func parseDelimited(line string, start int, delim byte) (string, int, error) {
	var builder strings.Builder
	escaped := false
	for index := start; index < len(line); index++ {
		char := line[index]
		switch {
		case escaped:
			if char != delim {
				builder.WriteByte('\\')
			}
			builder.WriteByte(char)
			escaped = false
		case char == '\\':
			escaped = true
		case char == delim:
			return builder.String(), index + 1, nil
		default:
			builder.WriteByte(char)
		}
	}
	return "", 0, errors.New("unterminated expression")
}

func isRegexRule(line string) bool {
	if len(line) < 2 || line[0] != 's' {
		return false
	}
	c := line[1]
	return !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == ' ' || c == '\t')
}
