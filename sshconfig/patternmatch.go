package sshconfig

import (
	"regexp"
	"strings"
	"unicode"
)

// match compares a single glob pattern against a string. The pattern
// language is the ssh_config one: '*' matches any run of characters,
// '?' a single character and '[set]' one character out of the set.
// Matching is case-sensitive.
func match(value, pattern string) bool {
	if pattern == "*" {
		return true
	}

	if pattern == value {
		return true
	}

	if !strings.ContainsAny(pattern, "*?[") {
		return false
	}

	var sb strings.Builder
	sb.WriteString("^")
	inSet := false
	for _, ch := range pattern {
		switch {
		case inSet:
			sb.WriteRune(ch)
			if ch == ']' {
				inSet = false
			}
		case ch == '*':
			sb.WriteString(".*")
		case ch == '?':
			sb.WriteString(".")
		case ch == '[':
			sb.WriteRune(ch)
			inSet = true
		default:
			if !unicode.IsLetter(ch) && !unicode.IsNumber(ch) {
				sb.WriteRune('\\')
			}
			sb.WriteRune(ch)
		}
	}
	sb.WriteString("$")

	regex, err := regexp.Compile(sb.String())
	if err != nil {
		// an unterminated set or similar never matches anything
		return false
	}

	return regex.MatchString(value)
}

// matchAll returns true if the value matches the combination of multiple
// patterns. A !negated pattern alone never yields a match, there must
// also be a positive match in the combination.
func matchAll(value string, patterns []string) bool {
	var hasPositiveMatch bool

	for _, pattern := range patterns {
		if pattern == "" {
			continue
		}
		negate := strings.HasPrefix(pattern, "!")
		if negate {
			pattern = pattern[1:]
		}

		if match(value, pattern) {
			if negate {
				return false
			}
			hasPositiveMatch = true
		}
	}

	return hasPositiveMatch
}
