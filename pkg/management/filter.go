package management

import (
	"fmt"
	"regexp"
	"strings"
)

// InternalUser is the user recorded on exchanges the broker creates itself.
const InternalUser = "rmq-internal"

// Filter selects exchanges.
type Filter func(Exchange) bool

// NameFilter matches exchanges whose name contains a match of pattern.
// flags are regexp flag letters (any of "imsU"), applied to the whole pattern.
func NameFilter(pattern, flags string) (Filter, error) {
	return fieldFilter(pattern, flags, func(e Exchange) string { return e.Name })
}

// UserFilter matches on the user who created the exchange.
func UserFilter(pattern, flags string) (Filter, error) {
	return fieldFilter(pattern, flags, func(e Exchange) string { return e.User })
}

// VHostFilter matches on the exchange's vhost.
func VHostFilter(pattern, flags string) (Filter, error) {
	return fieldFilter(pattern, flags, func(e Exchange) string { return e.VHost })
}

func fieldFilter(pattern, flags string, field func(Exchange) string) (Filter, error) {
	re, err := compile(pattern, flags)
	if err != nil {
		return nil, err
	}
	return func(e Exchange) bool {
		return re.MatchString(field(e))
	}, nil
}

func compile(pattern, flags string) (*regexp.Regexp, error) {
	flags = strings.TrimSpace(flags)
	if strings.Trim(flags, "imsU") != "" {
		return nil, fmt.Errorf("invalid regexp flags %q: allowed are i, m, s, U", flags)
	}
	if flags != "" {
		pattern = "(?" + flags + ")" + pattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern: %w", err)
	}
	return re, nil
}

// FindMatches returns the exchanges satisfying every filter, in input order.
// Exchanges owned by the broker itself are never returned.
func FindMatches(exchanges []Exchange, filters ...Filter) []Exchange {
	var matches []Exchange
	for _, e := range exchanges {
		if e.User == InternalUser {
			continue
		}
		if matchesAll(e, filters) {
			matches = append(matches, e)
		}
	}
	return matches
}

func matchesAll(e Exchange, filters []Filter) bool {
	for _, f := range filters {
		if !f(e) {
			return false
		}
	}
	return true
}
