package cachecontrol

import "strings"

const fieldName = "cache-control"

// Parse parses a Cache-Control header into a CacheControl.
//
// The input may be either the bare directive list ("public, max-age=60") or a
// full header line ("Cache-Control: public, max-age=60"); the field-name
// prefix is matched case-insensitively and at most one prefix is stripped.
// Text that does not start with a clean prefix is taken as a bare value.
//
// Parse always succeeds: there is no syntax so degenerate that parsing
// aborts. Directives that cannot be understood are left absent, so the worst
// case is a CacheControl with every field absent.
func Parse(headerText string) CacheControl {
	return parseValue(CacheControl{}, stripFieldName(headerText))
}

// ParseValues parses every Cache-Control field line of a message into one
// CacheControl.
//
// §  [...] a list extension, defined in Section 5.6.1 of [HTTP],
// §  that allows for compact definition of comma-separated lists using a
// §  "#" operator [...]
//
// A "#" list may be split across multiple field lines, so the lines are
// folded in order into a single result; a directive repeated across lines is
// subject to the same last-seen-wins policy as repetition within one line.
// The inputs are taken as bare values, e.g. from http.Header.Values.
func ParseValues(values []string) CacheControl {
	var cc CacheControl
	for _, value := range values {
		cc = parseValue(cc, value)
	}
	return cc
}

// stripFieldName removes one leading "Cache-Control:" field-name prefix, if
// present, along with any whitespace following the colon.
func stripFieldName(text string) string {
	trimmed := strings.TrimLeft(text, " \t")
	if len(trimmed) > len(fieldName) &&
		strings.EqualFold(trimmed[:len(fieldName)], fieldName) &&
		strings.HasPrefix(strings.TrimLeft(trimmed[len(fieldName):], " \t"), ":") {
		rest := strings.TrimLeft(trimmed[len(fieldName):], " \t")
		return strings.TrimLeft(rest[1:], " \t")
	}
	return text
}

func parseValue(cc CacheControl, value string) CacheControl {
	for _, token := range directiveTokens(value) {
		name, arg, hasArg := splitDirective(token)
		cc.apply(name, arg, hasArg)
	}
	return cc
}

// splitDirective splits a directive token into its name and argument.
// Only the first "=" separates; an argument may itself contain "=", e.g.
// inside a quoted extension value. The name is normalized for
// case-insensitive comparison and the argument converted to token form.
// hasArg distinguishes "max-stale" from "max-stale=".
func splitDirective(token string) (name, arg string, hasArg bool) {
	if i := strings.IndexByte(token, '='); i >= 0 {
		return directiveName(token[:i]), directiveArgument(token[i+1:]), true
	}
	return directiveName(token), "", false
}

// directiveName returns a normalized name for the given directive.
func directiveName(token string) string {
	// §  [...] to be compared case-insensitively [...]
	return strings.ToLower(token)
}

// directiveArgument returns the directive argument in token form, i.e. it
// converts the argument from "quoted-string" to "token" form if needed.
// Exactly one layer of surrounding quotes is removed; the interior is not
// unescaped beyond that.
func directiveArgument(arg string) string {
	// §  [...] argument that can use both token and quoted-string syntax. [...]
	if len(arg) >= 2 && arg[0] == '"' && arg[len(arg)-1] == '"' {
		return arg[1 : len(arg)-1]
	}
	return arg
}

// apply folds one directive into the CacheControl. The known directive set
// is a closed switch: a later occurrence of a directive overwrites an
// earlier one, and anything unrecognized is ignored.
//
// §  5.2.3.  Extension Directives
// §
// §     The Cache-Control header field can be extended through the use of one
// §     or more extension cache directives.  A cache MUST ignore unrecognized
// §     cache directives.
func (c *CacheControl) apply(name, arg string, hasArg bool) {
	switch name {
	case "public":
		// Presence directives keep their meaning even when a stray
		// argument is attached, so the argument is ignored throughout.
		c.cachability = Public
	case "private":
		c.cachability = Private
	case "no-cache":
		c.cachability = NoCache
	case "no-store":
		c.noStore = true
	case "no-transform":
		c.noTransform = true
	case "must-revalidate":
		c.mustRevalidate = true
	case "proxy-revalidate":
		c.proxyRevalidate = true
	case "only-if-cached":
		c.onlyIfCached = true
	case "immutable":
		c.immutable = true
	case "max-age":
		c.maxAge = parseSeconds(arg)
	case "s-maxage":
		c.sMaxAge = parseSeconds(arg)
	case "min-fresh":
		c.minFresh = parseSeconds(arg)
	case "max-stale":
		if !hasArg {
			c.maxStale = MaxStale{unbounded: true}
			c.hasMaxStale = true
		} else if dur, ok := deltaSeconds(arg); ok {
			c.maxStale = MaxStale{limit: dur}
			c.hasMaxStale = true
		} else {
			// an unparseable limit means absent, not unbounded
			c.maxStale = MaxStale{}
			c.hasMaxStale = false
		}
	}
}

// parseSeconds parses a delta-seconds argument for directives that require
// one. A missing or invalid argument yields absent.
func parseSeconds(arg string) seconds {
	dur, ok := deltaSeconds(arg)
	return seconds{dur: dur, set: ok}
}
