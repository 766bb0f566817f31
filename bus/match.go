// Copyright (c) The nbus Authors
// SPDX-License-Identifier: BSD-3-Clause

package bus

import "strings"

// A MatchPolicy decides whether a binding's name matches a message
// name. Policies must be pure functions of their arguments: the Bus
// calls them under its lock.
type MatchPolicy interface {
	Match(bindingName, messageName string) bool
}

// ExactMatch matches a binding only when its name equals the message
// name byte for byte. Wildcard bindings never match under this
// policy. This is the default.
var ExactMatch MatchPolicy = exactMatch{}

type exactMatch struct{}

func (exactMatch) Match(bindingName, messageName string) bool {
	return bindingName == messageName
}

// WildcardMatch matches like ExactMatch, but additionally gives
// trailing wildcard components their hierarchical meaning: a binding
// "$.A.*" matches any strictly longer name below "$.A.", while
// "$.A.%" matches names exactly one component below "$.A.".
var WildcardMatch MatchPolicy = wildcardMatch{}

type wildcardMatch struct{}

func (wildcardMatch) Match(bindingName, messageName string) bool {
	last := bindingName[len(bindingName)-1]
	if last != '*' && last != '%' {
		return bindingName == messageName
	}
	stem := bindingName[:len(bindingName)-1] // keeps the trailing dot
	// "$.A.*" needs at least "$.A.x" to match.
	if len(messageName) < len(bindingName) {
		return false
	}
	if !strings.HasPrefix(messageName, stem) {
		return false
	}
	if last == '*' {
		return true
	}
	// '%' stops at the next hierarchy level.
	return !strings.Contains(messageName[len(stem):], ".")
}
