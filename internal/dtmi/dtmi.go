// Package dtmi implements the Digital Twin Model Identifier key space.
//
// A canonical identifier looks like "dtmi:com:example:Pump;1": the scheme
// prefix, one or more colon separated path segments, and a positive integer
// version after a semicolon. Any other string is an artifact-local key that
// has to be stitched to a twin before it can be resolved.
package dtmi

import (
	"fmt"
	"strconv"
	"strings"
)

// Prefix is the scheme every identifier starts with.
const Prefix = "dtmi:"

// ID is a parsed identifier.
type ID struct {
	// Path holds the colon separated segments after the scheme.
	Path []string

	// Version is the value after the semicolon. Always positive.
	Version int
}

// String renders the identifier in canonical form.
func (id ID) String() string {
	return Prefix + strings.Join(id.Path, ":") + ";" + strconv.Itoa(id.Version)
}

// IsDTMI reports whether s has the lexical shape of an identifier.
// Only the scheme prefix is checked; resolution treats any such key as a
// direct reference to a twin.
func IsDTMI(s string) bool {
	return strings.HasPrefix(s, Prefix)
}

// IsCanonical reports whether s parses as a fully formed identifier.
func IsCanonical(s string) bool {
	_, err := Parse(s)
	return err == nil
}

// Parse validates s and splits it into path and version.
func Parse(s string) (ID, error) {
	if !IsDTMI(s) {
		return ID{}, fmt.Errorf("missing %q prefix: %q", Prefix, s)
	}

	body := strings.TrimPrefix(s, Prefix)
	semi := strings.LastIndexByte(body, ';')
	if semi < 0 {
		return ID{}, fmt.Errorf("missing version suffix: %q", s)
	}

	version, err := strconv.Atoi(body[semi+1:])
	if err != nil || version <= 0 {
		return ID{}, fmt.Errorf("version must be a positive integer: %q", s)
	}

	path := strings.Split(body[:semi], ":")
	for _, segment := range path {
		if !validSegment(segment) {
			return ID{}, fmt.Errorf("invalid path segment %q in %q", segment, s)
		}
	}

	return ID{Path: path, Version: version}, nil
}

// validSegment accepts letters, digits and underscores, starting with a
// letter and not ending with an underscore.
func validSegment(segment string) bool {
	if segment == "" {
		return false
	}
	for i, r := range segment {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case (r >= '0' && r <= '9') || r == '_':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return segment[len(segment)-1] != '_'
}
