package routes

import (
	"fmt"
	"strings"
)

// Template is a parsed path pattern. Segments are either literal or a
// named :param capturing one whole path segment.
type Template struct {
	raw           string
	segments      []segment
	literalPrefix string
}

type segment struct {
	literal string
	param   string
}

// ParseTemplate parses a pattern such as /api/example/:id.
func ParseTemplate(pattern string) (*Template, error) {
	if pattern == "" || pattern[0] != '/' {
		return nil, fmt.Errorf("pattern must start with '/': %q", pattern)
	}

	trimmed := strings.TrimSuffix(pattern, "/")
	if trimmed == "" {
		// Root pattern.
		return &Template{raw: pattern, literalPrefix: "/"}, nil
	}

	parts := strings.Split(trimmed[1:], "/")
	segments := make([]segment, 0, len(parts))
	seen := make(map[string]bool)

	prefixDone := false
	var prefix strings.Builder

	for _, part := range parts {
		if part == "" {
			return nil, fmt.Errorf("pattern contains empty segment: %q", pattern)
		}
		if strings.HasPrefix(part, ":") {
			name := part[1:]
			if name == "" {
				return nil, fmt.Errorf("pattern contains unnamed parameter: %q", pattern)
			}
			if strings.Contains(name, ":") {
				return nil, fmt.Errorf("invalid parameter name %q", part)
			}
			if seen[name] {
				return nil, fmt.Errorf("duplicate parameter %q", name)
			}
			seen[name] = true
			segments = append(segments, segment{param: name})
			prefixDone = true
			continue
		}
		if strings.Contains(part, ":") {
			return nil, fmt.Errorf("':' only allowed at segment start: %q", part)
		}
		segments = append(segments, segment{literal: part})
		if !prefixDone {
			prefix.WriteString("/")
			prefix.WriteString(part)
		}
	}

	literalPrefix := prefix.String()
	if literalPrefix == "" {
		literalPrefix = "/"
	}

	return &Template{
		raw:           pattern,
		segments:      segments,
		literalPrefix: literalPrefix,
	}, nil
}

// String returns the original pattern.
func (t *Template) String() string {
	return t.raw
}

// LiteralPrefix returns the leading literal portion of the pattern, used
// for match precedence.
func (t *Template) LiteralPrefix() string {
	return t.literalPrefix
}

// Match checks the path against the template and extracts parameters.
func (t *Template) Match(path string) (map[string]string, bool) {
	trimmed := strings.TrimSuffix(path, "/")
	if trimmed == "" {
		trimmed = "/"
	}

	if len(t.segments) == 0 {
		if trimmed == "/" {
			return map[string]string{}, true
		}
		return nil, false
	}

	if trimmed == "/" || trimmed[0] != '/' {
		return nil, false
	}

	parts := strings.Split(trimmed[1:], "/")
	if len(parts) != len(t.segments) {
		return nil, false
	}

	params := make(map[string]string)
	for i, seg := range t.segments {
		if seg.param != "" {
			if parts[i] == "" {
				return nil, false
			}
			params[seg.param] = parts[i]
			continue
		}
		if seg.literal != parts[i] {
			return nil, false
		}
	}
	return params, true
}

// Remainder returns the part of a matching path after the literal prefix.
// It is what gets appended to the target when forwarding.
func (t *Template) Remainder(path string) string {
	if t.literalPrefix == "/" {
		return path
	}
	rest := strings.TrimPrefix(path, t.literalPrefix)
	if rest == path {
		return path
	}
	return rest
}
