// Package noderef parses, formats, and canonicalizes node reference
// strings: the "layer:<id>/sublayer:<id>/section:<id>/element:<id>" path
// format used throughout the definition, unlock, and modifier packages to
// address one node in a game definition's tree.
package noderef

import (
	"fmt"
	"strings"
)

// scopes is the fixed nesting order a reference's segments must follow.
// A reference may stop early (a layer-only ref is valid) but can never
// skip a level or repeat one.
var scopes = []string{"layer", "sublayer", "section", "element"}

// Code identifies why a reference failed to parse.
type Code string

const (
	CodeEmpty          Code = "empty"
	CodeEmptySegment   Code = "empty-segment"
	CodeBadFormat      Code = "bad-format"
	CodeEmptyID        Code = "empty-id"
	CodeUnknownScope   Code = "unknown-scope"
	CodeDuplicateScope Code = "duplicate-scope"
	CodeOutOfOrder     Code = "out-of-order"
	CodeLayerRequired  Code = "layer-required"
)

// Error reports why a reference could not be parsed, carrying a stable
// Code a caller can switch on alongside the human-readable Message.
type Error struct {
	Code    Code
	Raw     string
	Message string
}

func (e *Error) Error() string { return fmt.Sprintf("noderef: %s", e.Message) }

func fail(code Code, raw, format string, args ...any) *Error {
	return &Error{Code: code, Raw: raw, Message: fmt.Sprintf(format, args...)}
}

// Parsed holds up to four optional scope ids, in required nesting order.
// A zero-value field means that scope is absent; LayerID is the only
// scope every valid Parsed must carry.
type Parsed struct {
	LayerID    string
	SublayerID string
	SectionID  string
	ElementID  string
}

func (p Parsed) idFor(scope string) string {
	switch scope {
	case "layer":
		return p.LayerID
	case "sublayer":
		return p.SublayerID
	case "section":
		return p.SectionID
	case "element":
		return p.ElementID
	default:
		return ""
	}
}

type parsedSegment struct {
	scope string
	id    string
	idx   int
}

// Parse splits raw into its scoped segments. Segments must appear in the
// fixed layer/sublayer/section/element order, each exactly once, with no
// gaps, and the reference must start at the layer scope; a reference may
// stop early but never skip or repeat a scope.
func Parse(raw string) (Parsed, error) {
	if raw == "" {
		return Parsed{}, fail(CodeEmpty, raw, "reference must not be empty")
	}

	var segs []parsedSegment
	seen := map[string]bool{}

	for _, seg := range strings.Split(raw, "/") {
		if seg == "" {
			return Parsed{}, fail(CodeEmptySegment, raw, "%q contains an empty segment", raw)
		}
		scope, id, ok := strings.Cut(seg, ":")
		if !ok {
			return Parsed{}, fail(CodeBadFormat, raw, "segment %q must be of the form \"scope:id\"", seg)
		}
		if id == "" {
			return Parsed{}, fail(CodeEmptyID, raw, "segment %q has an empty id", seg)
		}
		idx := indexOf(scope)
		if idx < 0 {
			return Parsed{}, fail(CodeUnknownScope, raw, "unknown scope %q", scope)
		}
		if seen[scope] {
			return Parsed{}, fail(CodeDuplicateScope, raw, "scope %q appears more than once", scope)
		}
		seen[scope] = true
		segs = append(segs, parsedSegment{scope: scope, id: id, idx: idx})
	}

	for i := 1; i < len(segs); i++ {
		if segs[i].idx <= segs[i-1].idx {
			return Parsed{}, fail(CodeOutOfOrder, raw, "scope %q is out of order", segs[i].scope)
		}
	}
	if segs[0].idx != 0 {
		return Parsed{}, fail(CodeLayerRequired, raw, "reference must start with a layer scope")
	}
	for i := 1; i < len(segs); i++ {
		if segs[i].idx != segs[i-1].idx+1 {
			return Parsed{}, fail(CodeOutOfOrder, raw, "scope %q skips a level", segs[i].scope)
		}
	}

	var p Parsed
	for _, s := range segs {
		switch s.scope {
		case "layer":
			p.LayerID = s.id
		case "sublayer":
			p.SublayerID = s.id
		case "section":
			p.SectionID = s.id
		case "element":
			p.ElementID = s.id
		}
	}
	return p, nil
}

func indexOf(scope string) int {
	for i, s := range scopes {
		if s == scope {
			return i
		}
	}
	return -1
}

// Format renders p back into its canonical "scope:id/..." string. Only
// the contiguous prefix of populated scopes, starting at layer, is
// emitted; Format never emits a gap.
func Format(p Parsed) string {
	var b strings.Builder
	for _, scope := range scopes {
		id := p.idFor(scope)
		if id == "" {
			break
		}
		if b.Len() > 0 {
			b.WriteByte('/')
		}
		b.WriteString(scope)
		b.WriteByte(':')
		b.WriteString(id)
	}
	return b.String()
}

// Normalize trims surrounding whitespace from raw, validates it against
// the scope grammar, and returns its canonical form. "Canonical" here
// means "conforms to the grammar", not "resolves to an existing node" —
// that check belongs to the caller, which alone knows the definition
// tree.
func Normalize(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	p, err := Parse(trimmed)
	if err != nil {
		return "", err
	}
	return Format(p), nil
}
