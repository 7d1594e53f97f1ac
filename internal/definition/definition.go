// Package definition parses, validates, and re-exports the Game
// Definition content pack: the immutable tree of layers, sublayers,
// sections, and elements a session is built from. Validation is a gate —
// every schema and reference issue is collected and reported together, and
// no partial runtime is ever constructed from an invalid pack.
package definition

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/go-idle/enginecore/internal/noderef"
	"github.com/go-idle/enginecore/internal/statestore"
	"github.com/go-idle/enginecore/internal/unlock"
)

// Format names the content-pack encoding presented to Load.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"

	// supportedSchemaMajor is the only meta.schemaVersion major segment
	// this implementation accepts. Canonical form is "1.0.0" (resolving
	// the spec's open question in favor of the three-part semver form).
	supportedSchemaMajor = "1"
)

// Definition is the validated, immutable-after-load content pack.
type Definition struct {
	SchemaVersion string
	GameID        string
	Systems       map[string]any
	State         map[string]any
	Layers        []Layer
}

// Layer is one top-level entry in Definition.Layers.
type Layer struct {
	ID        string
	Type      string
	Unlock    unlock.Node
	ResetKeep []string
	Softcaps  []Softcap
	Sublayers []Sublayer
}

// Softcap is one entry of a layer's `softcaps[]`.
type Softcap struct {
	TargetRef string
	Key       string
	Kind      string
	Threshold float64
	Params    map[string]float64
}

// Sublayer is one entry of a layer's `sublayers[]`.
type Sublayer struct {
	ID       string
	Unlock   unlock.Node
	Sections []Section
}

// Section is one entry of a sublayer's `sections[]`.
type Section struct {
	ID       string
	Unlock   unlock.Node
	Elements []Element
}

// Element is one entry of a section's `elements[]`.
type Element struct {
	ID              string
	Type            string
	Unlock          unlock.Node
	EffectTargetRef string
}

// Walk visits every node reference in the definition, depth-first, in
// enumeration order: each layer, then its sublayers, sections, and
// elements in array order. This is the canonical order the unlock
// evaluator and the render step both rely on.
func (d *Definition) Walk(visit func(ref string, cond unlock.Node)) {
	for _, l := range d.Layers {
		lref := "layer:" + l.ID
		visit(lref, l.Unlock)
		for _, sub := range l.Sublayers {
			sref := lref + "/sublayer:" + sub.ID
			visit(sref, sub.Unlock)
			for _, sec := range sub.Sections {
				secref := sref + "/section:" + sec.ID
				visit(secref, sec.Unlock)
				for _, el := range sec.Elements {
					elref := secref + "/element:" + el.ID
					visit(elref, el.Unlock)
				}
			}
		}
	}
}

// wire format: what Load actually decodes, before conversion into the
// domain types above. Unlock fields stay untyped (any) because they are
// parsed separately by the unlock package.

type rawDefinition struct {
	Meta    rawMeta        `json:"meta" yaml:"meta"`
	Systems map[string]any `json:"systems,omitempty" yaml:"systems,omitempty"`
	State   map[string]any `json:"state" yaml:"state"`
	Layers  []rawLayer     `json:"layers" yaml:"layers"`
}

type rawMeta struct {
	SchemaVersion string `json:"schemaVersion" yaml:"schemaVersion"`
	GameID        string `json:"gameId" yaml:"gameId"`
}

type rawLayer struct {
	ID        string        `json:"id" yaml:"id"`
	Type      string        `json:"type" yaml:"type"`
	Unlock    any           `json:"unlock,omitempty" yaml:"unlock,omitempty"`
	Reset     *rawReset     `json:"reset,omitempty" yaml:"reset,omitempty"`
	Softcaps  []rawSoftcap  `json:"softcaps,omitempty" yaml:"softcaps,omitempty"`
	Sublayers []rawSublayer `json:"sublayers,omitempty" yaml:"sublayers,omitempty"`
}

type rawReset struct {
	Keep []string `json:"keep,omitempty" yaml:"keep,omitempty"`
}

type rawSoftcap struct {
	Scope     string             `json:"scope" yaml:"scope"`
	Key       string             `json:"key" yaml:"key"`
	Kind      string             `json:"kind" yaml:"kind"`
	Threshold float64            `json:"threshold" yaml:"threshold"`
	Params    map[string]float64 `json:"params,omitempty" yaml:"params,omitempty"`
}

type rawSublayer struct {
	ID       string       `json:"id" yaml:"id"`
	Unlock   any          `json:"unlock,omitempty" yaml:"unlock,omitempty"`
	Sections []rawSection `json:"sections,omitempty" yaml:"sections,omitempty"`
}

type rawSection struct {
	ID       string       `json:"id" yaml:"id"`
	Unlock   any          `json:"unlock,omitempty" yaml:"unlock,omitempty"`
	Elements []rawElement `json:"elements,omitempty" yaml:"elements,omitempty"`
}

type rawElement struct {
	ID     string     `json:"id" yaml:"id"`
	Type   string     `json:"type,omitempty" yaml:"type,omitempty"`
	Unlock any        `json:"unlock,omitempty" yaml:"unlock,omitempty"`
	Effect *rawEffect `json:"effect,omitempty" yaml:"effect,omitempty"`
}

type rawEffect struct {
	TargetRef string `json:"targetRef" yaml:"targetRef"`
}

// Load decodes raw content of the given format and validates it. On any
// schema or reference issue it returns a *ValidationError aggregating
// every issue found; the caller never receives a partially built
// Definition.
func Load(raw []byte, format Format) (*Definition, error) {
	var rd rawDefinition
	var err error
	switch format {
	case FormatJSON:
		err = json.Unmarshal(raw, &rd)
	case FormatYAML:
		err = yaml.Unmarshal(raw, &rd)
	default:
		return nil, &ValidationError{Issues: []Issue{{
			Code:    CodeMalformedInput,
			Message: fmt.Sprintf("unsupported format %q", format),
			Hint:    `use "json" or "yaml"`,
		}}}
	}
	if err != nil {
		return nil, &ValidationError{Issues: []Issue{{
			Code:    CodeMalformedInput,
			Message: err.Error(),
			Hint:    "fix the document's syntax",
		}}}
	}

	def, issues := convert(rd)
	if len(issues) > 0 {
		return nil, &ValidationError{Issues: issues}
	}
	return def, nil
}

func convert(rd rawDefinition) (*Definition, []Issue) {
	var issues []Issue
	def := &Definition{
		SchemaVersion: rd.Meta.SchemaVersion,
		GameID:        rd.Meta.GameID,
		Systems:       rd.Systems,
		State:         rd.State,
	}
	if def.Systems == nil {
		def.Systems = map[string]any{}
	}
	if def.State == nil {
		def.State = map[string]any{}
	}

	if def.SchemaVersion == "" {
		issues = append(issues, Issue{Code: CodeMissingField, Path: "meta.schemaVersion", Message: "schemaVersion is required", Hint: `set meta.schemaVersion, e.g. "1.0.0"`})
	} else if major := strings.SplitN(def.SchemaVersion, ".", 2)[0]; major != supportedSchemaMajor {
		issues = append(issues, Issue{Code: CodeSchemaVersionMismatch, Path: "meta.schemaVersion", Message: fmt.Sprintf("unsupported schema major version %q", major), Hint: fmt.Sprintf("this engine supports schema major version %q", supportedSchemaMajor)})
	}
	if def.GameID == "" {
		issues = append(issues, Issue{Code: CodeMissingField, Path: "meta.gameId", Message: "gameId is required"})
	}

	seenRefs := map[string]bool{}
	layerIDs := map[string]bool{}

	for li, rl := range rd.Layers {
		path := fmt.Sprintf("layers[%d]", li)
		if rl.ID == "" {
			issues = append(issues, Issue{Code: CodeMissingField, Path: path + ".id", Message: "layer id is required"})
			continue
		}
		if layerIDs[rl.ID] {
			issues = append(issues, Issue{Code: CodeDuplicateSiblingID, Path: path + ".id", Message: fmt.Sprintf("duplicate layer id %q", rl.ID), Hint: "sibling ids must be unique"})
		}
		layerIDs[rl.ID] = true
		lref := "layer:" + rl.ID
		seenRefs[lref] = true

		layerUnlock := parseUnlock(rl.Unlock, path+".unlock", &issues)

		var softcaps []Softcap
		for sci, rs := range rl.Softcaps {
			scPath := fmt.Sprintf("%s.softcaps[%d]", path, sci)
			if rs.Key == "" {
				issues = append(issues, Issue{Code: CodeMissingField, Path: scPath + ".key", Message: "softcap key is required"})
			}
			softcaps = append(softcaps, Softcap{TargetRef: rs.Scope, Key: rs.Key, Kind: rs.Kind, Threshold: rs.Threshold, Params: rs.Params})
		}

		var keep []string
		if rl.Reset != nil {
			keep = rl.Reset.Keep
		}

		var sublayers []Sublayer
		subIDs := map[string]bool{}
		for sbi, rsub := range rl.Sublayers {
			sbPath := fmt.Sprintf("%s.sublayers[%d]", path, sbi)
			if rsub.ID == "" {
				issues = append(issues, Issue{Code: CodeMissingField, Path: sbPath + ".id", Message: "sublayer id is required"})
				continue
			}
			if subIDs[rsub.ID] {
				issues = append(issues, Issue{Code: CodeDuplicateSiblingID, Path: sbPath + ".id", Message: fmt.Sprintf("duplicate sublayer id %q under layer %q", rsub.ID, rl.ID)})
			}
			subIDs[rsub.ID] = true
			sref := lref + "/sublayer:" + rsub.ID
			seenRefs[sref] = true

			subUnlock := parseUnlock(rsub.Unlock, sbPath+".unlock", &issues)

			var sections []Section
			secIDs := map[string]bool{}
			for sei, rsec := range rsub.Sections {
				secPath := fmt.Sprintf("%s.sections[%d]", sbPath, sei)
				if rsec.ID == "" {
					issues = append(issues, Issue{Code: CodeMissingField, Path: secPath + ".id", Message: "section id is required"})
					continue
				}
				if secIDs[rsec.ID] {
					issues = append(issues, Issue{Code: CodeDuplicateSiblingID, Path: secPath + ".id", Message: fmt.Sprintf("duplicate section id %q under sublayer %q", rsec.ID, rsub.ID)})
				}
				secIDs[rsec.ID] = true
				secref := sref + "/section:" + rsec.ID
				seenRefs[secref] = true

				secUnlock := parseUnlock(rsec.Unlock, secPath+".unlock", &issues)

				var elements []Element
				elIDs := map[string]bool{}
				for eli, rel := range rsec.Elements {
					elPath := fmt.Sprintf("%s.elements[%d]", secPath, eli)
					if rel.ID == "" {
						issues = append(issues, Issue{Code: CodeMissingField, Path: elPath + ".id", Message: "element id is required"})
						continue
					}
					if elIDs[rel.ID] {
						issues = append(issues, Issue{Code: CodeDuplicateSiblingID, Path: elPath + ".id", Message: fmt.Sprintf("duplicate element id %q under section %q", rel.ID, rsec.ID)})
					}
					elIDs[rel.ID] = true
					elref := secref + "/element:" + rel.ID
					seenRefs[elref] = true

					elUnlock := parseUnlock(rel.Unlock, elPath+".unlock", &issues)
					var targetRef string
					if rel.Effect != nil {
						targetRef = rel.Effect.TargetRef
					}
					elements = append(elements, Element{ID: rel.ID, Type: rel.Type, Unlock: elUnlock, EffectTargetRef: targetRef})
				}
				sections = append(sections, Section{ID: rsec.ID, Unlock: secUnlock, Elements: elements})
			}
			sublayers = append(sublayers, Sublayer{ID: rsub.ID, Unlock: subUnlock, Sections: sections})
		}

		def.Layers = append(def.Layers, Layer{
			ID: rl.ID, Type: rl.Type, Unlock: layerUnlock,
			ResetKeep: keep, Softcaps: softcaps, Sublayers: sublayers,
		})
	}

	// Reference checks run in a second pass, once every valid node
	// reference in the tree is known.
	for li, l := range def.Layers {
		lpath := fmt.Sprintf("layers[%d]", li)
		checkUnlockPaths(l.Unlock, lpath+".unlock", def.State, &issues)
		for sci, sc := range l.Softcaps {
			checkTargetRef(sc.TargetRef, fmt.Sprintf("%s.softcaps[%d].scope", lpath, sci), seenRefs, &issues)
		}
		for sbi, sub := range l.Sublayers {
			sbPath := fmt.Sprintf("%s.sublayers[%d]", lpath, sbi)
			checkUnlockPaths(sub.Unlock, sbPath+".unlock", def.State, &issues)
			for sei, sec := range sub.Sections {
				secPath := fmt.Sprintf("%s.sections[%d]", sbPath, sei)
				checkUnlockPaths(sec.Unlock, secPath+".unlock", def.State, &issues)
				for eli, el := range sec.Elements {
					elPath := fmt.Sprintf("%s.elements[%d]", secPath, eli)
					checkUnlockPaths(el.Unlock, elPath+".unlock", def.State, &issues)
					if el.EffectTargetRef != "" {
						checkTargetRef(el.EffectTargetRef, elPath+".effect.targetRef", seenRefs, &issues)
					}
				}
			}
		}
	}

	if len(issues) > 0 {
		return nil, issues
	}
	return def, nil
}

func parseUnlock(raw any, path string, issues *[]Issue) unlock.Node {
	if raw == nil {
		return unlock.Default()
	}
	node, err := unlock.Parse(raw)
	if err != nil {
		*issues = append(*issues, Issue{
			Code:    CodeUnlockInvalid,
			Path:    path,
			Message: err.Error(),
			Hint:    "check the unlock condition shape against the documented operators",
		})
		return unlock.Default()
	}
	return node
}

func checkTargetRef(raw string, path string, seenRefs map[string]bool, issues *[]Issue) {
	canonical, err := noderef.Normalize(raw)
	if err != nil {
		*issues = append(*issues, Issue{Code: CodeTargetRefInvalid, Path: path, Message: err.Error(), Hint: "use the layer:<id>/sublayer:<id>/... node reference format"})
		return
	}
	if !seenRefs[canonical] {
		*issues = append(*issues, Issue{Code: CodeTargetRefUnresolved, Path: path, Message: fmt.Sprintf("node reference %q does not resolve to any node in this definition", canonical), Hint: "fix the typo or add the missing node"})
	}
}

func checkUnlockPaths(n unlock.Node, path string, state map[string]any, issues *[]Issue) {
	for _, p := range collectUnlockPaths(n) {
		if statestore.IsMissing(statestore.GetPath(state, p)) {
			*issues = append(*issues, Issue{
				Code:    CodeUnlockPathUnresolved,
				Path:    path,
				Message: fmt.Sprintf("unlock condition references canonical state path %q, which has no value in the initial state tree", p),
				Hint:    "add the referenced path under state, or fix the typo",
			})
		}
	}
}

func collectUnlockPaths(n unlock.Node) []string {
	switch v := n.(type) {
	case unlock.ResourceGte:
		return []string{v.Path}
	case unlock.Compare:
		return []string{v.Path}
	case unlock.Flag:
		return []string{v.Path}
	case unlock.All:
		var out []string
		for _, c := range v.Children {
			out = append(out, collectUnlockPaths(c)...)
		}
		return out
	case unlock.Any:
		var out []string
		for _, c := range v.Children {
			out = append(out, collectUnlockPaths(c)...)
		}
		return out
	case unlock.Not:
		return collectUnlockPaths(v.Child)
	default:
		return nil
	}
}
