package definition

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/go-idle/enginecore/internal/unlock"
)

// ExportDOT renders the definition's layer/sublayer/section/element
// hierarchy as Graphviz DOT, shading a node that unlocked is true for
// (when unlocked is non-nil). It performs no file I/O; the caller decides
// what to do with the returned text.
func ExportDOT(def *Definition, unlocked map[string]bool) string {
	var buf bytes.Buffer
	buf.WriteString("digraph GameDefinition {\n  rankdir=TB;\n  node [shape=box, fontsize=10, style=\"rounded,filled\"];\n\n")

	def.Walk(func(ref string, _ unlock.Node) {
		fill := "white"
		if unlocked != nil && unlocked[ref] {
			fill = "lightgreen"
		}
		fmt.Fprintf(&buf, "  %q [label=%q, fillcolor=%q];\n", ref, ref, fill)
	})

	for _, l := range def.Layers {
		lref := "layer:" + l.ID
		for _, sub := range l.Sublayers {
			sref := lref + "/sublayer:" + sub.ID
			fmt.Fprintf(&buf, "  %q -> %q;\n", lref, sref)
			for _, sec := range sub.Sections {
				secref := sref + "/section:" + sec.ID
				fmt.Fprintf(&buf, "  %q -> %q;\n", sref, secref)
				for _, el := range sec.Elements {
					elref := secref + "/element:" + el.ID
					fmt.Fprintf(&buf, "  %q -> %q;\n", secref, elref)
				}
			}
		}
	}

	buf.WriteString("}\n")
	return buf.String()
}

// exportableNode mirrors the UI tree shape for ExportJSON, independent of
// the unlock filtering the engine's render step applies.
type exportableNode struct {
	ID       string           `json:"id"`
	Type     string           `json:"type,omitempty"`
	NodeRef  string           `json:"nodeRef"`
	Children []exportableNode `json:"children,omitempty"`
}

// ExportJSON serializes the full (unfiltered) definition hierarchy as a
// plain node tree, for host-side debugging or documentation.
func ExportJSON(def *Definition) ([]byte, error) {
	var layers []exportableNode
	for _, l := range def.Layers {
		lref := "layer:" + l.ID
		var sublayers []exportableNode
		for _, sub := range l.Sublayers {
			sref := lref + "/sublayer:" + sub.ID
			var sections []exportableNode
			for _, sec := range sub.Sections {
				secref := sref + "/section:" + sec.ID
				var elements []exportableNode
				for _, el := range sec.Elements {
					elements = append(elements, exportableNode{ID: el.ID, Type: el.Type, NodeRef: secref + "/element:" + el.ID})
				}
				sections = append(sections, exportableNode{ID: sec.ID, NodeRef: secref, Children: elements})
			}
			sublayers = append(sublayers, exportableNode{ID: sub.ID, NodeRef: sref, Children: sections})
		}
		layers = append(layers, exportableNode{ID: l.ID, Type: l.Type, NodeRef: lref, Children: sublayers})
	}
	return json.MarshalIndent(layers, "", "  ")
}
