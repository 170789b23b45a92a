package flow

import (
	"fmt"
	"io"
	"strings"
)

// WriteDiagram renders the graph as PlantUML text: an entity block per stage
// in registration order tagged with its shape, a blank line, then one
// relation line per edge.
func (g *Graph) WriteDiagram(w io.Writer) error {
	var b strings.Builder

	b.WriteString("@startuml\n")
	b.WriteString("header tickwork\n\n")

	for _, stage := range g.stages {
		fmt.Fprintf(&b, "entity %s {\n", stage.name)
		fmt.Fprintf(&b, "  %s\n", stage.shape)
		b.WriteString("}\n")
	}

	b.WriteString("\n")

	for _, stage := range g.stages {
		for _, next := range stage.outbound {
			fmt.Fprintf(&b, "%s --> %s\n", stage.name, next.name)
		}
	}

	b.WriteString("@enduml\n")

	_, err := io.WriteString(w, b.String())
	return err
}

// Diagram returns the PlantUML rendering of the graph as a string.
func (g *Graph) Diagram() string {
	var b strings.Builder
	// strings.Builder writes cannot fail.
	_ = g.WriteDiagram(&b)
	return b.String()
}
