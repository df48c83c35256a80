package docmodel

import "encoding/json"

/*
LEARNING: THE DOCUMENT MODEL IS A COLLABORATOR

The collaboration core never looks inside a document or a step. It only needs
to:
1. Serialize a document to its portable tree form (storage, wire)
2. Rebuild a document or a step from that form
3. Apply a step to get a new document
4. Invert a step (undo support for clients and automation)

Any editor schema that can do those four things can be synchronized.
*/

// Node is an immutable document value.
type Node interface {
	ToJSON() (json.RawMessage, error)
	// NodeSize is the size of the node in the model's position space.
	NodeSize() int
}

// Step is an atomic, invertible document edit.
type Step interface {
	// Apply returns the document produced by this step. The input is left untouched.
	Apply(doc Node) (Node, error)
	// Invert returns the step that undoes this one when applied to the result of Apply(doc).
	Invert(doc Node) (Step, error)
	ToJSON() (json.RawMessage, error)
}

// Schema builds documents and steps from their portable form.
type Schema interface {
	Name() string
	EmptyDoc() Node
	DocFromJSON(data json.RawMessage) (Node, error)
	StepFromJSON(data json.RawMessage) (Step, error)
}

// StepsToJSON serializes steps in order.
func StepsToJSON(steps []Step) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, 0, len(steps))
	for _, step := range steps {
		raw, err := step.ToJSON()
		if err != nil {
			return nil, err
		}
		out = append(out, raw)
	}
	return out, nil
}

// StepsFromJSON parses a batch of steps, failing on the first invalid one.
func StepsFromJSON(schema Schema, raw []json.RawMessage) ([]Step, error) {
	steps := make([]Step, 0, len(raw))
	for _, r := range raw {
		step, err := schema.StepFromJSON(r)
		if err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}
	return steps, nil
}
