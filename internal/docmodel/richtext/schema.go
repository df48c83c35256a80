package richtext

import (
	"encoding/json"

	"collab-sync/internal/docmodel"
)

// Schema is the rich-text document model served by default.
type Schema struct{}

// NewSchema returns the rich-text schema.
func NewSchema() *Schema {
	return &Schema{}
}

func (s *Schema) Name() string {
	return "richtext"
}

func (s *Schema) EmptyDoc() docmodel.Node {
	return NewDoc()
}

func (s *Schema) DocFromJSON(data json.RawMessage) (docmodel.Node, error) {
	return parseDoc(data)
}

func (s *Schema) StepFromJSON(data json.RawMessage) (docmodel.Step, error) {
	return parseStep(data)
}
