package richtext

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"collab-sync/internal/docmodel"
)

var (
	ErrOutOfRange      = errors.New("position out of range")
	ErrInvalidDocument = errors.New("invalid document")
	ErrUnknownStepType = errors.New("unknown step type")
)

// Mark is an inline annotation (strong, em, link...) applied to a run of text.
type Mark struct {
	Type string `json:"type"`
}

// TextRun is a maximal stretch of text sharing the same set of marks.
type TextRun struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Marks []Mark `json:"marks,omitempty"`
}

// Text builds a run with the given marks.
func Text(text string, marks ...string) TextRun {
	run := TextRun{Type: "text", Text: text}
	for _, m := range marks {
		run.Marks = append(run.Marks, Mark{Type: m})
	}
	return run
}

type docJSON struct {
	Type    string    `json:"type"`
	Content []TextRun `json:"content"`
}

// Doc is a flat rich-text document: a sequence of characters, each carrying a
// sorted set of mark types. Positions address the gaps between characters,
// from 0 to Len(). Doc values are never mutated after construction.
type Doc struct {
	text  []rune
	marks [][]string
}

// NewDoc builds a document from runs.
func NewDoc(runs ...TextRun) *Doc {
	d := &Doc{}
	d.text, d.marks = expandRuns(runs)
	return d
}

func expandRuns(runs []TextRun) ([]rune, [][]string) {
	var text []rune
	var marks [][]string
	for _, run := range runs {
		set := markSet(run.Marks)
		for _, r := range run.Text {
			text = append(text, r)
			marks = append(marks, set)
		}
	}
	return text, marks
}

func markSet(marks []Mark) []string {
	if len(marks) == 0 {
		return nil
	}
	set := make([]string, 0, len(marks))
	for _, m := range marks {
		set = addToSet(set, m.Type)
	}
	return set
}

func addToSet(set []string, mark string) []string {
	i := sort.SearchStrings(set, mark)
	if i < len(set) && set[i] == mark {
		return set
	}
	out := make([]string, 0, len(set)+1)
	out = append(out, set[:i]...)
	out = append(out, mark)
	return append(out, set[i:]...)
}

func removeFromSet(set []string, mark string) []string {
	i := sort.SearchStrings(set, mark)
	if i >= len(set) || set[i] != mark {
		return set
	}
	if len(set) == 1 {
		return nil
	}
	out := make([]string, 0, len(set)-1)
	out = append(out, set[:i]...)
	return append(out, set[i+1:]...)
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Len is the number of characters in the document.
func (d *Doc) Len() int {
	return len(d.text)
}

// String returns the plain text content.
func (d *Doc) String() string {
	return string(d.text)
}

// MarksAt returns the mark types on the character at index i.
func (d *Doc) MarksAt(i int) []string {
	if i < 0 || i >= len(d.marks) {
		return nil
	}
	return append([]string(nil), d.marks[i]...)
}

// NodeSize counts the opening and closing doc tokens around the content.
func (d *Doc) NodeSize() int {
	return len(d.text) + 2
}

// Runs returns the content between from and to as maximal runs.
func (d *Doc) Runs(from, to int) []TextRun {
	runs := []TextRun{}
	for i := from; i < to; {
		j := i + 1
		for j < to && sameSet(d.marks[j], d.marks[i]) {
			j++
		}
		run := TextRun{Type: "text", Text: string(d.text[i:j])}
		for _, m := range d.marks[i] {
			run.Marks = append(run.Marks, Mark{Type: m})
		}
		runs = append(runs, run)
		i = j
	}
	return runs
}

func (d *Doc) ToJSON() (json.RawMessage, error) {
	return json.Marshal(docJSON{Type: "doc", Content: d.Runs(0, len(d.text))})
}

// Equal reports whether two documents have the same text and marks.
func (d *Doc) Equal(other *Doc) bool {
	if other == nil || len(d.text) != len(other.text) {
		return false
	}
	for i := range d.text {
		if d.text[i] != other.text[i] || !sameSet(d.marks[i], other.marks[i]) {
			return false
		}
	}
	return true
}

func (d *Doc) checkRange(from, to int) error {
	if from < 0 || to < from || to > len(d.text) {
		return fmt.Errorf("%w: [%d, %d] in document of length %d", ErrOutOfRange, from, to, len(d.text))
	}
	return nil
}

func asDoc(node docmodel.Node) (*Doc, error) {
	doc, ok := node.(*Doc)
	if !ok || doc == nil {
		return nil, fmt.Errorf("%w: expected *richtext.Doc, got %T", ErrInvalidDocument, node)
	}
	return doc, nil
}

func parseDoc(data json.RawMessage) (*Doc, error) {
	var raw docJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if raw.Type != "doc" {
		return nil, fmt.Errorf("%w: root type %q", ErrInvalidDocument, raw.Type)
	}
	if err := validateRuns(raw.Content); err != nil {
		return nil, err
	}
	return NewDoc(raw.Content...), nil
}

func validateRuns(runs []TextRun) error {
	for _, run := range runs {
		if run.Type != "text" {
			return fmt.Errorf("%w: node type %q", ErrInvalidDocument, run.Type)
		}
		for _, m := range run.Marks {
			if m.Type == "" {
				return fmt.Errorf("%w: empty mark type", ErrInvalidDocument)
			}
		}
	}
	return nil
}
