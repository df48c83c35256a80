package richtext

import (
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"collab-sync/internal/docmodel"
)

type sliceJSON struct {
	Content []TextRun `json:"content"`
}

type stepJSON struct {
	StepType string     `json:"stepType"`
	From     int        `json:"from"`
	To       int        `json:"to"`
	Slice    *sliceJSON `json:"slice,omitempty"`
	Mark     *Mark      `json:"mark,omitempty"`
}

// ReplaceStep replaces the range [From, To) with Slice. Inserts use From == To,
// deletes use an empty Slice.
type ReplaceStep struct {
	From  int
	To    int
	Slice []TextRun
}

func (s *ReplaceStep) sliceLen() int {
	n := 0
	for _, run := range s.Slice {
		n += utf8.RuneCountInString(run.Text)
	}
	return n
}

func (s *ReplaceStep) Apply(node docmodel.Node) (docmodel.Node, error) {
	doc, err := asDoc(node)
	if err != nil {
		return nil, err
	}
	if err := doc.checkRange(s.From, s.To); err != nil {
		return nil, err
	}

	insText, insMarks := expandRuns(s.Slice)
	size := len(doc.text) - (s.To - s.From) + len(insText)

	out := &Doc{
		text:  make([]rune, 0, size),
		marks: make([][]string, 0, size),
	}
	out.text = append(out.text, doc.text[:s.From]...)
	out.text = append(out.text, insText...)
	out.text = append(out.text, doc.text[s.To:]...)
	out.marks = append(out.marks, doc.marks[:s.From]...)
	out.marks = append(out.marks, insMarks...)
	out.marks = append(out.marks, doc.marks[s.To:]...)
	return out, nil
}

func (s *ReplaceStep) Invert(node docmodel.Node) (docmodel.Step, error) {
	doc, err := asDoc(node)
	if err != nil {
		return nil, err
	}
	if err := doc.checkRange(s.From, s.To); err != nil {
		return nil, err
	}
	return &ReplaceStep{
		From:  s.From,
		To:    s.From + s.sliceLen(),
		Slice: doc.Runs(s.From, s.To),
	}, nil
}

func (s *ReplaceStep) ToJSON() (json.RawMessage, error) {
	content := s.Slice
	if content == nil {
		content = []TextRun{}
	}
	return json.Marshal(stepJSON{
		StepType: "replace",
		From:     s.From,
		To:       s.To,
		Slice:    &sliceJSON{Content: content},
	})
}

// MarkStep adds or removes a mark over [From, To).
type MarkStep struct {
	Add  bool
	From int
	To   int
	Mark string
}

func (s *MarkStep) Apply(node docmodel.Node) (docmodel.Node, error) {
	doc, err := asDoc(node)
	if err != nil {
		return nil, err
	}
	if err := doc.checkRange(s.From, s.To); err != nil {
		return nil, err
	}

	out := &Doc{
		text:  doc.text,
		marks: make([][]string, len(doc.marks)),
	}
	copy(out.marks, doc.marks)
	for i := s.From; i < s.To; i++ {
		if s.Add {
			out.marks[i] = addToSet(out.marks[i], s.Mark)
		} else {
			out.marks[i] = removeFromSet(out.marks[i], s.Mark)
		}
	}
	return out, nil
}

func (s *MarkStep) Invert(node docmodel.Node) (docmodel.Step, error) {
	doc, err := asDoc(node)
	if err != nil {
		return nil, err
	}
	if err := doc.checkRange(s.From, s.To); err != nil {
		return nil, err
	}
	// Only exact when the range was uniformly (un)marked before the step.
	return &MarkStep{Add: !s.Add, From: s.From, To: s.To, Mark: s.Mark}, nil
}

func (s *MarkStep) ToJSON() (json.RawMessage, error) {
	stepType := "removeMark"
	if s.Add {
		stepType = "addMark"
	}
	return json.Marshal(stepJSON{
		StepType: stepType,
		From:     s.From,
		To:       s.To,
		Mark:     &Mark{Type: s.Mark},
	})
}

func parseStep(data json.RawMessage) (docmodel.Step, error) {
	var raw stepJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid step: %w", err)
	}

	switch raw.StepType {
	case "replace":
		step := &ReplaceStep{From: raw.From, To: raw.To}
		if raw.Slice != nil {
			if err := validateRuns(raw.Slice.Content); err != nil {
				return nil, err
			}
			step.Slice = raw.Slice.Content
		}
		return step, nil
	case "addMark", "removeMark":
		if raw.Mark == nil || raw.Mark.Type == "" {
			return nil, fmt.Errorf("invalid step: %s without mark", raw.StepType)
		}
		return &MarkStep{
			Add:  raw.StepType == "addMark",
			From: raw.From,
			To:   raw.To,
			Mark: raw.Mark.Type,
		}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStepType, raw.StepType)
	}
}
