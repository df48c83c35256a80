package richtext

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplaceStepApply(t *testing.T) {
	doc := NewDoc(Text("hello world"))

	t.Run("insert", func(t *testing.T) {
		out, err := (&ReplaceStep{From: 5, To: 5, Slice: []TextRun{Text(",")}}).Apply(doc)
		require.NoError(t, err)
		assert.Equal(t, "hello, world", out.(*Doc).String())
		assert.Equal(t, "hello world", doc.String(), "input document must not change")
	})

	t.Run("delete", func(t *testing.T) {
		out, err := (&ReplaceStep{From: 0, To: 6}).Apply(doc)
		require.NoError(t, err)
		assert.Equal(t, "world", out.(*Doc).String())
	})

	t.Run("out of range", func(t *testing.T) {
		_, err := (&ReplaceStep{From: 3, To: 40}).Apply(doc)
		assert.ErrorIs(t, err, ErrOutOfRange)

		_, err = (&ReplaceStep{From: 4, To: 2}).Apply(doc)
		assert.ErrorIs(t, err, ErrOutOfRange)
	})
}

func TestReplaceStepInvert(t *testing.T) {
	doc := NewDoc(Text("ab"), Text("cd", "strong"), Text("ef"))
	step := &ReplaceStep{From: 1, To: 4, Slice: []TextRun{Text("XYZW", "em")}}

	applied, err := step.Apply(doc)
	require.NoError(t, err)
	assert.Equal(t, "aXYZWef", applied.(*Doc).String())

	inverse, err := step.Invert(doc)
	require.NoError(t, err)

	restored, err := inverse.Apply(applied)
	require.NoError(t, err)
	assert.True(t, doc.Equal(restored.(*Doc)), "inverse should restore text and marks")
}

func TestMarkSteps(t *testing.T) {
	doc := NewDoc(Text("bold move"))

	out, err := (&MarkStep{Add: true, From: 0, To: 4, Mark: "strong"}).Apply(doc)
	require.NoError(t, err)
	marked := out.(*Doc)
	assert.Equal(t, []string{"strong"}, marked.MarksAt(0))
	assert.Empty(t, marked.MarksAt(5))
	assert.Empty(t, doc.MarksAt(0))

	out, err = (&MarkStep{Add: false, From: 0, To: 2, Mark: "strong"}).Apply(marked)
	require.NoError(t, err)
	assert.Empty(t, out.(*Doc).MarksAt(0))
	assert.Equal(t, []string{"strong"}, out.(*Doc).MarksAt(2))

	inverse, err := (&MarkStep{Add: true, From: 0, To: 4, Mark: "strong"}).Invert(doc)
	require.NoError(t, err)
	restored, err := inverse.Apply(marked)
	require.NoError(t, err)
	assert.True(t, doc.Equal(restored.(*Doc)))
}

func TestDocPortableForm(t *testing.T) {
	doc := NewDoc(Text("plain "), Text("loud", "strong", "em"), Text("!"))

	raw, err := doc.ToJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"doc","content":[
		{"type":"text","text":"plain "},
		{"type":"text","text":"loud","marks":[{"type":"em"},{"type":"strong"}]},
		{"type":"text","text":"!"}]}`, string(raw))

	parsed, err := NewSchema().DocFromJSON(raw)
	require.NoError(t, err)
	assert.True(t, doc.Equal(parsed.(*Doc)))
	assert.Equal(t, doc.Len()+2, parsed.NodeSize())
}

func TestEmptyDocJSON(t *testing.T) {
	raw, err := NewSchema().EmptyDoc().ToJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"doc","content":[]}`, string(raw))
}

func TestDocFromJSONRejectsInvalid(t *testing.T) {
	schema := NewSchema()
	for name, input := range map[string]string{
		"not json":       `{`,
		"wrong root":     `{"type":"paragraph","content":[]}`,
		"non-text child": `{"type":"doc","content":[{"type":"image","text":""}]}`,
		"empty mark":     `{"type":"doc","content":[{"type":"text","text":"a","marks":[{"type":""}]}]}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := schema.DocFromJSON(json.RawMessage(input))
			assert.ErrorIs(t, err, ErrInvalidDocument)
		})
	}
}

func TestStepJSONRoundTrip(t *testing.T) {
	schema := NewSchema()
	doc := NewDoc(Text("abcdef"))

	for _, input := range []string{
		`{"stepType":"replace","from":1,"to":3,"slice":{"content":[{"type":"text","text":"Z"}]}}`,
		`{"stepType":"replace","from":2,"to":4,"slice":{"content":[]}}`,
		`{"stepType":"addMark","from":0,"to":6,"mark":{"type":"em"}}`,
		`{"stepType":"removeMark","from":0,"to":1,"mark":{"type":"em"}}`,
	} {
		step, err := schema.StepFromJSON(json.RawMessage(input))
		require.NoError(t, err, input)

		raw, err := step.ToJSON()
		require.NoError(t, err)
		assert.JSONEq(t, input, string(raw))

		_, err = step.Apply(doc)
		assert.NoError(t, err, input)
	}
}

func TestStepFromJSONErrors(t *testing.T) {
	schema := NewSchema()

	_, err := schema.StepFromJSON(json.RawMessage(`{"stepType":"teleport"}`))
	assert.ErrorIs(t, err, ErrUnknownStepType)

	_, err = schema.StepFromJSON(json.RawMessage(`{"stepType":"addMark","from":0,"to":1}`))
	assert.Error(t, err)

	_, err = schema.StepFromJSON(json.RawMessage(`[]`))
	assert.Error(t, err)
}
