package notion

import (
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProperty_MarshalWritesOnlyTypedValue(t *testing.T) {
	n := 3.0
	cases := []struct {
		name string
		prop Property
		want string
	}{
		{"number", Property{ID: "abc", Type: TypeNumber, Number: &n}, `{"number":3}`},
		{"empty multi select clears", Property{Type: TypeMultiSelect}, `{"multi_select":[]}`},
		{"false checkbox", Property{Type: TypeCheckbox}, `{"checkbox":false}`},
		{"null select", Property{Type: TypeSelect}, `{"select":null}`},
		{"title", Property{Type: TypeTitle, Title: NewText("Standup")}, `{"title":[{"type":"text","text":{"content":"Standup"},"plain_text":"Standup"}]}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := json.Marshal(tc.prop)
			require.NoError(t, err)
			assert.JSONEq(t, tc.want, string(got))
		})
	}
}

func TestProperty_MarshalRejectsReadOnly(t *testing.T) {
	_, err := json.Marshal(Property{Type: "formula"})
	assert.Error(t, err)
}

func TestPropertySchema_RoundTrip(t *testing.T) {
	var s PropertySchema
	require.NoError(t, json.Unmarshal([]byte(`{"id":"f","name":"Frequency","type":"select","select":{"options":[{"id":"1","name":"Daily","color":"blue"}]}}`), &s))
	assert.Equal(t, TypeSelect, s.Type)
	require.Len(t, s.Options, 1)
	assert.Equal(t, "Daily", s.Options[0].Name)

	out, err := json.Marshal(PropertySchema{Type: TypeCheckbox})
	require.NoError(t, err)
	assert.JSONEq(t, `{"checkbox":{}}`, string(out))
}

func TestBlock_Copyable(t *testing.T) {
	assert.True(t, Block{Type: "paragraph"}.Copyable())
	assert.False(t, Block{Type: "child_page"}.Copyable())
	assert.False(t, Block{}.Copyable())
}

func TestBlock_CopyableMedia(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want bool
	}{
		{"hosted image", `{"type":"image","image":{"type":"file","file":{"url":"https://s3.example/a.png","expiry_time":"2025-10-08T13:00:00.000Z"}}}`, false},
		{"uploaded pdf", `{"type":"pdf","pdf":{"type":"file_upload","file_upload":{"id":"u1"}}}`, false},
		{"hosted video", `{"type":"video","video":{"type":"file","file":{"url":"https://s3.example/v.mp4"}}}`, false},
		{"external image", `{"type":"image","image":{"type":"external","external":{"url":"https://example.com/a.png"}}}`, true},
		{"external file", `{"type":"file","file":{"type":"external","external":{"url":"https://example.com/a.zip"}}}`, true},
		{"media without payload", `{"type":"audio"}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var b Block
			require.NoError(t, json.Unmarshal([]byte(tt.raw), &b))
			assert.Equal(t, tt.want, b.Copyable())
		})
	}
}

func TestPlainTexts(t *testing.T) {
	rts := []RichText{{PlainText: "Team "}, {Text: &Text{Content: "sync"}}}
	assert.Equal(t, "Team sync", PlainTexts(rts))
}
