package notion

import (
	"fmt"

	"github.com/goccy/go-json"
)

// Property types understood by the copy mapping. Anything else read from a
// page (formula, rollup, created_time, people, files, ...) is still decoded
// but carries only its Type.
const (
	TypeTitle       = "title"
	TypeRichText    = "rich_text"
	TypeNumber      = "number"
	TypeSelect      = "select"
	TypeMultiSelect = "multi_select"
	TypeCheckbox    = "checkbox"
	TypeDate        = "date"
	TypeURL         = "url"
	TypeRelation    = "relation"
)

type Link struct {
	URL string `json:"url"`
}

type Text struct {
	Content string `json:"content"`
	Link    *Link  `json:"link,omitempty"`
}

type Annotations struct {
	Bold          bool   `json:"bold"`
	Italic        bool   `json:"italic"`
	Strikethrough bool   `json:"strikethrough"`
	Underline     bool   `json:"underline"`
	Code          bool   `json:"code"`
	Color         string `json:"color,omitempty"`
}

type RichText struct {
	Type        string       `json:"type,omitempty"`
	Text        *Text        `json:"text,omitempty"`
	Annotations *Annotations `json:"annotations,omitempty"`
	PlainText   string       `json:"plain_text,omitempty"`
	Href        string       `json:"href,omitempty"`
}

// PlainTexts joins the plain text of a rich-text run.
func PlainTexts(rts []RichText) string {
	out := ""
	for _, rt := range rts {
		if rt.PlainText != "" {
			out += rt.PlainText
		} else if rt.Text != nil {
			out += rt.Text.Content
		}
	}
	return out
}

// NewText builds a single plain text run.
func NewText(s string) []RichText {
	return []RichText{{Type: "text", Text: &Text{Content: s}, PlainText: s}}
}

type SelectOption struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

type DateValue struct {
	Start    string  `json:"start"`
	End      *string `json:"end"`
	TimeZone *string `json:"time_zone"`
}

type Relation struct {
	ID string `json:"id"`
}

// Property is a page property value. Only the field matching Type is set.
type Property struct {
	ID          string         `json:"id,omitempty"`
	Type        string         `json:"type,omitempty"`
	Title       []RichText     `json:"title,omitempty"`
	RichText    []RichText     `json:"rich_text,omitempty"`
	Number      *float64       `json:"number,omitempty"`
	Select      *SelectOption  `json:"select,omitempty"`
	MultiSelect []SelectOption `json:"multi_select,omitempty"`
	Checkbox    *bool          `json:"checkbox,omitempty"`
	Date        *DateValue     `json:"date,omitempty"`
	URL         *string        `json:"url,omitempty"`
	Relation    []Relation     `json:"relation,omitempty"`
}

// MarshalJSON writes the request shape: only the value keyed by Type, always
// present so that empty lists and nulls clear the property on update.
func (p Property) MarshalJSON() ([]byte, error) {
	var v any
	switch p.Type {
	case TypeTitle:
		v = nonNilText(p.Title)
	case TypeRichText:
		v = nonNilText(p.RichText)
	case TypeNumber:
		v = p.Number
	case TypeSelect:
		v = p.Select
	case TypeMultiSelect:
		if p.MultiSelect == nil {
			v = []SelectOption{}
		} else {
			v = p.MultiSelect
		}
	case TypeCheckbox:
		v = p.Checkbox != nil && *p.Checkbox
	case TypeDate:
		v = p.Date
	case TypeURL:
		v = p.URL
	case TypeRelation:
		if p.Relation == nil {
			v = []Relation{}
		} else {
			v = p.Relation
		}
	default:
		return nil, fmt.Errorf("notion: property type %q is not writable", p.Type)
	}
	return json.Marshal(map[string]any{p.Type: v})
}

func nonNilText(rts []RichText) []RichText {
	if rts == nil {
		return []RichText{}
	}
	return rts
}

type ExternalFile struct {
	URL string `json:"url"`
}

type HostedFile struct {
	URL        string `json:"url"`
	ExpiryTime string `json:"expiry_time,omitempty"`
}

type Icon struct {
	Type     string        `json:"type"`
	Emoji    string        `json:"emoji,omitempty"`
	External *ExternalFile `json:"external,omitempty"`
	File     *HostedFile   `json:"file,omitempty"`
}

type Parent struct {
	Type         string `json:"type"`
	DataSourceID string `json:"data_source_id,omitempty"`
	DatabaseID   string `json:"database_id,omitempty"`
	PageID       string `json:"page_id,omitempty"`
}

// Page is a row of a data source as returned by the API.
type Page struct {
	Object         string              `json:"object,omitempty"`
	ID             string              `json:"id"`
	CreatedTime    string              `json:"created_time,omitempty"`
	LastEditedTime string              `json:"last_edited_time,omitempty"`
	InTrash        bool                `json:"in_trash,omitempty"`
	Icon           *Icon               `json:"icon,omitempty"`
	Parent         *Parent             `json:"parent,omitempty"`
	Properties     map[string]Property `json:"properties"`
	URL            string              `json:"url,omitempty"`
}

// Block is a top-level content block. Content is the type-specific payload
// (the object stored under the key named by Type).
type Block struct {
	ID          string
	Type        string
	HasChildren bool
	Content     json.RawMessage
}

func (b *Block) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if v, ok := raw["id"]; ok {
		if err := json.Unmarshal(v, &b.ID); err != nil {
			return err
		}
	}
	if v, ok := raw["type"]; ok {
		if err := json.Unmarshal(v, &b.Type); err != nil {
			return err
		}
	}
	if v, ok := raw["has_children"]; ok {
		if err := json.Unmarshal(v, &b.HasChildren); err != nil {
			return err
		}
	}
	if b.Type != "" {
		b.Content = raw[b.Type]
	}
	return nil
}

func (b Block) MarshalJSON() ([]byte, error) {
	content := b.Content
	if len(content) == 0 {
		content = json.RawMessage("{}")
	}
	return json.Marshal(map[string]any{
		"object": "block",
		"type":   b.Type,
		b.Type:   content,
	})
}

// uncopyable block types cannot be recreated through the append endpoint.
var uncopyable = map[string]bool{
	"child_page":     true,
	"child_database": true,
	"unsupported":    true,
	"link_preview":   true,
	"synced_block":   true,
	"meeting_notes":  true,
	"transcription":  true,
}

// mediaBlocks carry a file object that is either external or hosted.
var mediaBlocks = map[string]bool{
	"image": true,
	"file":  true,
	"pdf":   true,
	"video": true,
	"audio": true,
}

// Copyable reports whether the block can be appended to another page.
// Media hosted by Notion is excluded: its signed URLs expire and the API
// only accepts external files on create.
func (b Block) Copyable() bool {
	if b.Type == "" || uncopyable[b.Type] {
		return false
	}
	if mediaBlocks[b.Type] {
		var f struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(b.Content, &f); err != nil {
			return false
		}
		return f.Type == "external"
	}
	return true
}

type DataSourceRef struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

type Database struct {
	ID          string          `json:"id"`
	DataSources []DataSourceRef `json:"data_sources"`
}

// PropertySchema describes one declared column of a data source.
type PropertySchema struct {
	ID           string
	Name         string
	Type         string
	Options      []SelectOption // select and multi_select
	NumberFormat string         // number
}

func (s *PropertySchema) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for key, dst := range map[string]*string{"id": &s.ID, "name": &s.Name, "type": &s.Type} {
		if v, ok := raw[key]; ok {
			if err := json.Unmarshal(v, dst); err != nil {
				return err
			}
		}
	}
	cfg, ok := raw[s.Type]
	if !ok || len(cfg) == 0 {
		return nil
	}
	var body struct {
		Options []SelectOption `json:"options"`
		Format  string         `json:"format"`
	}
	if err := json.Unmarshal(cfg, &body); err != nil {
		return nil
	}
	s.Options = body.Options
	s.NumberFormat = body.Format
	return nil
}

func (s PropertySchema) MarshalJSON() ([]byte, error) {
	cfg := map[string]any{}
	switch s.Type {
	case TypeSelect, TypeMultiSelect:
		opts := s.Options
		if opts == nil {
			opts = []SelectOption{}
		}
		cfg["options"] = opts
	case TypeNumber:
		if s.NumberFormat != "" {
			cfg["format"] = s.NumberFormat
		}
	}
	out := map[string]any{s.Type: cfg}
	if s.Name != "" {
		out["name"] = s.Name
	}
	return json.Marshal(out)
}

type DataSource struct {
	ID         string                    `json:"id"`
	Properties map[string]PropertySchema `json:"properties"`
}

type DateCondition struct {
	OnOrAfter  string `json:"on_or_after,omitempty"`
	OnOrBefore string `json:"on_or_before,omitempty"`
}

type SelectCondition struct {
	Equals     string `json:"equals,omitempty"`
	IsNotEmpty bool   `json:"is_not_empty,omitempty"`
}

// Filter is the subset of the query filter grammar used here.
type Filter struct {
	And      []Filter         `json:"and,omitempty"`
	Property string           `json:"property,omitempty"`
	Date     *DateCondition   `json:"date,omitempty"`
	Select   *SelectCondition `json:"select,omitempty"`
}

type Sort struct {
	Property  string `json:"property"`
	Direction string `json:"direction"`
}

type Query struct {
	Filter      *Filter `json:"filter,omitempty"`
	Sorts       []Sort  `json:"sorts,omitempty"`
	StartCursor string  `json:"start_cursor,omitempty"`
	PageSize    int     `json:"page_size,omitempty"`
}

type QueryResult struct {
	Results    []Page  `json:"results"`
	HasMore    bool    `json:"has_more"`
	NextCursor *string `json:"next_cursor"`
}

type CreatePageRequest struct {
	DataSourceID string
	Properties   map[string]Property
	Icon         *Icon
	Children     []Block
}

type UpdatePageRequest struct {
	Properties map[string]Property
	Icon       *Icon
}

// APIError is a non-2xx response from the API.
type APIError struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("notion: HTTP %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("notion: HTTP %d %s: %s", e.Status, e.Code, e.Message)
}

// Retryable reports whether the status is worth retrying.
func (e *APIError) Retryable() bool {
	return e.Status == 429 || e.Status == 409 || e.Status >= 500
}
