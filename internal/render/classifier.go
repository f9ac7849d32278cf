// Package render classifies raw execution results into renderable kinds.
//
// The producer of results is an external automation engine whose payload
// conventions drift across versions, so classification is best-effort:
// malformed or unrecognized input degrades to KindNone, never an error.
// Classification is a pure function of the payload bytes.
package render

import (
	"encoding/json"
)

// Kind discriminates the RenderKind union.
type Kind string

const (
	KindText              Kind = "text"
	KindTabular           Kind = "tabular"
	KindObject            Kind = "object"
	KindMedia             Kind = "media"
	KindStreamUnsupported Kind = "stream_unsupported"
	KindError             Kind = "error"
	KindNone              Kind = "none"
)

// Media describes an image or video result and its display options.
type Media struct {
	MediaType    string `json:"media_type"` // "image" or "video"
	Path         string `json:"path"`
	Alt          string `json:"alt,omitempty"`
	ShowControls bool   `json:"show_controls"`
	AutoPlay     bool   `json:"auto_play"`
	Loop         bool   `json:"loop"`
}

// RenderKind is the tagged classification of one execution result. Exactly
// one of the payload fields is populated, selected by Kind.
type RenderKind struct {
	Kind    Kind                   `json:"kind"`
	Text    string                 `json:"text,omitempty"`
	Rows    []interface{}          `json:"rows"`
	Object  map[string]interface{} `json:"object,omitempty"`
	Media   *Media                 `json:"media,omitempty"`
	Message string                 `json:"message,omitempty"`
	Trace   string                 `json:"trace,omitempty"`
}

// DefaultMaxTextLen is the truncation threshold for text results.
const DefaultMaxTextLen = 1000

// Ellipsis marks truncated strings.
const Ellipsis = "…"

// Classifier assigns RenderKinds with a configurable truncation limit.
type Classifier struct {
	maxTextLen int
}

// New returns a classifier with the default truncation limit.
func New() *Classifier {
	return &Classifier{maxTextLen: DefaultMaxTextLen}
}

// NewWithLimit returns a classifier truncating strings beyond maxTextLen runes.
func NewWithLimit(maxTextLen int) *Classifier {
	if maxTextLen <= 0 {
		maxTextLen = DefaultMaxTextLen
	}
	return &Classifier{maxTextLen: maxTextLen}
}

// Classify applies the default classifier to a raw payload.
func Classify(raw json.RawMessage) RenderKind {
	return New().Classify(raw)
}

// Classify assigns exactly one RenderKind to a raw result payload.
//
// Precedence, first match wins:
//  1. tag "error"
//  2. tag "stream" (streaming results are never rendered inline)
//  3. media shapes: data.type, then top-level type, then media_data.type
//  4. tag "array"/"message": tabular rows
//  5. tag "data"/"object": structured object
//  6. tag "text": truncated text
//  7. anything else: KindNone
func (c *Classifier) Classify(raw json.RawMessage) RenderKind {
	if len(raw) == 0 {
		return RenderKind{Kind: KindNone}
	}

	var decoded interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return RenderKind{Kind: KindNone}
	}
	payload, ok := decoded.(map[string]interface{})
	if !ok {
		return RenderKind{Kind: KindNone}
	}

	tag, _ := payload["type"].(string)

	switch tag {
	case "error":
		return c.classifyError(payload)
	case "stream":
		return RenderKind{Kind: KindStreamUnsupported}
	}

	if media := detectMedia(payload); media != nil {
		return RenderKind{Kind: KindMedia, Media: media}
	}

	switch tag {
	case "array", "message":
		return c.classifyTabular(payload)
	case "data", "object":
		return classifyObject(payload)
	case "text":
		return c.classifyText(payload)
	}

	return RenderKind{Kind: KindNone}
}

func (c *Classifier) classifyError(payload map[string]interface{}) RenderKind {
	message, _ := payload["message"].(string)
	if message == "" {
		message, _ = payload["data"].(string)
	}
	trace, _ := payload["trace"].(string)
	return RenderKind{Kind: KindError, Message: message, Trace: trace}
}

// detectMedia probes the three historical payload shapes in fixed order:
// a nested "data" object, the payload itself, then a nested "media_data"
// object. The first shape carrying an image/video type wins.
func detectMedia(payload map[string]interface{}) *Media {
	containers := []map[string]interface{}{
		asObject(payload["data"]),
		payload,
		asObject(payload["media_data"]),
	}
	for _, m := range containers {
		if m == nil {
			continue
		}
		t, _ := m["type"].(string)
		if t != "image" && t != "video" {
			continue
		}
		path, _ := m["path"].(string)
		alt, _ := m["alt"].(string)
		return &Media{
			MediaType:    t,
			Path:         path,
			Alt:          alt,
			ShowControls: boolOr(m, "showControls", true),
			AutoPlay:     boolOr(m, "autoPlay", false),
			Loop:         boolOr(m, "loop", false),
		}
	}
	return nil
}

func (c *Classifier) classifyTabular(payload map[string]interface{}) RenderKind {
	elements, _ := payload["data"].([]interface{})

	// Empty collections render as zero rows, not an error.
	rows := make([]interface{}, 0, len(elements))

	if allHaveDataObject(elements) {
		for _, el := range elements {
			data := asObject(asObject(el)["data"])
			rows = append(rows, c.truncateStringFields(data))
		}
		return RenderKind{Kind: KindTabular, Rows: rows}
	}

	rows = append(rows, elements...)
	return RenderKind{Kind: KindTabular, Rows: rows}
}

func classifyObject(payload map[string]interface{}) RenderKind {
	if data := asObject(payload["data"]); data != nil {
		return RenderKind{Kind: KindObject, Object: data}
	}
	return RenderKind{Kind: KindObject, Object: payload}
}

func (c *Classifier) classifyText(payload map[string]interface{}) RenderKind {
	switch v := payload["data"].(type) {
	case string:
		return RenderKind{Kind: KindText, Text: c.truncate(v)}
	case nil:
		if s, ok := payload["text"].(string); ok {
			return RenderKind{Kind: KindText, Text: c.truncate(s)}
		}
		return RenderKind{Kind: KindText}
	default:
		// Tagged text but non-string data: render its JSON form.
		b, err := json.Marshal(v)
		if err != nil {
			return RenderKind{Kind: KindText}
		}
		return RenderKind{Kind: KindText, Text: c.truncate(string(b))}
	}
}

// truncate limits a string to the configured rune count plus an ellipsis.
func (c *Classifier) truncate(s string) string {
	runes := []rune(s)
	if len(runes) <= c.maxTextLen {
		return s
	}
	return string(runes[:c.maxTextLen]) + Ellipsis
}

// truncateStringFields copies a row and truncates its string-valued fields.
func (c *Classifier) truncateStringFields(row map[string]interface{}) map[string]interface{} {
	if row == nil {
		return map[string]interface{}{}
	}
	out := make(map[string]interface{}, len(row))
	for k, v := range row {
		if s, ok := v.(string); ok {
			out[k] = c.truncate(s)
		} else {
			out[k] = v
		}
	}
	return out
}

func allHaveDataObject(elements []interface{}) bool {
	if len(elements) == 0 {
		return false
	}
	for _, el := range elements {
		m := asObject(el)
		if m == nil || asObject(m["data"]) == nil {
			return false
		}
	}
	return true
}

func asObject(v interface{}) map[string]interface{} {
	m, _ := v.(map[string]interface{})
	return m
}

func boolOr(m map[string]interface{}, key string, def bool) bool {
	if v, ok := m[key].(bool); ok {
		return v
	}
	return def
}
