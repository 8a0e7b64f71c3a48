package export

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"

	"github.com/xeipuuv/gojsonschema"

	"github.com/kukulabs/kuku-coach/internal/coach"
)

// Annotation is one annotator verdict on an assistant reply.
// MessageID names the rated assistant message; Alternative carries the
// annotator's preferred wording when the verdict is "No".
type Annotation struct {
	MessageID   string `json:"messageId"`
	Verdict     string `json:"verdict"` // "Yes" | "No"
	Alternative string `json:"alternative,omitempty"`
}

type dpoInput struct {
	Messages          []exportMessage `json:"messages"`
	Tools             []interface{}   `json:"tools"`
	ParallelToolCalls bool            `json:"parallel_tool_calls"`
}

type dpoRecord struct {
	Input              dpoInput        `json:"input"`
	PreferredOutput    []exportMessage `json:"preferred_output"`
	NonPreferredOutput []exportMessage `json:"non_preferred_output"`
}

// dpoSchema pins the wire format consumed by the preference-tuning
// pipeline. Every emitted line is validated against it.
const dpoSchema = `{
	"type": "object",
	"required": ["input", "preferred_output", "non_preferred_output"],
	"properties": {
		"input": {
			"type": "object",
			"required": ["messages", "tools", "parallel_tool_calls"],
			"properties": {
				"messages": {
					"type": "array",
					"minItems": 1,
					"items": {
						"type": "object",
						"required": ["role", "content"],
						"properties": {
							"role": {"type": "string", "enum": ["user"]},
							"content": {"type": "string", "minLength": 1}
						}
					}
				},
				"tools": {"type": "array"},
				"parallel_tool_calls": {"type": "boolean"}
			}
		},
		"preferred_output": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"required": ["role", "content"],
				"properties": {
					"role": {"type": "string", "enum": ["assistant"]},
					"content": {"type": "string", "minLength": 1}
				}
			}
		},
		"non_preferred_output": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"required": ["role", "content"],
				"properties": {
					"role": {"type": "string", "enum": ["assistant"]},
					"content": {"type": "string", "minLength": 1}
				}
			}
		}
	}
}`

// WriteDPOJSONL emits one preference pair per "No"-rated assistant
// reply that carries an alternative. The paired user prompt is the
// message immediately preceding the rated reply.
func WriteDPOJSONL(w io.Writer, sess *SessionExport, annotations []Annotation) error {
	schemaLoader := gojsonschema.NewStringLoader(dpoSchema)

	byID := make(map[string]int, len(sess.Messages))
	for i, msg := range sess.Messages {
		byID[msg.MessageID] = i
	}

	bw := bufio.NewWriter(w)
	for _, ann := range annotations {
		if ann.Verdict != "No" || ann.Alternative == "" {
			continue
		}

		idx, ok := byID[ann.MessageID]
		if !ok || sess.Messages[idx].Sender != coach.SenderAI {
			return fmt.Errorf("annotation targets unknown assistant message %q", ann.MessageID)
		}
		if idx == 0 || sess.Messages[idx-1].Sender != coach.SenderUser {
			continue // no user prompt to pair with
		}

		rec := dpoRecord{
			Input: dpoInput{
				Messages:          []exportMessage{{Role: "user", Content: sess.Messages[idx-1].Text}},
				Tools:             []interface{}{},
				ParallelToolCalls: true,
			},
			PreferredOutput:    []exportMessage{{Role: "assistant", Content: ann.Alternative}},
			NonPreferredOutput: []exportMessage{{Role: "assistant", Content: sess.Messages[idx].Text}},
		}

		line, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to encode preference pair: %w", err)
		}

		result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewBytesLoader(line))
		if err != nil {
			return fmt.Errorf("schema validation error: %w", err)
		}
		if !result.Valid() {
			return fmt.Errorf("preference pair for message %s failed schema validation: %v", ann.MessageID, result.Errors())
		}

		bw.Write(line)
		bw.WriteByte('\n')
	}
	return bw.Flush()
}
