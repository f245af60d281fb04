package claude

import (
	"strings"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Aggregator consumes the same upstream line stream as StreamState but
// accumulates everything into a single Anthropic message object, serving
// clients that asked for a non-streaming response while the upstream call is
// always streamed.
type Aggregator struct {
	messageID string
	model     string

	text      strings.Builder
	toolCalls []*aggregatedToolCall

	finishReason string
	inputTokens  int64
	outputTokens int64
	done         bool
}

type aggregatedToolCall struct {
	id   string
	name string
	args strings.Builder
}

// NewAggregator creates an aggregator for one non-streaming response.
func NewAggregator(model string) *Aggregator {
	return &Aggregator{
		messageID: "msg_" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		model:     model,
	}
}

// Done reports whether the upstream terminator has been seen.
func (a *Aggregator) Done() bool {
	return a.done
}

// Next consumes one complete upstream line. Unparseable lines are skipped.
func (a *Aggregator) Next(line []byte) {
	if a.done {
		return
	}
	payload, ok := dataPayload(line)
	if !ok {
		return
	}
	if string(payload) == doneMarker {
		a.done = true
		return
	}
	if !gjson.ValidBytes(payload) {
		return
	}
	root := gjson.ParseBytes(payload)

	if usage := root.Get("usage"); usage.Exists() && usage.Type != gjson.Null {
		a.inputTokens = usage.Get("prompt_tokens").Int()
		a.outputTokens = usage.Get("completion_tokens").Int()
	}

	delta := root.Get("choices.0.delta")
	if content := delta.Get("content"); content.Exists() {
		a.text.WriteString(content.String())
	}

	if toolCalls := delta.Get("tool_calls"); toolCalls.Exists() && toolCalls.IsArray() {
		toolCalls.ForEach(func(_, fragment gjson.Result) bool {
			a.consumeToolCallFragment(fragment)
			return true
		})
	}

	if finishReason := root.Get("choices.0.finish_reason"); finishReason.Exists() && finishReason.String() != "" {
		a.finishReason = finishReason.String()
	}
}

func (a *Aggregator) consumeToolCallFragment(fragment gjson.Result) {
	id := fragment.Get("id").String()
	name := fragment.Get("function.name").String()

	var current *aggregatedToolCall
	if len(a.toolCalls) > 0 {
		current = a.toolCalls[len(a.toolCalls)-1]
	}
	if current == nil || (id != "" && current.id != id) {
		current = &aggregatedToolCall{id: id, name: name}
		a.toolCalls = append(a.toolCalls, current)
	} else if name != "" && current.name == "" {
		current.name = name
	}

	if args := fragment.Get("function.arguments"); args.Exists() {
		current.args.WriteString(args.String())
	}
}

// Message renders the aggregate Anthropic message object.
func (a *Aggregator) Message() []byte {
	out := `{"id":"","type":"message","role":"assistant","model":"","content":[],"stop_reason":null,"stop_sequence":null,"usage":{"input_tokens":0,"output_tokens":0}}`
	out, _ = sjson.Set(out, "id", a.messageID)
	out, _ = sjson.Set(out, "model", a.model)

	if a.text.Len() > 0 {
		block := `{"type":"text","text":""}`
		block, _ = sjson.Set(block, "text", a.text.String())
		out, _ = sjson.SetRaw(out, "content.-1", block)
	}

	for _, call := range a.toolCalls {
		block := `{"type":"tool_use","id":"","name":"","input":{}}`
		block, _ = sjson.Set(block, "id", call.id)
		block, _ = sjson.Set(block, "name", call.name)
		if args := call.args.String(); args != "" && gjson.Valid(args) && gjson.Parse(args).IsObject() {
			block, _ = sjson.SetRaw(block, "input", args)
		}
		out, _ = sjson.SetRaw(out, "content.-1", block)
	}

	stopReason := a.finishReason
	switch {
	case stopReason != "":
		stopReason = translateFinishReason(stopReason)
	case len(a.toolCalls) > 0:
		stopReason = "tool_use"
	default:
		stopReason = "end_turn"
	}
	out, _ = sjson.Set(out, "stop_reason", stopReason)
	out, _ = sjson.Set(out, "usage.input_tokens", a.inputTokens)
	out, _ = sjson.Set(out, "usage.output_tokens", a.outputTokens)
	return []byte(out)
}
