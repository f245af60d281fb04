package claude

import (
	"bytes"
	"strings"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

var dataTag = []byte("data:")

// doneMarker is the upstream stream terminator line payload.
const doneMarker = "[DONE]"

// StreamState is the per-request transcoding state machine converting the
// upstream incremental chat-completion stream into Anthropic streaming
// events. It is created when upstream streaming begins, never shared across
// requests, and discarded when the stream ends.
type StreamState struct {
	messageID string
	model     string

	blockIndex    int
	textBlockOpen bool
	toolCall      *activeToolCall

	finishReason string
	inputTokens  int64
	outputTokens int64
	stopped      bool
}

// activeToolCall tracks the currently open tool_use content block.
type activeToolCall struct {
	id   string
	name string
}

// NewStreamState creates the state machine for one streaming response,
// generating the Anthropic-style message id up front.
func NewStreamState(model string) *StreamState {
	return &StreamState{
		messageID: "msg_" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		model:     model,
	}
}

// Start emits the opening message_start event carrying the generated message
// id, the resolved model, and zero usage counters.
func (s *StreamState) Start() []string {
	event := `{"type":"message_start","message":{"id":"","type":"message","role":"assistant","model":"","content":[],"stop_reason":null,"stop_sequence":null,"usage":{"input_tokens":0,"output_tokens":0}}}`
	event, _ = sjson.Set(event, "message.id", s.messageID)
	event, _ = sjson.Set(event, "message.model", s.model)
	return []string{sseEvent("message_start", event)}
}

// Done reports whether the stream has reached its terminal state.
func (s *StreamState) Done() bool {
	return s.stopped
}

// Next consumes one complete upstream line and returns the Anthropic events
// it produces. Lines that are not data lines, and data lines that do not
// parse, are skipped; a malformed upstream chunk must not abort the stream.
func (s *StreamState) Next(line []byte) []string {
	if s.stopped {
		return nil
	}
	payload, ok := dataPayload(line)
	if !ok {
		return nil
	}

	if string(payload) == doneMarker {
		var events []string
		s.closeOpenBlock(&events)
		events = append(events, sseEvent("message_stop", `{"type":"message_stop"}`))
		s.stopped = true
		return events
	}

	if !gjson.ValidBytes(payload) {
		return nil
	}
	root := gjson.ParseBytes(payload)

	if usage := root.Get("usage"); usage.Exists() && usage.Type != gjson.Null {
		s.inputTokens = usage.Get("prompt_tokens").Int()
		s.outputTokens = usage.Get("completion_tokens").Int()
	}

	var events []string
	delta := root.Get("choices.0.delta")

	if content := delta.Get("content"); content.Exists() && content.String() != "" {
		if !s.textBlockOpen {
			s.closeOpenBlock(&events)
			start := `{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`
			start, _ = sjson.Set(start, "index", s.blockIndex)
			events = append(events, sseEvent("content_block_start", start))
			s.textBlockOpen = true
		}
		// Fragments pass through verbatim; concatenated they must reproduce
		// the upstream text exactly.
		textDelta := `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":""}}`
		textDelta, _ = sjson.Set(textDelta, "index", s.blockIndex)
		textDelta, _ = sjson.Set(textDelta, "delta.text", content.String())
		events = append(events, sseEvent("content_block_delta", textDelta))
	}

	if toolCalls := delta.Get("tool_calls"); toolCalls.Exists() && toolCalls.IsArray() {
		toolCalls.ForEach(func(_, fragment gjson.Result) bool {
			s.consumeToolCallFragment(fragment, &events)
			return true
		})
	}

	if finishReason := root.Get("choices.0.finish_reason"); finishReason.Exists() && finishReason.String() != "" {
		s.finishReason = finishReason.String()
		s.closeOpenBlock(&events)

		messageDelta := `{"type":"message_delta","delta":{"stop_reason":"","stop_sequence":null},"usage":{"output_tokens":0}}`
		messageDelta, _ = sjson.Set(messageDelta, "delta.stop_reason", translateFinishReason(s.finishReason))
		messageDelta, _ = sjson.Set(messageDelta, "usage.output_tokens", s.outputTokens)
		events = append(events, sseEvent("message_delta", messageDelta))
		events = append(events, sseEvent("message_stop", `{"type":"message_stop"}`))
		s.stopped = true
	}

	return events
}

// consumeToolCallFragment handles one entry of a delta.tool_calls array. A
// fragment may introduce a new tool call (id and name), append raw argument
// text to the open one, or both.
func (s *StreamState) consumeToolCallFragment(fragment gjson.Result, events *[]string) {
	id := fragment.Get("id")
	name := fragment.Get("function.name")

	newCall := false
	if id.Exists() && id.String() != "" {
		newCall = s.toolCall == nil || s.toolCall.id != id.String()
	} else if name.Exists() && s.toolCall == nil {
		newCall = true
	}

	if newCall {
		s.closeOpenBlock(events)
		s.toolCall = &activeToolCall{id: id.String(), name: name.String()}

		start := `{"type":"content_block_start","index":0,"content_block":{"type":"tool_use","id":"","name":"","input":{}}}`
		start, _ = sjson.Set(start, "index", s.blockIndex)
		start, _ = sjson.Set(start, "content_block.id", s.toolCall.id)
		start, _ = sjson.Set(start, "content_block.name", s.toolCall.name)
		*events = append(*events, sseEvent("content_block_start", start))
	}

	if args := fragment.Get("function.arguments"); args.Exists() && args.String() != "" && s.toolCall != nil {
		// Partial JSON fragments are not re-parsed or validated here; the
		// client concatenates and parses once the block closes.
		inputDelta := `{"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":""}}`
		inputDelta, _ = sjson.Set(inputDelta, "index", s.blockIndex)
		inputDelta, _ = sjson.Set(inputDelta, "delta.partial_json", args.String())
		*events = append(*events, sseEvent("content_block_delta", inputDelta))
	}
}

// closeOpenBlock emits content_block_stop for whichever block is open and
// advances the block index.
func (s *StreamState) closeOpenBlock(events *[]string) {
	if !s.textBlockOpen && s.toolCall == nil {
		return
	}
	stop := `{"type":"content_block_stop","index":0}`
	stop, _ = sjson.Set(stop, "index", s.blockIndex)
	*events = append(*events, sseEvent("content_block_stop", stop))
	s.textBlockOpen = false
	s.toolCall = nil
	s.blockIndex++
}

// translateFinishReason maps upstream finish reasons onto Anthropic stop
// reasons. Unknown reasons pass through unchanged.
func translateFinishReason(reason string) string {
	switch reason {
	case "tool_calls":
		return "tool_use"
	case "stop":
		return "end_turn"
	default:
		return reason
	}
}

// dataPayload strips the SSE "data:" framing from an upstream line. Blank
// lines and non-data lines report false.
func dataPayload(line []byte) ([]byte, bool) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil, false
	}
	if bytes.HasPrefix(line, dataTag) {
		return bytes.TrimSpace(line[len(dataTag):]), true
	}
	if string(line) == doneMarker {
		return line, true
	}
	return nil, false
}

// sseEvent frames one Anthropic event for the client stream.
func sseEvent(name, data string) string {
	return "event: " + name + "\ndata: " + data + "\n\n"
}
