// Package claude translates between the Anthropic Messages protocol and the
// upstream OCA chat-completion protocol. Request translation is a pure JSON
// transform; response translation is a per-request state machine that maps the
// upstream incremental event stream onto Anthropic streaming events.
package claude

import (
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// MaxTokensCeiling is the upstream API's hard limit; larger client values are
// clamped because the upstream rejects them outright.
const MaxTokensCeiling = 16384

// ConvertClaudeRequestToUpstream transforms an Anthropic Messages API request
// into the upstream chat-completion request shape. The system prompt becomes
// a single leading system message, content blocks flatten into plain message
// text, tool_use blocks become tool calls, and tool_result blocks become
// separate tool-role messages. The upstream request is always issued with
// streaming enabled regardless of what the client asked for.
func ConvertClaudeRequestToUpstream(modelName, reasoningEffort string, inputRawJSON []byte) []byte {
	root := gjson.ParseBytes(inputRawJSON)

	out := `{"model":"","messages":[],"stream":true}`
	out, _ = sjson.Set(out, "model", modelName)

	if maxTokens := root.Get("max_tokens"); maxTokens.Exists() {
		value := maxTokens.Int()
		if value > MaxTokensCeiling {
			value = MaxTokensCeiling
		}
		out, _ = sjson.Set(out, "max_tokens", value)
	}

	if temp := root.Get("temperature"); temp.Exists() {
		out, _ = sjson.Set(out, "temperature", temp.Float())
	}
	if topP := root.Get("top_p"); topP.Exists() {
		out, _ = sjson.Set(out, "top_p", topP.Float())
	}

	// The mapping-supplied effort only fills in when the client did not ask
	// for one explicitly.
	if effort := root.Get("reasoning_effort"); effort.Exists() && effort.String() != "" {
		out, _ = sjson.Set(out, "reasoning_effort", effort.String())
	} else if reasoningEffort != "" {
		out, _ = sjson.Set(out, "reasoning_effort", reasoningEffort)
	}

	// System prompt: plain string or an array of typed blocks. Only text
	// blocks contribute; fragments are joined with single spaces.
	if systemText := flattenSystemPrompt(root.Get("system")); systemText != "" {
		msg := `{"role":"system","content":""}`
		msg, _ = sjson.Set(msg, "content", systemText)
		out, _ = sjson.SetRaw(out, "messages.-1", msg)
	}

	if messages := root.Get("messages"); messages.Exists() && messages.IsArray() {
		messages.ForEach(func(_, message gjson.Result) bool {
			out = appendUpstreamMessages(out, message)
			return true
		})
	}

	// Anthropic tool schema maps 1:1 onto upstream function tools.
	if tools := root.Get("tools"); tools.Exists() && tools.IsArray() {
		tools.ForEach(func(_, tool gjson.Result) bool {
			fn := `{"type":"function","function":{"name":"","description":""}}`
			fn, _ = sjson.Set(fn, "function.name", tool.Get("name").String())
			fn, _ = sjson.Set(fn, "function.description", tool.Get("description").String())
			if inputSchema := tool.Get("input_schema"); inputSchema.Exists() {
				fn, _ = sjson.SetRaw(fn, "function.parameters", inputSchema.Raw)
			}
			out, _ = sjson.SetRaw(out, "tools.-1", fn)
			return true
		})
	}

	if toolChoice := root.Get("tool_choice"); toolChoice.Exists() {
		// Accepted both as the object form {type, name?} and as a bare string.
		choiceType := toolChoice.Get("type").String()
		if toolChoice.Type == gjson.String {
			choiceType = toolChoice.String()
		}
		switch choiceType {
		case "tool":
			forced := `{"type":"function","function":{"name":""}}`
			forced, _ = sjson.Set(forced, "function.name", toolChoice.Get("name").String())
			out, _ = sjson.SetRaw(out, "tool_choice", forced)
		case "any":
			out, _ = sjson.Set(out, "tool_choice", "required")
		case "auto":
			out, _ = sjson.Set(out, "tool_choice", "auto")
		}
	}

	return []byte(out)
}

// flattenSystemPrompt joins the text of a string-or-block-array system prompt.
// Non-text blocks are dropped.
func flattenSystemPrompt(system gjson.Result) string {
	if !system.Exists() {
		return ""
	}
	if system.Type == gjson.String {
		return system.String()
	}
	if system.IsArray() {
		var parts []string
		system.ForEach(func(_, block gjson.Result) bool {
			if block.Get("type").String() == "text" {
				if text := block.Get("text").String(); text != "" {
					parts = append(parts, text)
				}
			}
			return true
		})
		return strings.Join(parts, " ")
	}
	return ""
}

// appendUpstreamMessages converts one Anthropic message into zero or more
// upstream messages appended to the request. tool_result blocks are emitted
// first as independent tool-role messages, since upstream requires tool
// results to immediately follow the assistant turn that issued the calls.
func appendUpstreamMessages(out string, message gjson.Result) string {
	role := message.Get("role").String()
	content := message.Get("content")

	if content.Type == gjson.String {
		if content.String() == "" {
			return out
		}
		msg := `{"role":"","content":""}`
		msg, _ = sjson.Set(msg, "role", role)
		msg, _ = sjson.Set(msg, "content", content.String())
		out, _ = sjson.SetRaw(out, "messages.-1", msg)
		return out
	}
	if !content.IsArray() {
		return out
	}

	var textParts []string
	var toolCalls []string
	content.ForEach(func(_, block gjson.Result) bool {
		switch block.Get("type").String() {
		case "text":
			if text := block.Get("text").String(); text != "" {
				textParts = append(textParts, text)
			}
		case "tool_use":
			call := `{"id":"","type":"function","function":{"name":"","arguments":""}}`
			call, _ = sjson.Set(call, "id", block.Get("id").String())
			call, _ = sjson.Set(call, "function.name", block.Get("name").String())
			if input := block.Get("input"); input.Exists() {
				call, _ = sjson.Set(call, "function.arguments", input.Raw)
			} else {
				call, _ = sjson.Set(call, "function.arguments", "{}")
			}
			toolCalls = append(toolCalls, call)
		case "tool_result":
			msg := `{"role":"tool","tool_call_id":"","content":""}`
			msg, _ = sjson.Set(msg, "tool_call_id", block.Get("tool_use_id").String())
			msg, _ = sjson.Set(msg, "content", stringifyToolResultContent(block.Get("content")))
			out, _ = sjson.SetRaw(out, "messages.-1", msg)
		}
		return true
	})

	// A message contributes an entry only when it ends up with text and/or
	// tool calls; a pure tool_result message was already emitted above.
	if len(textParts) == 0 && len(toolCalls) == 0 {
		return out
	}

	msg := `{"role":"","content":""}`
	msg, _ = sjson.Set(msg, "role", role)
	msg, _ = sjson.Set(msg, "content", strings.Join(textParts, " "))
	for _, call := range toolCalls {
		msg, _ = sjson.SetRaw(msg, "tool_calls.-1", call)
	}
	out, _ = sjson.SetRaw(out, "messages.-1", msg)
	return out
}

// stringifyToolResultContent renders a tool_result content field, which may be
// a string or an array of text blocks, as plain text for the tool message.
func stringifyToolResultContent(content gjson.Result) string {
	if !content.Exists() {
		return ""
	}
	if content.Type == gjson.String {
		return content.String()
	}
	if content.IsArray() {
		var parts []string
		content.ForEach(func(_, item gjson.Result) bool {
			switch {
			case item.Type == gjson.String:
				parts = append(parts, item.String())
			case item.IsObject() && item.Get("text").Exists():
				parts = append(parts, item.Get("text").String())
			default:
				parts = append(parts, item.Raw)
			}
			return true
		})
		return strings.Join(parts, "\n")
	}
	return content.Raw
}
