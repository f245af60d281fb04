package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/ocagate/ocagate/internal/logging"
	translator "github.com/ocagate/ocagate/internal/translator/claude"
)

// ChatCompletions serves POST /v1/chat/completions for OpenAI-protocol
// clients. The upstream speaks the same protocol, so only the model name is
// resolved and the token limit clamped; the body otherwise passes through.
func (s *Server) ChatCompletions(c *gin.Context) {
	rawJSON, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: ErrorDetail{
			Message: "invalid request body: " + err.Error(),
		}})
		return
	}

	resolution := s.resolver.Resolve(gjson.GetBytes(rawJSON, "model").String())
	body, _ := sjson.SetBytes(rawJSON, "model", resolution.Model)
	if resolution.ReasoningEffort != "" && !gjson.GetBytes(body, "reasoning_effort").Exists() {
		body, _ = sjson.SetBytes(body, "reasoning_effort", resolution.ReasoningEffort)
	}
	if maxTokens := gjson.GetBytes(body, "max_tokens"); maxTokens.Exists() && maxTokens.Int() > translator.MaxTokensCeiling {
		body, _ = sjson.SetBytes(body, "max_tokens", translator.MaxTokensCeiling)
	}

	ctx := c.Request.Context()

	streamRequested := gjson.GetBytes(body, "stream")
	if !streamRequested.Exists() || !streamRequested.Bool() {
		resp, errChat := s.executor.Chat(ctx, body)
		if errChat != nil {
			writeOpenAIError(c, errChat)
			return
		}
		c.Data(http.StatusOK, "application/json", resp)
		return
	}

	chunks, err := s.executor.StreamChat(ctx, body)
	if err != nil {
		writeOpenAIError(c, err)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	flusher, _ := c.Writer.(http.Flusher)
	for chunk := range chunks {
		if chunk.Err != nil {
			logging.WithContext(ctx).Errorf("upstream stream error: %v", chunk.Err)
			return
		}
		if len(chunk.Line) == 0 {
			continue
		}
		_, _ = c.Writer.Write(chunk.Line)
		_, _ = c.Writer.WriteString("\n\n")
		if flusher != nil {
			flusher.Flush()
		}
	}
}

// Models serves GET /v1/models by forwarding the upstream model listing.
func (s *Server) Models(c *gin.Context) {
	body, err := s.executor.ListModels(c.Request.Context())
	if err != nil {
		writeOpenAIError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json", body)
}
