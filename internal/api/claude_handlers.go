package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"

	"github.com/ocagate/ocagate/internal/executor"
	"github.com/ocagate/ocagate/internal/logging"
	translator "github.com/ocagate/ocagate/internal/translator/claude"
)

// ClaudeMessages serves POST /v1/messages for Anthropic-protocol clients.
// The request is transcoded to the upstream shape, the upstream call is
// always streamed, and the response is either transcoded incrementally or
// aggregated into one message depending on what the client asked for.
func (s *Server) ClaudeMessages(c *gin.Context) {
	rawJSON, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: ErrorDetail{
			Type:    "invalid_request_error",
			Message: "invalid request body: " + err.Error(),
		}})
		return
	}

	resolution := s.resolver.Resolve(gjson.GetBytes(rawJSON, "model").String())
	upstreamBody := translator.ConvertClaudeRequestToUpstream(resolution.Model, resolution.ReasoningEffort, rawJSON)

	// The request context is cancelled when the client disconnects, which
	// aborts the upstream read.
	ctx := c.Request.Context()
	chunks, err := s.executor.StreamChat(ctx, upstreamBody)
	if err != nil {
		writeClaudeError(c, err)
		return
	}

	streamRequested := gjson.GetBytes(rawJSON, "stream")
	if streamRequested.Exists() && streamRequested.Bool() {
		s.streamClaudeResponse(c, resolution.Model, chunks)
	} else {
		s.aggregateClaudeResponse(c, resolution.Model, chunks)
	}
}

func (s *Server) streamClaudeResponse(c *gin.Context, model string, chunks <-chan executor.StreamChunk) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	flusher, _ := c.Writer.(http.Flusher)
	writeEvents := func(events []string) {
		for _, event := range events {
			_, _ = c.Writer.WriteString(event)
		}
		if len(events) > 0 && flusher != nil {
			flusher.Flush()
		}
	}

	state := translator.NewStreamState(model)
	writeEvents(state.Start())

	for chunk := range chunks {
		if chunk.Err != nil {
			logging.WithContext(c.Request.Context()).Errorf("upstream stream error: %v", chunk.Err)
			return
		}
		writeEvents(state.Next(chunk.Line))
		if state.Done() {
			return
		}
	}
}

func (s *Server) aggregateClaudeResponse(c *gin.Context, model string, chunks <-chan executor.StreamChunk) {
	aggregator := translator.NewAggregator(model)
	for chunk := range chunks {
		if chunk.Err != nil {
			writeClaudeError(c, chunk.Err)
			return
		}
		aggregator.Next(chunk.Line)
		if aggregator.Done() {
			break
		}
	}
	c.Data(http.StatusOK, "application/json", aggregator.Message())
}
