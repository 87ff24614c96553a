package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tjfontaine/socratic-gateway/internal/api/middleware"
	"github.com/tjfontaine/socratic-gateway/internal/domain"
	"github.com/tjfontaine/socratic-gateway/internal/model"
	"github.com/tjfontaine/socratic-gateway/internal/provider"
	"github.com/tjfontaine/socratic-gateway/internal/tools"
)

// Stream outcomes, used as metric labels.
const (
	statusOK        = "ok"
	statusError     = "error"
	statusCancelled = "cancelled"
)

// turn is an admitted chat request.
type turn struct {
	ip             string
	origin         string
	principal      string
	conversationID string
	binding        model.Binding
	messages       []domain.Message
}

// stream runs the completion for an admitted request. Failures before the
// first byte produce a JSON 500; later failures end the stream with a
// generic error chunk.
func (p *Pipeline) stream(w http.ResponseWriter, r *http.Request, t *turn) {
	ctx := tools.WithPrincipal(r.Context(), t.principal)
	start := p.now()

	prov, ok := p.deps.Providers.Get(t.binding.Provider)
	if !ok {
		p.failBeforeStream(w, r, t, fmt.Errorf("provider %q is not configured", t.binding.Provider))
		return
	}

	req := &domain.CompletionRequest{
		Model:     t.binding.Model,
		System:    p.systemPrompt,
		Messages:  toModelMessages(t.messages),
		Tools:     p.deps.Tools.Definitions(),
		MaxTokens: p.maxTokens,
	}

	p.observePrompt(ctx, req)
	events, err := prov.Stream(ctx, req)
	if err != nil {
		p.failBeforeStream(w, r, t, err)
		return
	}

	p.deps.Guard.Apply(w, t.origin)
	sw := newStreamWriter(w)
	sw.begin()
	p.deps.Metrics.ObserveRequest(strconv.Itoa(http.StatusOK))
	defer p.deps.Metrics.StreamStarted()()

	parts, err := p.run(ctx, sw, prov, req, events, start)

	status := statusOK
	switch {
	case ctx.Err() != nil:
		status = statusCancelled
		p.deps.Metrics.ObserveClientDisconnect()
		p.logger.Info("client disconnected", slog.String("ip", t.ip))
	case err != nil:
		status = statusError
		p.logger.Error("chat_error",
			slog.String("ip", t.ip),
			slog.String("provider", prov.Name()),
			slog.String("error", err.Error()),
		)
		middleware.AddError(ctx, err)
		if sendErr := sw.send(chunk{Type: chunkError, ErrorText: MsgStreamError}); sendErr == nil {
			sw.done()
		}
	default:
		if sendErr := sw.send(chunk{Type: chunkFinish}); sendErr == nil {
			sw.done()
		}
	}
	p.deps.Metrics.ObserveStream(status, p.now().Sub(start).Seconds())

	if p.deps.Recorder != nil {
		p.deps.Recorder.RecordAssistant(ctx, t.principal, t.conversationID, parts)
	}
}

func (p *Pipeline) failBeforeStream(w http.ResponseWriter, r *http.Request, t *turn, err error) {
	p.logger.Error("chat_error", slog.String("ip", t.ip), slog.String("error", err.Error()))
	writeError(w, r, p.deps.Guard, t.origin, domain.ErrServer(err))
	p.deps.Metrics.ObserveRequest(strconv.Itoa(http.StatusInternalServerError))
}

// run drives up to maxSteps provider calls. A step that ends with tool calls
// has them executed and their results appended to the conversation before
// the next call. It returns the parts of the assistant message produced so
// far, even on error.
func (p *Pipeline) run(ctx context.Context, sw *streamWriter, prov provider.Provider, req *domain.CompletionRequest, events <-chan domain.StreamEvent, start time.Time) ([]domain.Part, error) {
	var parts []domain.Part
	if err := sw.send(chunk{Type: chunkStart, MessageID: p.newID()}); err != nil {
		return parts, err
	}

	sawToken := false
	firstToken := func() {
		if !sawToken {
			sawToken = true
			p.deps.Metrics.ObserveTimeToFirstToken(p.now().Sub(start).Seconds())
		}
	}

	for step := 0; ; step++ {
		if step > 0 {
			p.observePrompt(ctx, req)
			var err error
			if events, err = prov.Stream(ctx, req); err != nil {
				return parts, err
			}
		}

		if err := sw.send(chunk{Type: chunkStartStep}); err != nil {
			return parts, err
		}
		res, err := p.consume(ctx, sw, events, firstToken)
		parts = append(parts, res.parts...)
		if err != nil {
			return parts, err
		}

		outcomes := p.executeTools(ctx, res.calls)
		for _, o := range outcomes {
			if err := sw.send(o.chunk()); err != nil {
				return parts, err
			}
			parts = append(parts, o.part())
		}
		if err := sw.send(chunk{Type: chunkFinishStep}); err != nil {
			return parts, err
		}

		if len(res.calls) == 0 || step+1 >= p.maxSteps {
			return parts, nil
		}
		if err := ctx.Err(); err != nil {
			return parts, err
		}
		req.Messages = append(req.Messages,
			domain.ModelMessage{Role: domain.RoleAssistant, Content: res.blocks},
			toolResults(outcomes),
		)
	}
}

// stepResult is what one provider call produced.
type stepResult struct {
	blocks []domain.ContentBlock
	parts  []domain.Part
	calls  []*domain.ToolCall
	finish string
}

// consume forwards one provider stream to the client until it finishes.
func (p *Pipeline) consume(ctx context.Context, sw *streamWriter, events <-chan domain.StreamEvent, firstToken func()) (*stepResult, error) {
	res := &stepResult{}

	var (
		textID string
		text   strings.Builder
	)
	endText := func() error {
		if textID == "" {
			return nil
		}
		id := textID
		textID = ""
		res.blocks = append(res.blocks, domain.ContentBlock{Type: domain.ContentText, Text: text.String()})
		res.parts = append(res.parts, domain.NewTextPart(text.String()))
		text.Reset()
		return sw.send(chunk{Type: chunkTextEnd, ID: id})
	}

	for {
		var (
			ev domain.StreamEvent
			ok bool
		)
		select {
		case <-ctx.Done():
			return res, ctx.Err()
		case ev, ok = <-events:
		}
		if !ok {
			endText()
			return res, io.ErrUnexpectedEOF
		}

		switch ev.Type {
		case domain.EventTextDelta:
			if ev.TextDelta == "" {
				continue
			}
			firstToken()
			if textID == "" {
				textID = p.newID()
				if err := sw.send(chunk{Type: chunkTextStart, ID: textID}); err != nil {
					return res, err
				}
			}
			text.WriteString(ev.TextDelta)
			if err := sw.send(chunk{Type: chunkTextDelta, ID: textID, Delta: ev.TextDelta}); err != nil {
				return res, err
			}

		case domain.EventToolCall:
			if err := endText(); err != nil {
				return res, err
			}
			if ev.ToolCall == nil {
				continue
			}
			call := new(domain.ToolCall)
			*call = *ev.ToolCall
			if call.ID == "" {
				call.ID = p.newID()
			}
			res.calls = append(res.calls, call)
			res.blocks = append(res.blocks, domain.ContentBlock{
				Type:       domain.ContentToolCall,
				ToolCallID: call.ID,
				ToolName:   call.Name,
				Input:      call.Input,
			})
			if err := sw.send(chunk{
				Type:       chunkToolInputAvailable,
				ToolCallID: call.ID,
				ToolName:   call.Name,
				Input:      call.Input,
			}); err != nil {
				return res, err
			}

		case domain.EventFinish:
			res.finish = ev.FinishReason
			return res, endText()

		case domain.EventError:
			endText()
			if ev.Err == nil {
				return res, errors.New("provider stream failed")
			}
			return res, ev.Err
		}
	}
}

// toolOutcome is the result of one tool call. Exactly one of output and
// errText is set.
type toolOutcome struct {
	call    *domain.ToolCall
	output  json.RawMessage
	errText string
}

func (o toolOutcome) chunk() chunk {
	if o.errText != "" {
		return chunk{Type: chunkToolOutputError, ToolCallID: o.call.ID, ErrorText: o.errText}
	}
	return chunk{Type: chunkToolOutputAvailable, ToolCallID: o.call.ID, Output: o.output}
}

func (o toolOutcome) part() domain.Part {
	inv := domain.ToolInvocationPart{
		ToolCallID: o.call.ID,
		ToolName:   o.call.Name,
		State:      domain.ToolStateOutputAvailable,
		Input:      o.call.Input,
		Output:     o.output,
	}
	if o.errText != "" {
		inv.State = domain.ToolStateOutputError
		inv.Output = nil
		inv.ErrorText = o.errText
	}
	return domain.NewToolPart(inv)
}

func toolResults(outcomes []toolOutcome) domain.ModelMessage {
	msg := domain.ModelMessage{Role: domain.RoleTool}
	for _, o := range outcomes {
		block := domain.ContentBlock{
			Type:       domain.ContentToolResult,
			ToolCallID: o.call.ID,
			ToolName:   o.call.Name,
			Output:     o.output,
		}
		if o.errText != "" {
			block.Output, _ = json.Marshal(o.errText)
			block.IsError = true
		}
		msg.Content = append(msg.Content, block)
	}
	return msg
}

// executeTools runs the calls of one step concurrently, bounded by
// toolConcurrency. Outcomes keep the order of calls.
func (p *Pipeline) executeTools(ctx context.Context, calls []*domain.ToolCall) []toolOutcome {
	outcomes := make([]toolOutcome, len(calls))

	var g errgroup.Group
	g.SetLimit(p.toolConcurrency)
	for i, call := range calls {
		g.Go(func() error {
			outcomes[i] = p.runTool(ctx, call)
			return nil
		})
	}
	g.Wait()

	return outcomes
}

func (p *Pipeline) runTool(ctx context.Context, call *domain.ToolCall) toolOutcome {
	label := call.Name
	if _, known := p.deps.Tools.Get(call.Name); !known {
		label = "unknown"
	}

	out := toolOutcome{call: call}
	result, err := p.deps.Tools.Execute(ctx, call.Name, call.Input)
	if err == nil {
		out.output, err = json.Marshal(result)
	}
	if err != nil {
		p.deps.Metrics.ObserveToolCall(label, statusError)
		p.logger.Warn("tool call failed",
			slog.String("tool", call.Name),
			slog.String("tool_call_id", call.ID),
			slog.String("error", err.Error()),
		)
		out.output = nil
		out.errText = toolErrorText(err)
		return out
	}

	p.deps.Metrics.ObserveToolCall(label, statusOK)
	return out
}

// toolErrorText is what the model and the client see for a failed tool
// call. Input problems are shown so the model can correct itself; anything
// else is generic.
func toolErrorText(err error) string {
	if errors.Is(err, tools.ErrInvalidInput) || errors.Is(err, tools.ErrUnknownTool) {
		return err.Error()
	}
	return "Tool execution failed"
}

func (p *Pipeline) observePrompt(ctx context.Context, req *domain.CompletionRequest) {
	if p.deps.Tokens == nil {
		return
	}
	n, err := p.deps.Tokens.CountRequest(req)
	if err != nil {
		p.logger.Debug("prompt token estimate failed", slog.String("error", err.Error()))
		return
	}
	p.deps.Metrics.ObservePromptTokens(n)
	middleware.AddLogField(ctx, "prompt_tokens_estimate", strconv.Itoa(n))
}
