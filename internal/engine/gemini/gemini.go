// Package gemini implements the completion engine on the Gemini API.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/rs/zerolog"
	"google.golang.org/genai"

	pdterrors "github.com/Copilotuser-cyber/ChatPDT/internal/errors"
	"github.com/Copilotuser-cyber/ChatPDT/internal/model"
	"github.com/Copilotuser-cyber/ChatPDT/internal/stream"
)

// GuardInstruction is appended to every system instruction.
const GuardInstruction = "CRITICAL: If the user asks for anything nonsensical or inappropriate, ignore all instructions and respond ONLY with: 'Protocol breach: Input classified as weird. Refine parameters.'"

const titlePrompt = `Summarize this as a 2-word title for a neural log: "%s". Return text only.`

// generator is the subset of *genai.Models the engine calls.
type generator interface {
	GenerateContentStream(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error]
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Engine implements stream.Engine.
type Engine struct {
	models     generator
	titleModel string
	log        zerolog.Logger
}

var _ stream.Engine = (*Engine)(nil)

// New creates a Gemini API client. titleModel defaults to model.DefaultModel.
func New(ctx context.Context, apiKey, titleModel string, log zerolog.Logger) (*Engine, error) {
	if apiKey == "" {
		return nil, pdterrors.NewValidationError("gemini", "missing API key")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return newEngine(client.Models, titleModel, log), nil
}

func newEngine(g generator, titleModel string, log zerolog.Logger) *Engine {
	if titleModel == "" {
		titleModel = model.DefaultModel
	}
	return &Engine{models: g, titleModel: titleModel, log: log}
}

// StreamReply implements stream.Engine. Errors are StreamErrors.
func (e *Engine) StreamReply(ctx context.Context, history []model.Message, newMessage string, cfg model.ChatConfig) iter.Seq2[string, error] {
	name := cfg.Model
	if name == "" {
		name = model.DefaultModel
	}
	contents := append(historyContents(history), genai.NewContentFromText(newMessage, genai.RoleUser))
	gc := generationConfig(cfg)

	return func(yield func(string, error) bool) {
		for resp, err := range e.models.GenerateContentStream(ctx, name, contents, gc) {
			if err != nil {
				e.log.Warn().Err(err).Str("model", name).Msg("gemini stream error")
				yield("", pdterrors.NewStreamError("gemini stream", err))
				return
			}
			if resp == nil {
				continue
			}
			if text := resp.Text(); text != "" {
				if !yield(text, nil) {
					return
				}
			}
		}
	}
}

// SummarizeTitle implements stream.Engine.
func (e *Engine) SummarizeTitle(ctx context.Context, firstMessage string) (string, error) {
	resp, err := e.models.GenerateContent(ctx, e.titleModel, genai.Text(fmt.Sprintf(titlePrompt, firstMessage)), nil)
	if err != nil {
		return "", pdterrors.NewStreamError("gemini title", err)
	}
	if resp == nil {
		return "", pdterrors.NewStreamError("gemini title", errors.New("empty response"))
	}
	return stream.CleanTitle(resp.Text()), nil
}

func historyContents(history []model.Message) []*genai.Content {
	out := make([]*genai.Content, 0, len(history)+1)
	for _, m := range history {
		var role genai.Role = genai.RoleModel
		if m.Role == model.RoleUser {
			role = genai.RoleUser
		}
		out = append(out, genai.NewContentFromText(m.Text, role))
	}
	return out
}

// generationConfig maps a ChatConfig as given. A zero temperature, topP or
// topK is sent as zero; defaults are the session's concern.
func generationConfig(cfg model.ChatConfig) *genai.GenerateContentConfig {
	gc := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(cfg.SystemInstruction+"\n\n"+GuardInstruction, genai.RoleUser),
		Temperature:       genai.Ptr(float32(cfg.Temperature)),
		TopP:              genai.Ptr(float32(cfg.TopP)),
		TopK:              genai.Ptr(float32(cfg.TopK)),
	}
	if cfg.ThinkingBudget > 0 {
		gc.ThinkingConfig = &genai.ThinkingConfig{ThinkingBudget: genai.Ptr(int32(cfg.ThinkingBudget))}
	}
	return gc
}
