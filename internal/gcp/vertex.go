package gcp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/vertexai/genai"
	"github.com/sashabaranov/go-openai/jsonschema"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/Lllllllleong/docversions/internal/llm"
)

// Compile-time interface compliance check.
var _ llm.Provider = (*VertexClient)(nil)

const defaultVertexModel = "gemini-1.5-pro"

// VertexClient serves both completion capabilities from Vertex AI Gemini models.
// A GenerativeModel is configured per call because system instructions and
// response schemas differ between pipeline stages.
type VertexClient struct {
	baseClient *genai.Client
	modelName  string
	retry      llm.RetryConfig
}

// NewVertexClient creates a new client for projectID in region.
func NewVertexClient(ctx context.Context, projectID, region, modelName string) (*VertexClient, error) {
	if projectID == "" || region == "" {
		return nil, fmt.Errorf("NewVertexClient: projectID and region cannot be empty")
	}
	if modelName == "" {
		modelName = defaultVertexModel
	}

	baseClient, err := genai.NewClient(ctx, projectID, region)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}

	return &VertexClient{
		baseClient: baseClient,
		modelName:  modelName,
		retry:      llm.DefaultRetryConfig,
	}, nil
}

func (c *VertexClient) Close() error {
	if c.baseClient != nil {
		return c.baseClient.Close()
	}
	return nil
}

// model builds a GenerativeModel carrying the request's system instruction
// and generation settings, plus the user turns to send as parts.
func (c *VertexClient) model(req llm.Request) (*genai.GenerativeModel, []genai.Part) {
	model := c.baseClient.GenerativeModel(c.modelName)

	system, rest := llm.SplitSystem(req.Messages)
	if system != "" {
		model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(system)},
		}
	}
	if req.Temperature != nil {
		model.SetTemperature(*req.Temperature)
	}
	if req.MaxOutputTokens > 0 {
		model.SetMaxOutputTokens(int32(req.MaxOutputTokens))
	}
	if req.JSON {
		model.ResponseMIMEType = "application/json"
	}
	model.SafetySettings = []*genai.SafetySetting{
		{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockNone},
	}

	parts := make([]genai.Part, 0, len(rest))
	for _, m := range rest {
		parts = append(parts, genai.Text(m.Content))
	}
	return model, parts
}

// Complete implements llm.Completer.
func (c *VertexClient) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	model, parts := c.model(req)
	return llm.RetryWithBackoff(ctx, c.retry, func() (*llm.Response, error) {
		resp, err := model.GenerateContent(ctx, parts...)
		if err != nil {
			return nil, classifyVertexError(err)
		}
		return &llm.Response{Text: responseText(resp), Usage: vertexUsage(resp)}, nil
	}, llm.IsRetryable)
}

// Stream implements llm.Completer.
func (c *VertexClient) Stream(ctx context.Context, req llm.Request, onDelta func(string) error) (llm.Usage, error) {
	model, parts := c.model(req)

	// Cancelling the context tears down the underlying gRPC stream when the
	// consumer stops early.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	iter := model.GenerateContentStream(ctx, parts...)
	var usage llm.Usage
	for {
		resp, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return usage, nil
		}
		if err != nil {
			return usage, classifyVertexError(err)
		}
		if resp.UsageMetadata != nil {
			usage = vertexUsage(resp)
		}
		if delta := responseText(resp); delta != "" {
			if err := onDelta(delta); err != nil {
				return usage, err
			}
		}
	}
}

// CompleteStructured implements llm.StructuredCompleter with a response schema.
func (c *VertexClient) CompleteStructured(ctx context.Context, req llm.Request, schemaName string, out any) (llm.Usage, error) {
	schema, err := llm.SchemaFor(out)
	if err != nil {
		return llm.Usage{}, err
	}
	model, parts := c.model(req)
	model.ResponseMIMEType = "application/json"
	model.ResponseSchema = toGenaiSchema(schema, schema.Defs)
	model.ResponseSchema.Title = schemaName

	resp, err := llm.RetryWithBackoff(ctx, c.retry, func() (*genai.GenerateContentResponse, error) {
		r, err := model.GenerateContent(ctx, parts...)
		if err != nil {
			return nil, classifyVertexError(err)
		}
		return r, nil
	}, llm.IsRetryable)
	if err != nil {
		return llm.Usage{}, err
	}
	return vertexUsage(resp), llm.DecodeStructured(schema, responseText(resp), out)
}

// toGenaiSchema converts a JSON schema definition into the OpenAPI subset
// Vertex AI accepts, inlining $ref definitions.
func toGenaiSchema(def *jsonschema.Definition, defs map[string]jsonschema.Definition) *genai.Schema {
	if def == nil {
		return nil
	}
	if def.Ref != "" {
		if target, ok := defs[strings.TrimPrefix(def.Ref, "#/$defs/")]; ok {
			return toGenaiSchema(&target, defs)
		}
	}

	s := &genai.Schema{
		Description: def.Description,
		Nullable:    def.Nullable,
		Enum:        def.Enum,
		Required:    def.Required,
	}
	switch def.Type {
	case jsonschema.String:
		s.Type = genai.TypeString
	case jsonschema.Integer:
		s.Type = genai.TypeInteger
	case jsonschema.Number:
		s.Type = genai.TypeNumber
	case jsonschema.Boolean:
		s.Type = genai.TypeBoolean
	case jsonschema.Array:
		s.Type = genai.TypeArray
		s.Items = toGenaiSchema(def.Items, defs)
	case jsonschema.Object:
		s.Type = genai.TypeObject
		s.Properties = make(map[string]*genai.Schema, len(def.Properties))
		for name, prop := range def.Properties {
			s.Properties[name] = toGenaiSchema(&prop, defs)
		}
	}
	return s
}

// responseText concatenates the text parts of the first candidate.
func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}
	return b.String()
}

func vertexUsage(resp *genai.GenerateContentResponse) llm.Usage {
	if resp == nil || resp.UsageMetadata == nil {
		return llm.Usage{}
	}
	return llm.Usage{
		PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
		CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
	}
}

func classifyVertexError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	code := status.Code(err)
	switch code {
	case codes.ResourceExhausted, codes.Unavailable, codes.Internal:
		return llm.ProviderErr(fmt.Sprintf("vertex ai (%s)", code), true, err)
	}
	return llm.ProviderErr(fmt.Sprintf("vertex ai (%s)", code), false, err)
}
