package services

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Lllllllleong/docversions/internal/credits"
	"github.com/Lllllllleong/docversions/internal/events"
	"github.com/Lllllllleong/docversions/internal/gcp"
)

// Dispatch modes. Workflow is the default: an inline task dies with the
// function instance that returned the 202, leaving its version processing.
const (
	DispatchInline   = "inline"
	DispatchWorkflow = "workflow"
)

// Completion providers.
const (
	ProviderVertex = "vertex"
	ProviderOpenAI = "openai"
)

// DefaultMaxVersionsPerDocument caps the versions a document can have.
const DefaultMaxVersionsPerDocument = 10

// VersionGeneratorConfig holds configuration for the version generator service.
type VersionGeneratorConfig struct {
	ProjectID      string
	VertexAIRegion string
	VertexModel    string

	LLMProvider   string
	OpenAIAPIKey  string
	OpenAIModel   string
	OpenAIBaseURL string

	VersionsCollection  string
	DocumentsCollection string
	CreditsCollection   string
	ArchiveBucket       string

	DispatchMode     string
	WorkflowID       string
	WorkflowLocation string

	RedisAddr    string
	RedisChannel string

	MonthlyAllowance       int
	MaxVersionsPerDocument int
	StructuredConversation bool
}

// LoadVersionGeneratorConfig reads the configuration from the environment.
func LoadVersionGeneratorConfig() (VersionGeneratorConfig, error) {
	cfg := VersionGeneratorConfig{
		ProjectID:           gcp.GetEnv("GOOGLE_CLOUD_PROJECT_ID", ""),
		VertexAIRegion:      gcp.GetEnv("VERTEX_AI_REGION", "us-central1"),
		VertexModel:         gcp.GetEnv("VERTEX_MODEL", ""),
		LLMProvider:         strings.ToLower(gcp.GetEnv("LLM_PROVIDER", ProviderVertex)),
		OpenAIAPIKey:        gcp.GetEnv("OPENAI_API_KEY", ""),
		OpenAIModel:         gcp.GetEnv("OPENAI_MODEL", ""),
		OpenAIBaseURL:       gcp.GetEnv("OPENAI_BASE_URL", ""),
		VersionsCollection:  gcp.GetEnv("VERSIONS_COLLECTION", "documentVersions"),
		DocumentsCollection: gcp.GetEnv("DOCUMENTS_COLLECTION", "documents"),
		CreditsCollection:   gcp.GetEnv("CREDITS_COLLECTION", "userCredits"),
		ArchiveBucket:       gcp.GetEnv("VERSION_ARCHIVE_BUCKET", ""),
		DispatchMode:        strings.ToLower(gcp.GetEnv("DISPATCH_MODE", DispatchWorkflow)),
		WorkflowID:          gcp.GetEnv("WORKFLOW_ID", ""),
		WorkflowLocation:    gcp.GetEnv("WORKFLOW_LOCATION", "us-central1"),
		RedisAddr:           gcp.GetEnv("REDIS_ADDR", ""),
		RedisChannel:        gcp.GetEnv("REDIS_CHANNEL", events.DefaultChannel),
	}

	var err error
	if cfg.MonthlyAllowance, err = envInt("MONTHLY_CREDIT_ALLOWANCE", credits.DefaultMonthlyAllowance); err != nil {
		return cfg, err
	}
	if cfg.MaxVersionsPerDocument, err = envInt("MAX_VERSIONS_PER_DOCUMENT", DefaultMaxVersionsPerDocument); err != nil {
		return cfg, err
	}
	if cfg.StructuredConversation, err = strconv.ParseBool(gcp.GetEnv("CONVERSATION_STRUCTURED", "true")); err != nil {
		return cfg, fmt.Errorf("CONVERSATION_STRUCTURED: %w", err)
	}
	return cfg, cfg.validate()
}

func (c VersionGeneratorConfig) validate() error {
	if c.ProjectID == "" {
		return fmt.Errorf("GOOGLE_CLOUD_PROJECT_ID environment variable must be set")
	}
	switch c.LLMProvider {
	case ProviderVertex:
	case ProviderOpenAI:
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY must be set when LLM_PROVIDER=%s", ProviderOpenAI)
		}
	default:
		return fmt.Errorf("unknown LLM_PROVIDER %q", c.LLMProvider)
	}
	switch c.DispatchMode {
	case DispatchInline:
	case DispatchWorkflow:
		if c.WorkflowID == "" {
			return fmt.Errorf("WORKFLOW_ID must be set when DISPATCH_MODE=%s", DispatchWorkflow)
		}
	default:
		return fmt.Errorf("unknown DISPATCH_MODE %q", c.DispatchMode)
	}
	if c.MaxVersionsPerDocument < 1 {
		return fmt.Errorf("MAX_VERSIONS_PER_DOCUMENT must be positive, got %d", c.MaxVersionsPerDocument)
	}
	return nil
}

func envInt(key string, fallback int) (int, error) {
	raw := gcp.GetEnv(key, "")
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}
