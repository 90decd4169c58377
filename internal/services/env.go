package services

import (
	"context"
	"fmt"
	"log/slog"

	"cloud.google.com/go/storage"

	"github.com/Lllllllleong/docversions/internal/credits"
	"github.com/Lllllllleong/docversions/internal/events"
	"github.com/Lllllllleong/docversions/internal/gcp"
	"github.com/Lllllllleong/docversions/internal/llm"
	"github.com/Lllllllleong/docversions/internal/store"
	"github.com/Lllllllleong/docversions/internal/strategies"
)

// NewVersionGeneratorFromEnv builds the production orchestrator: Firestore
// records and ledger, Cloud Storage, the configured completion provider,
// and the configured dispatcher and event bus.
func NewVersionGeneratorFromEnv(ctx context.Context) (*VersionGeneratorFunction, error) {
	config, err := LoadVersionGeneratorConfig()
	if err != nil {
		return nil, err
	}

	firestoreClient, err := gcp.NewFirestoreClient(ctx, config.ProjectID)
	if err != nil {
		return nil, err
	}
	storageClient, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	provider, err := newProvider(ctx, config)
	if err != nil {
		return nil, err
	}

	registryCfg := strategies.DefaultConfig()
	registryCfg.StructuredConversation = config.StructuredConversation

	policy := credits.DefaultRefillPolicy()
	policy.MonthlyAllowance = config.MonthlyAllowance

	records := store.NewFirestoreStore(firestoreClient, config.VersionsCollection, config.DocumentsCollection)
	opts := []Option{
		WithStorage(storageClient, config.ArchiveBucket),
		WithMaxVersions(config.MaxVersionsPerDocument),
	}

	if config.DispatchMode == DispatchInline {
		slog.Warn("Inline dispatch selected; versions interrupted by an instance shutdown stay processing.")
	}
	if config.DispatchMode == DispatchWorkflow {
		execClient, err := gcp.NewExecutionsClient(ctx)
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithDispatcher(NewWorkflowDispatcher(execClient, config.ProjectID, config.WorkflowLocation, config.WorkflowID)))
	}

	if config.RedisAddr != "" {
		bus, err := events.NewRedisBus(ctx, config.RedisAddr, config.RedisChannel)
		if err != nil {
			// Progress stays visible on the version record without the bus.
			slog.Warn("Redis event bus unavailable; publishing disabled.", "error", err)
		} else {
			opts = append(opts, WithPublisher(bus))
		}
	}

	slog.Info("Version generator configured.",
		"llmProvider", config.LLMProvider,
		"dispatchMode", config.DispatchMode,
		"archiveBucket", config.ArchiveBucket,
		"structuredConversation", config.StructuredConversation,
	)
	return NewVersionGenerator(
		records,
		records,
		credits.NewFirestoreLedger(firestoreClient, config.CreditsCollection, policy),
		strategies.NewRegistry(provider, registryCfg),
		opts...,
	), nil
}

func newProvider(ctx context.Context, config VersionGeneratorConfig) (llm.Provider, error) {
	if config.LLMProvider == ProviderOpenAI {
		client, err := llm.NewOpenAIClient(config.OpenAIAPIKey, config.OpenAIBaseURL)
		if err != nil {
			return nil, err
		}
		return llm.NewOpenAIProvider(client, llm.WithOpenAIModel(config.OpenAIModel)), nil
	}
	vertexClient, err := gcp.NewVertexClient(ctx, config.ProjectID, config.VertexAIRegion, config.VertexModel)
	if err != nil {
		return nil, fmt.Errorf("failed to create vertex client: %w", err)
	}
	return vertexClient, nil
}
