package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Lllllllleong/docversions/internal/apperr"
	"github.com/Lllllllleong/docversions/internal/blocks"
	"github.com/Lllllllleong/docversions/internal/credits"
	"github.com/Lllllllleong/docversions/internal/events"
	"github.com/Lllllllleong/docversions/internal/gcp"
	"github.com/Lllllllleong/docversions/internal/llm"
	"github.com/Lllllllleong/docversions/internal/models"
	"github.com/Lllllllleong/docversions/internal/services"
	"github.com/Lllllllleong/docversions/internal/sqlitedb"
	"github.com/Lllllllleong/docversions/internal/store"
	"github.com/Lllllllleong/docversions/internal/strategies"
)

type rootOptions struct {
	dbPath  string
	user    string
	verbose bool
}

// local is the SQLite-backed pipeline the CLI drives.
type local struct {
	store  *store.SQLiteStore
	ledger *credits.SQLiteLedger
	close  func() error
}

func openLocal(ctx context.Context, opts *rootOptions) (*local, error) {
	db, err := sqlitedb.Open(opts.dbPath, sqlitedb.WithMkdirAll())
	if err != nil {
		return nil, err
	}
	st, err := store.NewSQLiteStore(ctx, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	policy := credits.DefaultRefillPolicy()
	if n, err := envInt("MONTHLY_CREDIT_ALLOWANCE"); err != nil {
		db.Close()
		return nil, err
	} else if n > 0 {
		policy.MonthlyAllowance = n
	}
	ledger, err := credits.NewSQLiteLedger(ctx, db, policy)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &local{store: st, ledger: ledger, close: db.Close}, nil
}

func envInt(key string) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

type generateOptions struct {
	level       int
	language    string
	docLanguage string
	duration    string
	title       string
	name        string
	provider    string
	output      string
	rawDialogue bool
}

func generateCmd(root *rootOptions) *cobra.Command {
	opts := &generateOptions{}
	cmd := &cobra.Command{
		Use:   "generate <text-file>",
		Short: "Generate a version of a text document",
		Long: `Generate a version of the extracted text in <text-file>.

Levels: 0 original (translated with --lang), 1 natural narration,
2 lecture (--duration short|medium|long), 3 two-speaker conversation.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			provider, closeProvider, err := newProvider(cmd.Context(), opts.provider)
			if err != nil {
				return err
			}
			defer closeProvider()
			return runGenerate(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), root, opts, provider, args[0])
		},
	}
	cmd.Flags().IntVarP(&opts.level, "level", "l", models.LevelNatural, "processing level 0-3")
	cmd.Flags().StringVar(&opts.language, "lang", "", "target language (default: the document's)")
	cmd.Flags().StringVar(&opts.docLanguage, "doc-lang", "en", "language of the source text")
	cmd.Flags().StringVar(&opts.duration, "duration", credits.DurationMedium, "lecture duration tier")
	cmd.Flags().StringVar(&opts.title, "title", "", "document title (default: file name)")
	cmd.Flags().StringVar(&opts.name, "name", "", "version name")
	cmd.Flags().StringVar(&opts.provider, "provider", envOr("LLM_PROVIDER", services.ProviderOpenAI), "completion provider: openai or vertex")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "write the generated sections as JSON to this file")
	cmd.Flags().BoolVar(&opts.rawDialogue, "raw-dialogue", false, "use the raw JSON conversation call instead of the schema-constrained one")
	return cmd
}

func runGenerate(ctx context.Context, stdout, stderr io.Writer, root *rootOptions, opts *generateOptions, provider llm.Provider, path string) error {
	text, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	l, err := openLocal(ctx, root)
	if err != nil {
		return err
	}
	defer l.close()

	title := opts.title
	if title == "" {
		title = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	doc := &models.Document{
		ID:            uuid.NewString(),
		OwnerID:       root.user,
		Title:         title,
		Language:      opts.docLanguage,
		ExtractedText: string(text),
	}
	if err := l.store.PutDocument(ctx, doc); err != nil {
		return err
	}

	var publisher events.Publisher = &progressPrinter{w: stderr}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		bus, err := events.NewRedisBus(ctx, addr, os.Getenv("REDIS_CHANNEL"))
		if err != nil {
			return err
		}
		defer bus.Close()
		publisher = &progressPrinter{w: stderr, next: bus}
	}

	cfg := strategies.DefaultConfig()
	cfg.StructuredConversation = !opts.rawDialogue
	gen := services.NewVersionGenerator(l.store, l.store, l.ledger, strategies.NewRegistry(provider, cfg),
		services.WithPublisher(publisher))

	resp, err := gen.Create(ctx, models.CreateVersionRequest{
		UserID:          root.user,
		DocumentID:      doc.ID,
		ProcessingLevel: opts.level,
		TargetLanguage:  opts.language,
		LectureDuration: opts.duration,
		VersionName:     opts.name,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(stderr, "version %s created", resp.VersionID)
	if resp.NewCreditBalance != nil {
		fmt.Fprintf(stderr, ", %d credits left", *resp.NewCreditBalance)
	}
	fmt.Fprintln(stderr)

	if d, ok := gen.Dispatcher().(*services.InlineDispatcher); ok {
		d.Wait()
	}

	v, err := l.store.GetVersion(ctx, resp.VersionID)
	if errors.Is(err, apperr.ErrVersionNotFound) {
		return fmt.Errorf("version %s failed and was rolled back; see the log above", resp.VersionID)
	}
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(blocks.Content(v.Blocks), "", "  ")
	if err != nil {
		return err
	}
	if opts.output == "" {
		_, err = fmt.Fprintln(stdout, string(out))
		return err
	}
	return os.WriteFile(opts.output, out, 0o644)
}

// newProvider builds the completion provider named by name.
func newProvider(ctx context.Context, name string) (llm.Provider, func() error, error) {
	switch strings.ToLower(name) {
	case services.ProviderOpenAI:
		client, err := llm.NewOpenAIClient(os.Getenv("OPENAI_API_KEY"), os.Getenv("OPENAI_BASE_URL"))
		if err != nil {
			return nil, nil, err
		}
		return llm.NewOpenAIProvider(client, llm.WithOpenAIModel(os.Getenv("OPENAI_MODEL"))), func() error { return nil }, nil
	case services.ProviderVertex:
		vc, err := gcp.NewVertexClient(ctx,
			gcp.GetEnv("GOOGLE_CLOUD_PROJECT_ID", ""),
			gcp.GetEnv("VERTEX_AI_REGION", "us-central1"),
			gcp.GetEnv("VERTEX_MODEL", ""))
		if err != nil {
			return nil, nil, err
		}
		return vc, vc.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown provider %q", name)
}

func balanceCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "balance",
		Short: "Show the credit balance of --user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			l, err := openLocal(cmd.Context(), root)
			if err != nil {
				return err
			}
			defer l.close()

			b, err := l.ledger.CheckBalance(cmd.Context(), root.user)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d credits, next refill %s\n",
				root.user, b.Credits, b.NextRefillDate.Local().Format(time.DateOnly))
			return nil
		},
	}
}

func watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch <version-id>",
		Short: "Follow the progress events of a version (needs REDIS_ADDR)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bus, err := events.NewRedisBus(cmd.Context(), os.Getenv("REDIS_ADDR"), os.Getenv("REDIS_CHANNEL"))
			if err != nil {
				return err
			}
			defer bus.Close()

			printer := &progressPrinter{w: cmd.OutOrStdout()}
			err = bus.Subscribe(cmd.Context(), args[0], func(e cloudevents.Event) bool {
				_ = printer.Publish(cmd.Context(), e)
				return e.Type() == events.TypeProgress
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
}

// progressPrinter writes one line per event and forwards it to next.
type progressPrinter struct {
	w    io.Writer
	next events.Publisher
}

func (p *progressPrinter) Publish(ctx context.Context, e cloudevents.Event) error {
	if data, err := events.Decode(e); err == nil {
		line := fmt.Sprintf("[%3d%%] %s", data.Progress, data.Status)
		if data.Error != "" {
			line += ": " + data.Error
		}
		fmt.Fprintln(p.w, line)
	}
	if p.next != nil {
		return p.next.Publish(ctx, e)
	}
	return nil
}
