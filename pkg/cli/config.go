package cli

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/m-mizutani/castmate/pkg/adapter"
	"github.com/m-mizutani/castmate/pkg/interfaces"
	"github.com/m-mizutani/castmate/pkg/model"
	"github.com/m-mizutani/castmate/pkg/policy"
	"github.com/m-mizutani/castmate/pkg/repository"
	"github.com/m-mizutani/castmate/pkg/usecase/chat"
	"github.com/m-mizutani/castmate/pkg/usecase/memory"
	"github.com/m-mizutani/castmate/pkg/usecase/podcast"
	"github.com/m-mizutani/castmate/pkg/utils/logging"
	"github.com/m-mizutani/castmate/pkg/utils/retry"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

const (
	storeFirestore = "firestore"
	storeLocal     = "local"

	llmGemini = "gemini"
	llmClaude = "claude"
)

// config holds configuration values
type config struct {
	// Logging
	logLevel  string
	logFormat string

	// Repository
	store      string
	project    string
	database   string
	collection string
	localDir   string

	// Adapters
	llm             string
	geminiAPIKey    string
	geminiProject   string
	geminiLocation  string
	generativeModel string
	embeddingModel  string
	embeddingDims   int64
	anthropicAPIKey string
	claudeModel     string

	// Memory
	owner           string
	memoryLimit     int64
	memoryThreshold float64
	callTimeout     time.Duration
	embedCacheSize  int64
	policyDir       string
}

// globalFlags returns common flags used across commands with destination config
func globalFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "Log level (debug, info, warn, error)",
			Value:       "info",
			Sources:     cli.EnvVars("CASTMATE_LOG_LEVEL"),
			Destination: &cfg.logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "Log format (console, json)",
			Value:       string(logging.FormatConsole),
			Sources:     cli.EnvVars("CASTMATE_LOG_FORMAT"),
			Destination: &cfg.logFormat,
		},
		&cli.StringFlag{
			Name:        "owner",
			Aliases:     []string{"o"},
			Usage:       "Owner (session) ID that scopes memories. A new one is generated if empty",
			Sources:     cli.EnvVars("CASTMATE_OWNER"),
			Destination: &cfg.owner,
		},
	}
}

// repositoryFlags returns flags for the memory store
func repositoryFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "store",
			Usage:       "Memory store (firestore, local)",
			Value:       storeFirestore,
			Sources:     cli.EnvVars("CASTMATE_STORE"),
			Destination: &cfg.store,
		},
		&cli.StringFlag{
			Name:        "project",
			Aliases:     []string{"p"},
			Usage:       "Google Cloud project ID",
			Sources:     cli.EnvVars("GOOGLE_CLOUD_PROJECT"),
			Destination: &cfg.project,
		},
		&cli.StringFlag{
			Name:        "database",
			Aliases:     []string{"d"},
			Usage:       "Firestore database ID",
			Value:       "(default)",
			Sources:     cli.EnvVars("FIRESTORE_DATABASE_ID"),
			Destination: &cfg.database,
		},
		&cli.StringFlag{
			Name:        "collection",
			Usage:       "Firestore collection for memories",
			Value:       repository.DefaultCollection,
			Sources:     cli.EnvVars("CASTMATE_COLLECTION"),
			Destination: &cfg.collection,
		},
		&cli.StringFlag{
			Name:        "local-dir",
			Usage:       "Directory to persist the local store. Memory only if empty",
			Sources:     cli.EnvVars("CASTMATE_LOCAL_DIR"),
			Destination: &cfg.localDir,
		},
	}
}

// llmFlags returns flags for LLM-related configuration with destination config
func llmFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "llm",
			Usage:       "Text generation backend (gemini, claude)",
			Value:       llmGemini,
			Sources:     cli.EnvVars("CASTMATE_LLM"),
			Destination: &cfg.llm,
		},
		&cli.StringFlag{
			Name:        "gemini-api-key",
			Usage:       "Gemini API key. Vertex AI is used if empty",
			Sources:     cli.EnvVars("GEMINI_API_KEY", "GOOGLE_API_KEY"),
			Destination: &cfg.geminiAPIKey,
		},
		&cli.StringFlag{
			Name:        "gemini-project",
			Usage:       "Google Cloud project ID for Gemini",
			Sources:     cli.EnvVars("GEMINI_PROJECT_ID"),
			Destination: &cfg.geminiProject,
		},
		&cli.StringFlag{
			Name:        "gemini-location",
			Usage:       "Google Cloud location for Gemini",
			Value:       "us-central1",
			Sources:     cli.EnvVars("GEMINI_LOCATION"),
			Destination: &cfg.geminiLocation,
		},
		&cli.StringFlag{
			Name:        "generative-model",
			Usage:       "Gemini model for text generation",
			Value:       adapter.DefaultGenerativeModel,
			Sources:     cli.EnvVars("GEMINI_GENERATIVE_MODEL"),
			Destination: &cfg.generativeModel,
		},
		&cli.StringFlag{
			Name:        "embedding-model",
			Usage:       "Gemini model for embeddings",
			Value:       adapter.DefaultEmbeddingModel,
			Sources:     cli.EnvVars("GEMINI_EMBEDDING_MODEL"),
			Destination: &cfg.embeddingModel,
		},
		&cli.IntFlag{
			Name:        "embedding-dimensions",
			Usage:       "Embedding vector size",
			Value:       adapter.DefaultEmbeddingDimensions,
			Sources:     cli.EnvVars("GEMINI_EMBEDDING_DIMENSIONS"),
			Destination: &cfg.embeddingDims,
		},
		&cli.StringFlag{
			Name:        "anthropic-api-key",
			Usage:       "Anthropic API key (required with --llm claude)",
			Sources:     cli.EnvVars("ANTHROPIC_API_KEY"),
			Destination: &cfg.anthropicAPIKey,
		},
		&cli.StringFlag{
			Name:        "claude-model",
			Usage:       "Claude model for text generation",
			Value:       adapter.DefaultClaudeModel,
			Sources:     cli.EnvVars("CLAUDE_MODEL"),
			Destination: &cfg.claudeModel,
		},
		&cli.DurationFlag{
			Name:        "call-timeout",
			Usage:       "Timeout of each embedding, generation and store call",
			Value:       retry.Default.Timeout,
			Sources:     cli.EnvVars("CASTMATE_CALL_TIMEOUT"),
			Destination: &cfg.callTimeout,
		},
	}
}

// memoryFlags returns flags for retrieval and admission of memories
func memoryFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:        "memory-limit",
			Usage:       "Maximum number of memories recalled per message",
			Value:       memory.DefaultLimit,
			Sources:     cli.EnvVars("CASTMATE_MEMORY_LIMIT"),
			Destination: &cfg.memoryLimit,
		},
		&cli.FloatFlag{
			Name:        "memory-threshold",
			Usage:       "Minimum cosine similarity (0.0-1.0) for a memory to be recalled",
			Value:       memory.DefaultThreshold,
			Sources:     cli.EnvVars("CASTMATE_MEMORY_THRESHOLD"),
			Destination: &cfg.memoryThreshold,
		},
		&cli.IntFlag{
			Name:        "embed-cache-size",
			Usage:       "Number of embeddings kept in memory. 0 disables the cache",
			Value:       1024,
			Sources:     cli.EnvVars("CASTMATE_EMBED_CACHE_SIZE"),
			Destination: &cfg.embedCacheSize,
		},
		&cli.StringFlag{
			Name:        "policy-dir",
			Usage:       "Directory of Rego policies (package memory, rule deny) filtering stored memories",
			Sources:     cli.EnvVars("CASTMATE_POLICY_DIR"),
			Destination: &cfg.policyDir,
		},
	}
}

func allFlags(cfg *config) []cli.Flag {
	var flags []cli.Flag
	flags = append(flags, globalFlags(cfg)...)
	flags = append(flags, repositoryFlags(cfg)...)
	flags = append(flags, llmFlags(cfg)...)
	flags = append(flags, memoryFlags(cfg)...)
	return flags
}

// setupLogger installs the configured logger as default and into ctx
func (cfg *config) setupLogger(ctx context.Context, w io.Writer) context.Context {
	if w == nil {
		w = os.Stderr
	}
	logger := logging.NewWithFormat(cfg.logLevel, logging.Format(cfg.logFormat), w)
	logging.SetDefault(logger)
	return logging.With(ctx, logger)
}

func (cfg *config) ownerID(ctx context.Context) model.OwnerID {
	if cfg.owner != "" {
		return model.OwnerID(cfg.owner)
	}
	owner := model.NewOwnerID()
	logging.From(ctx).Info("no owner given, memories are scoped to a new owner", "owner_id", owner)
	return owner
}

func (cfg *config) retryPolicy() retry.Policy {
	p := retry.Default
	if cfg.callTimeout > 0 {
		p.Timeout = cfg.callTimeout
	}
	return p
}

// newRepository creates a new repository instance
func (cfg *config) newRepository(ctx context.Context) (interfaces.MemoryRepository, func(), error) {
	switch cfg.store {
	case storeLocal:
		repo, err := repository.NewChromem(cfg.localDir)
		if err != nil {
			return nil, nil, goerr.Wrap(err, "failed to create local repository")
		}
		return repo, func() {}, nil

	case storeFirestore:
		if cfg.project == "" {
			return nil, nil, goerr.New("project is required")
		}
		if cfg.database == "" {
			return nil, nil, goerr.New("database is required")
		}

		repo, err := repository.New(ctx, cfg.project, cfg.database, repository.WithCollection(cfg.collection))
		if err != nil {
			return nil, nil, goerr.Wrap(err, "failed to create repository")
		}
		return repo, func() {
			if err := repo.Close(); err != nil {
				logging.From(ctx).Warn("failed to close repository", "error", err)
			}
		}, nil

	default:
		return nil, nil, goerr.New("unknown store", goerr.V("store", cfg.store))
	}
}

// newGemini creates a new Gemini adapter instance
func (cfg *config) newGemini(ctx context.Context) (*adapter.GeminiClient, error) {
	if cfg.geminiAPIKey == "" {
		if cfg.geminiProject == "" {
			return nil, goerr.New("gemini-api-key or gemini-project is required")
		}
		if cfg.geminiLocation == "" {
			return nil, goerr.New("gemini-location is required")
		}
	}

	gemini, err := adapter.NewGemini(ctx, adapter.GeminiConfig{
		APIKey:   cfg.geminiAPIKey,
		Project:  cfg.geminiProject,
		Location: cfg.geminiLocation,
	},
		adapter.WithGenerativeModel(cfg.generativeModel),
		adapter.WithEmbeddingModel(cfg.embeddingModel),
		adapter.WithEmbeddingDimensions(int32(cfg.embeddingDims)),
	)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create gemini client")
	}
	return gemini, nil
}

// newClaude creates a new Claude adapter instance
func (cfg *config) newClaude() (*adapter.ClaudeClient, error) {
	if cfg.anthropicAPIKey == "" {
		return nil, goerr.New("anthropic-api-key is required")
	}
	return adapter.NewClaude(cfg.anthropicAPIKey, adapter.WithClaudeModel(cfg.claudeModel)), nil
}

// newGenerator picks the text generation backend
func (cfg *config) newGenerator(gemini *adapter.GeminiClient) (interfaces.Generator, error) {
	switch cfg.llm {
	case llmGemini:
		return gemini, nil
	case llmClaude:
		return cfg.newClaude()
	default:
		return nil, goerr.New("unknown llm", goerr.V("llm", cfg.llm))
	}
}

// newEmbedder wraps base with a cache unless disabled
func (cfg *config) newEmbedder(base interfaces.Embedder) (interfaces.Embedder, func(), error) {
	if cfg.embedCacheSize <= 0 {
		return base, func() {}, nil
	}
	cached, err := adapter.NewCachedEmbedder(base, cfg.embedCacheSize)
	if err != nil {
		return nil, nil, goerr.Wrap(err, "failed to create embedding cache")
	}
	return cached, cached.Close, nil
}

// newStorage creates a new Storage adapter instance
func (cfg *config) newStorage(ctx context.Context, bucketName string) (adapter.Storage, error) {
	if bucketName == "" {
		return nil, goerr.New("bucket name is required")
	}

	storage, err := adapter.NewStorage(ctx, bucketName)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create storage")
	}
	return storage, nil
}

// app is the set of use cases a command works with
type app struct {
	owner   model.OwnerID
	memory  *memory.UseCase
	podcast *podcast.UseCase
	router  *chat.Router
	closers []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// newApp wires repository, providers and use cases from cfg
func (cfg *config) newApp(ctx context.Context) (*app, error) {
	if cfg.memoryThreshold < 0 || cfg.memoryThreshold > 1 {
		return nil, goerr.New("memory-threshold must be between 0 and 1", goerr.V("value", cfg.memoryThreshold))
	}

	a := &app{owner: cfg.ownerID(ctx)}

	repo, closeRepo, err := cfg.newRepository(ctx)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, closeRepo)

	gemini, err := cfg.newGemini(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	gen, err := cfg.newGenerator(gemini)
	if err != nil {
		a.Close()
		return nil, err
	}

	embedder, closeEmbedder, err := cfg.newEmbedder(gemini)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, closeEmbedder)

	admission, err := policy.Load(ctx, cfg.policyDir)
	if err != nil {
		a.Close()
		return nil, goerr.Wrap(err, "failed to load memory policy")
	}

	p := cfg.retryPolicy()
	a.memory = memory.New(repo, embedder,
		memory.WithLimit(int(cfg.memoryLimit)),
		memory.WithThreshold(cfg.memoryThreshold),
		memory.WithRetryPolicy(p),
	)
	a.podcast = podcast.New(gen, podcast.WithRetryPolicy(p))
	a.router = chat.NewRouter(a.memory, a.podcast, chat.WithAdmission(admission))

	logging.From(ctx).Debug("castmate configured",
		"store", cfg.store,
		"llm", cfg.llm,
		"embedding_model", embedder.EmbeddingModel(),
		"policy", admission.Enabled())

	return a, nil
}

// newPodcast wires only the generation backend for memory-less commands
func (cfg *config) newPodcast(ctx context.Context) (*podcast.UseCase, error) {
	var gemini *adapter.GeminiClient
	if cfg.llm != llmClaude {
		g, err := cfg.newGemini(ctx)
		if err != nil {
			return nil, err
		}
		gemini = g
	}

	gen, err := cfg.newGenerator(gemini)
	if err != nil {
		return nil, err
	}
	return podcast.New(gen, podcast.WithRetryPolicy(cfg.retryPolicy())), nil
}

// newBigQuery creates a new BigQuery adapter instance
func (cfg *config) newBigQuery(ctx context.Context, project string) (adapter.BigQuery, error) {
	if project == "" {
		return nil, goerr.New("BigQuery project is required")
	}

	bq, err := adapter.NewBigQuery(ctx, project)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create BigQuery client")
	}
	return bq, nil
}
