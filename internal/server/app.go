package server

import (
	"context"
	"log/slog"

	"github.com/agentbrain/agentbrain/internal/backend"
	"github.com/agentbrain/agentbrain/internal/config"
	"github.com/agentbrain/agentbrain/internal/graph"
	"github.com/agentbrain/agentbrain/internal/model"
	"github.com/agentbrain/agentbrain/internal/pipeline"
	"github.com/agentbrain/agentbrain/internal/project"
	"github.com/agentbrain/agentbrain/internal/provider"
	"github.com/agentbrain/agentbrain/internal/queue"
	"github.com/agentbrain/agentbrain/internal/search"
)

// App is the composition root: every dependency is built once here and
// passed down explicitly.
type App struct {
	Settings   *config.ProviderSettings
	Paths      *project.Paths
	Backend    backend.Backend
	Embedder   provider.Embedder
	Summarizer provider.Summarizer
	Engine     *search.Engine
	Pipeline   *pipeline.Pipeline
	Queue      *queue.Queue
	Logger     *slog.Logger
}

// NewApp wires providers, backend, engine, pipeline, and queue for the
// project rooted at root.
func NewApp(ctx context.Context, root string, settings *config.ProviderSettings, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	paths, err := project.Resolve(root)
	if err != nil {
		return nil, err
	}
	if err := paths.EnsureDirs(); err != nil {
		return nil, err
	}

	embedder, err := provider.NewEmbedderFromConfig(settings.Embedding)
	if err != nil {
		return nil, err
	}
	summarizer, err := provider.NewSummarizerFromConfig(settings.Summarization)
	if err != nil {
		_ = embedder.Close()
		return nil, err
	}

	b, err := backend.New(ctx, settings, paths.StateDir, embedder.Dimensions(), logger)
	if err != nil {
		_ = embedder.Close()
		return nil, err
	}
	if err := b.Initialize(ctx); err != nil {
		_ = b.Close()
		_ = embedder.Close()
		return nil, err
	}

	engine, err := search.NewEngine(b, embedder, logger)
	if err != nil {
		_ = b.Close()
		_ = embedder.Close()
		return nil, err
	}

	var llm *graph.LLMExtractor
	if summarizer != nil {
		llm = graph.NewLLMExtractor(summarizer, logger)
	}
	pipe, err := pipeline.New(b, embedder, llm, paths.Manifest, logger)
	if err != nil {
		_ = b.Close()
		_ = embedder.Close()
		return nil, err
	}

	app := &App{
		Settings:   settings,
		Paths:      paths,
		Backend:    b,
		Embedder:   embedder,
		Summarizer: summarizer,
		Engine:     engine,
		Pipeline:   pipe,
		Logger:     logger,
	}

	q, err := queue.Open(queue.Config{
		Dir:         paths.JobsDir,
		ProjectRoot: root,
	}, app.runJob, logger)
	if err != nil {
		_ = b.Close()
		_ = embedder.Close()
		return nil, err
	}
	app.Queue = q
	return app, nil
}

// runJob adapts the pipeline to the queue's Runner contract.
func (a *App) runJob(ctx context.Context, job model.JobRecord, onProgress func(model.JobProgress)) (queue.RunResult, error) {
	result, err := a.Pipeline.Run(ctx, job.Path, pipeline.Options{
		IncludeCode: job.Options.IncludeCode,
		Patterns:    job.Options.Patterns,
		Force:       job.Options.Force,
		OnProgress: func(p pipeline.Progress) {
			onProgress(model.JobProgress{
				FilesProcessed: p.FilesProcessed,
				FilesTotal:     p.FilesTotal,
				ChunksCreated:  p.ChunksCreated,
				CurrentFile:    p.CurrentFile,
				Percent:        p.Percent,
			})
		},
	})
	if err != nil {
		return queue.RunResult{}, err
	}

	count, err := a.Backend.GetCount(ctx, nil)
	if err != nil {
		return queue.RunResult{}, err
	}
	return queue.RunResult{
		FilesProcessed: result.FilesProcessed,
		ChunkCount:     count,
	}, nil
}

// Close releases everything in reverse construction order.
func (a *App) Close() error {
	var first error
	record := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}

	if a.Queue != nil {
		record(a.Queue.Close())
	}
	if a.Backend != nil {
		record(a.Backend.Close())
	}
	if a.Summarizer != nil {
		record(a.Summarizer.Close())
	}
	if a.Embedder != nil {
		record(a.Embedder.Close())
	}
	return first
}
