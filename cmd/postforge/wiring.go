package main

import (
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/TobiSchelling/postforge/internal/database"
	"github.com/TobiSchelling/postforge/internal/enhance"
	"github.com/TobiSchelling/postforge/internal/fetch"
	"github.com/TobiSchelling/postforge/internal/generate"
	"github.com/TobiSchelling/postforge/internal/llm"
	"github.com/TobiSchelling/postforge/internal/normalize"
	"github.com/TobiSchelling/postforge/internal/research"
	"github.com/TobiSchelling/postforge/internal/runner"
	"github.com/TobiSchelling/postforge/internal/transcript"
)

// services holds the components built from the loaded config.
type services struct {
	provider     llm.Provider
	normalizer   *normalize.Normalizer
	orchestrator *generate.Orchestrator
}

func buildServices(db *database.DB) *services {
	provider := llm.CreateProvider(cfg.LLM, log)
	n := normalize.New(db, db, normalize.Config{
		BaseURL:         cfg.Site.BaseURL,
		ArticlePath:     cfg.Site.ArticlePath,
		DefaultRubric:   cfg.Generation.DefaultRubric,
		ExcludedDomains: cfg.Research.ExcludedDomains,
	})

	deps := generate.Deps{
		Store:         db,
		Generator:     generate.NewAssistantGenerator(provider, cfg.LLM.MaxTokens),
		References:    fetch.NewPageFetcher(30 * time.Second),
		Normalizer:    n,
		DefaultRubric: cfg.Generation.DefaultRubric,
		Log:           log,
	}
	if tc := transcript.NewSupadataClient(cfg.Transcripts, cfg.TranscriptTimeout(), log); tc.IsConfigured() {
		deps.Transcripts = tc
	} else {
		log.Warn("transcript provider not configured", "api_key_env", cfg.Transcripts.APIKeyEnv)
	}

	return &services{provider: provider, normalizer: n, orchestrator: generate.New(deps)}
}

// newRunner builds a runner guarded by the data-dir lock, so only one process
// drains a database at a time.
func (s *services) newRunner(db *database.DB) *runner.Runner {
	return runner.New(db, s.orchestrator, runner.Options{
		PollInterval: cfg.RunnerPollInterval(),
		JobTimeout:   cfg.JobTimeout(),
		Lock:         flock.New(filepath.Join(cfg.GetDataDir(), "postforge.lock")),
	}, log)
}

func (s *services) newBatch(db *database.DB) *enhance.Batch {
	deps := enhance.PipelineDeps{
		Store:      db,
		Writer:     enhance.NewLLMWriter(s.provider, cfg.LLM.MaxTokens),
		Normalizer: s.normalizer,
		Log:        log,
	}
	if cfg.Research.Enabled {
		client := research.NewParallelClient(cfg, log)
		if client.IsConfigured() {
			deps.Research = research.NewStep(client, research.StepConfig{
				ExcludedDomains:  cfg.Research.ExcludedDomains,
				LowQualityTokens: cfg.Research.LowQualityTokens,
			}, log)
		} else {
			log.Warn("research not configured, enhancing without it", "api_key_env", cfg.Research.APIKeyEnv)
		}
	}
	return enhance.NewBatch(enhance.NewSelector(db), db, enhance.NewPipeline(deps), log)
}

func (s *services) batchOptions(limit, workers int, dryRun bool) enhance.BatchOptions {
	if limit == 0 {
		limit = cfg.Enhance.Limit
	}
	if workers == 0 {
		workers = cfg.Enhance.Workers
	}
	return enhance.BatchOptions{Limit: limit, Workers: workers, DryRun: dryRun, StaleAfter: cfg.StaleAfter()}
}
