// Package conversation implements the conversational retrieval pipeline:
// history trimming, query reformulation, retrieval, answer generation, and
// recording of the exchange in the session history.
package conversation

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/haasonsaas/docqa/internal/observability"
	"github.com/haasonsaas/docqa/internal/sessions"
	"github.com/haasonsaas/docqa/pkg/models"
)

// Pipeline stage names used in spans and metrics.
const (
	StageTrim        = "trim"
	StageReformulate = "reformulate"
	StageRetrieve    = "retrieve"
	StageGenerate    = "generate"
	StageRecord      = "record"
)

// Pipeline answers questions within a session.
//
// Each Ask holds the session lock while it reads the history, calls the
// models, and appends the exchange, so concurrent requests for one session
// are serialized and none of their turns are lost.
type Pipeline struct {
	store        sessions.Store
	locker       sessions.Locker
	trimmer      *Trimmer
	reformulator *Reformulator
	retriever    *Retriever
	generator    *Generator
	budget       int

	logger  *observability.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer
}

// PipelineConfig wires a Pipeline.
type PipelineConfig struct {
	Store        sessions.Store
	Locker       sessions.Locker
	Trimmer      *Trimmer
	Reformulator *Reformulator
	Retriever    *Retriever
	Generator    *Generator

	// HistoryTokenBudget bounds the history passed to the models.
	HistoryTokenBudget int

	Logger  *observability.Logger
	Metrics *observability.Metrics
	Tracer  *observability.Tracer
}

// NewPipeline validates cfg and returns a Pipeline.
func NewPipeline(cfg PipelineConfig) (*Pipeline, error) {
	switch {
	case cfg.Store == nil:
		return nil, errors.New("pipeline: session store is required")
	case cfg.Locker == nil:
		return nil, errors.New("pipeline: session locker is required")
	case cfg.Trimmer == nil, cfg.Reformulator == nil, cfg.Retriever == nil, cfg.Generator == nil:
		return nil, errors.New("pipeline: trimmer, reformulator, retriever and generator are required")
	case cfg.HistoryTokenBudget <= 0:
		return nil, errors.New("pipeline: history token budget must be positive")
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NopLogger()
	}
	return &Pipeline{
		store:        cfg.Store,
		locker:       cfg.Locker,
		trimmer:      cfg.Trimmer,
		reformulator: cfg.Reformulator,
		retriever:    cfg.Retriever,
		generator:    cfg.Generator,
		budget:       cfg.HistoryTokenBudget,
		logger:       cfg.Logger,
		metrics:      cfg.Metrics,
		tracer:       cfg.Tracer,
	}, nil
}

// Ask answers question in the context of the session's history and
// records the question and answer in that history. The session ID is an
// opaque key used exactly as given; only a blank one is rejected.
func (p *Pipeline) Ask(ctx context.Context, sessionID, question string) (answer string, err error) {
	question = strings.TrimSpace(question)

	ctx = observability.AddSessionID(ctx, sessionID)
	ctx, span := p.tracer.TraceAsk(ctx, sessionID)
	defer func() {
		p.tracer.RecordError(span, err)
		span.End()
		if err != nil {
			p.metrics.RecordAsk(string(KindOf(err)))
		} else {
			p.metrics.RecordAsk("ok")
		}
	}()

	if strings.TrimSpace(sessionID) == "" {
		return "", newError(KindInvalidRequest, "ask", sessions.ErrInvalidSessionID)
	}
	if question == "" {
		return "", newError(KindInvalidRequest, "ask", errors.New("question is required"))
	}

	if err := p.locker.Lock(ctx, sessionID); err != nil {
		return "", newError(KindInternal, "lock session", err)
	}
	defer p.locker.Unlock(sessionID)

	if _, err := p.store.GetOrCreate(ctx, sessionID); err != nil {
		return "", newError(KindInternal, "load session", err)
	}
	history, err := p.store.History(ctx, sessionID)
	if err != nil {
		return "", newError(KindInternal, "load history", err)
	}

	var trimmed []models.Turn
	err = p.stage(ctx, StageTrim, func(ctx context.Context) error {
		var err error
		trimmed, err = p.trimmer.Trim(ctx, history, p.budget)
		if err != nil {
			return newError(KindGenerationFailure, "trim history", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	standalone := question
	err = p.stage(ctx, StageReformulate, func(ctx context.Context) error {
		var err error
		standalone, err = p.reformulator.Reformulate(ctx, trimmed, question)
		return err
	})
	if err != nil {
		return "", err
	}

	var chunks []models.ScoredChunk
	err = p.stage(ctx, StageRetrieve, func(ctx context.Context) error {
		var err error
		chunks, err = p.retriever.Retrieve(ctx, standalone)
		return err
	})
	if err != nil {
		return "", err
	}

	err = p.stage(ctx, StageGenerate, func(ctx context.Context) error {
		var err error
		answer, err = p.generator.Generate(ctx, chunks, trimmed, standalone)
		return err
	})
	if err != nil {
		return "", err
	}

	err = p.stage(ctx, StageRecord, func(ctx context.Context) error {
		if err := p.store.Append(ctx, sessionID, models.HumanTurn(question), models.AssistantTurn(answer)); err != nil {
			return newError(KindInternal, "record turns", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	p.logger.Info(ctx, "question answered",
		"history_turns", len(history),
		"trimmed_turns", len(trimmed),
		"reformulated", standalone != question,
		"chunks", len(chunks),
	)
	return answer, nil
}

func (p *Pipeline) stage(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	ctx, span := p.tracer.TraceStage(ctx, name)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	p.metrics.RecordStage(name, time.Since(start).Seconds())
	if err != nil {
		p.tracer.RecordError(span, err)
		p.logger.Error(ctx, "pipeline stage failed", "stage", name, "error", err)
	}
	return err
}
