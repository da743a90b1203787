package tasks

import (
	"context"
	"strings"

	"taskhub/internal/apperrors"
	domaintask "taskhub/internal/domain/task"
	"taskhub/internal/reporter"
)

// documentAnalysisBatchSize bounds how many per-paragraph findings are
// buffered before a TASK_RESULT_CHUNK flush.
const documentAnalysisBatchSize = 4

// DocumentAnalysisKernel scans a document's content for payload.Keywords,
// streaming per-chunk keyword counts live and persisting an aggregate
// TaskResult. Fetching DocumentURI is out of scope for this core; callers
// supply content through an injected Fetcher.
type DocumentAnalysisKernel struct {
	Fetcher Fetcher
}

// Fetcher retrieves document content for a URI. DefaultFetcher is a
// deterministic stand-in; production deployments inject an http.Client-
// backed implementation.
type Fetcher interface {
	Fetch(ctx context.Context, uri string) (string, error)
}

// DefaultFetcher returns the URI itself as content, useful for tests and
// for callers that pass inline content through DocumentURI.
type DefaultFetcher struct{}

// Fetch implements Fetcher.
func (DefaultFetcher) Fetch(ctx context.Context, uri string) (string, error) {
	return uri, nil
}

var _ Kernel = DocumentAnalysisKernel{}

type keywordHit struct {
	Keyword string `json:"keyword"`
	Count   int    `json:"count"`
}

// Execute scans the fetched content paragraph by paragraph, streaming
// keyword-hit chunks and persisting an aggregate result.
func (k DocumentAnalysisKernel) Execute(ctx context.Context, rep *reporter.Reporter, payload domaintask.Payload) error {
	if payload.DocumentAnalysis == nil {
		return apperrors.InvalidEvent("document_analysis payload missing")
	}
	fetcher := k.Fetcher
	if fetcher == nil {
		fetcher = DefaultFetcher{}
	}

	if err := rep.ReportStatus(ctx, domaintask.TaskStatus{
		State:    domaintask.StatusRunning,
		Progress: domaintask.Progress{Phase: "fetching"},
	}); err != nil {
		return apperrors.Transient("report status", err)
	}

	content, err := fetcher.Fetch(ctx, payload.DocumentAnalysis.DocumentURI)
	if err != nil {
		return apperrors.Wrap(apperrors.KindTransient, "fetch document", err)
	}

	paragraphs := strings.Split(content, "\n")
	emitter, err := rep.ReportChunked(documentAnalysisBatchSize)
	if err != nil {
		return apperrors.Fatal("construct chunk emitter", err)
	}
	defer emitter.Close()

	aggregate := make(map[string]int, len(payload.DocumentAnalysis.Keywords))
	total := len(paragraphs)
	for i, para := range paragraphs {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		lower := strings.ToLower(para)
		for _, kw := range payload.DocumentAnalysis.Keywords {
			count := strings.Count(lower, strings.ToLower(kw))
			if count > 0 {
				aggregate[kw] += count
				if err := emitter.Emit(ctx, keywordHit{Keyword: kw, Count: count}); err != nil {
					return apperrors.Transient("emit chunk", err)
				}
			}
		}

		if total > 0 {
			pct := float64(i+1) / float64(total)
			if err := rep.ReportStatus(ctx, domaintask.TaskStatus{
				State:    domaintask.StatusRunning,
				Progress: domaintask.Progress{Percentage: &pct, Phase: "scanning"},
			}); err != nil {
				return apperrors.Transient("report status", err)
			}
		}
	}

	if err := rep.ReportResult(ctx, map[string]any{"data": aggregate}); err != nil {
		return apperrors.Transient("report result", err)
	}

	done := 1.0
	if err := rep.ReportStatus(ctx, domaintask.TaskStatus{
		State:    domaintask.StatusCompleted,
		Progress: domaintask.Progress{Percentage: &done},
	}); err != nil {
		return apperrors.Transient("report terminal status", err)
	}
	return nil
}
