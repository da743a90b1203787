package routing

import (
	"testing"

	"taskhub/internal/apperrors"
	domaintask "taskhub/internal/domain/task"
)

func TestDefaultRegistryResolvesRequiredEntries(t *testing.T) {
	reg := DefaultRegistry()

	dest, err := reg.Resolve(domaintask.TypeComputePi)
	if err != nil {
		t.Fatalf("Resolve(COMPUTE_PI): %v", err)
	}
	if dest.Stream != "compute_pi" || dest.QueueHint != "default" {
		t.Fatalf("unexpected destination: %+v", dest)
	}

	dest, err = reg.Resolve(domaintask.TypeDocumentAnalysis)
	if err != nil {
		t.Fatalf("Resolve(DOCUMENT_ANALYSIS): %v", err)
	}
	if dest.Stream != "document_analysis" || dest.QueueHint != "doc-tasks" {
		t.Fatalf("unexpected destination: %+v", dest)
	}
}

func TestResolveUnknownTypeIsInvalidTaskType(t *testing.T) {
	reg := DefaultRegistry()
	_, err := reg.Resolve("BOGUS")
	if !apperrors.Is(err, apperrors.KindInvalidTaskType) {
		t.Fatalf("expected KindInvalidTaskType, got %v", err)
	}
}
