// Package tasks implements the task-type-specific compute kernels a
// worker executes: COMPUTE_PI and DOCUMENT_ANALYSIS (spec.md §3 payload
// variants). These are deliberately minimal stand-ins — the spec
// describes their event-reporting contract, not their algorithms.
package tasks

import (
	"context"

	domaintask "taskhub/internal/domain/task"
	"taskhub/internal/reporter"
)

// Kernel executes one task to completion, reporting progress and the
// final result through rep.
type Kernel interface {
	Execute(ctx context.Context, rep *reporter.Reporter, payload domaintask.Payload) error
}

// Registry maps task-type to the Kernel that executes it.
type Registry struct {
	kernels map[domaintask.Type]Kernel
}

// NewRegistry builds the registry of required kernels.
func NewRegistry() *Registry {
	return &Registry{kernels: map[domaintask.Type]Kernel{
		domaintask.TypeComputePi:        ComputePiKernel{},
		domaintask.TypeDocumentAnalysis: DocumentAnalysisKernel{},
	}}
}

// Lookup returns the kernel for taskType, or false if none is registered.
func (r *Registry) Lookup(taskType domaintask.Type) (Kernel, bool) {
	k, ok := r.kernels[taskType]
	return k, ok
}
