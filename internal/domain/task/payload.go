package task

import (
	"encoding/json"
	"fmt"
)

// Payload is the closed tagged-variant task payload. There is no open
// inheritance (SPEC_FULL.md §9 "Polymorphic payloads"): decoding always
// switches on Type to select the concrete shape below.
type Payload struct {
	Type             Type
	ComputePi        *ComputePiPayload
	DocumentAnalysis *DocumentAnalysisPayload
}

// ComputePiPayload requests computation of Digits decimal digits of pi.
type ComputePiPayload struct {
	Digits int `json:"digits"`
}

// DocumentAnalysisPayload requests a keyword scan of a document.
type DocumentAnalysisPayload struct {
	DocumentURI string   `json:"document_uri"`
	Keywords    []string `json:"keywords"`
}

// MarshalJSON encodes Payload as its concrete shape (no type wrapper; the
// task-type discriminator lives on the owning Task/TaskEvent).
func (p Payload) MarshalJSON() ([]byte, error) {
	switch p.Type {
	case TypeComputePi:
		return json.Marshal(p.ComputePi)
	case TypeDocumentAnalysis:
		return json.Marshal(p.DocumentAnalysis)
	default:
		return nil, fmt.Errorf("payload: unknown task type %q", p.Type)
	}
}

// DecodePayload selects the concrete shape for taskType and unmarshals raw
// into it.
func DecodePayload(taskType Type, raw json.RawMessage) (Payload, error) {
	switch taskType {
	case TypeComputePi:
		var p ComputePiPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return Payload{}, fmt.Errorf("decode compute_pi payload: %w", err)
		}
		if p.Digits <= 0 {
			return Payload{}, fmt.Errorf("compute_pi payload: digits must be > 0")
		}
		return Payload{Type: taskType, ComputePi: &p}, nil
	case TypeDocumentAnalysis:
		var p DocumentAnalysisPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return Payload{}, fmt.Errorf("decode document_analysis payload: %w", err)
		}
		if p.DocumentURI == "" {
			return Payload{}, fmt.Errorf("document_analysis payload: document_uri required")
		}
		return Payload{Type: taskType, DocumentAnalysis: &p}, nil
	default:
		return Payload{}, fmt.Errorf("unknown task type %q", taskType)
	}
}
