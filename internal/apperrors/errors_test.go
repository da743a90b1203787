package apperrors

import (
	"errors"
	"testing"
)

func TestKindOfDefaultsToFatal(t *testing.T) {
	if KindOf(errors.New("boom")) != KindFatal {
		t.Fatalf("expected plain errors to classify as fatal")
	}
}

func TestIsMatchesKind(t *testing.T) {
	err := NotFound("T1")
	if !Is(err, KindNotFound) {
		t.Fatalf("expected NotFound error to match KindNotFound")
	}
	if Is(err, KindConflict) {
		t.Fatalf("did not expect NotFound error to match KindConflict")
	}
}

func TestWrapUnwraps(t *testing.T) {
	cause := errors.New("connection reset")
	err := Transient("append failed", cause)
	if !errors.Is(err, cause) {
		t.Fatalf("expected Transient error to unwrap to cause")
	}
	if KindOf(err) != KindTransient {
		t.Fatalf("expected KindTransient, got %v", KindOf(err))
	}
}
