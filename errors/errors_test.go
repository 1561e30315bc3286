package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestWrapPreservesChain(t *testing.T) {
	base := errors.New("disk full")
	err := Wrap(CategoryStorage, "local.put", base)

	if !errors.Is(err, base) {
		t.Fatal("wrapped cause lost")
	}
	if !IsCategory(err, CategoryStorage) {
		t.Fatal("category lost")
	}
	if IsCategory(err, CategoryInput) {
		t.Fatal("wrong category matched")
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(CategoryInput, "op", nil) != nil {
		t.Fatal("wrapping nil must stay nil")
	}
}

func TestTransientIsRetryable(t *testing.T) {
	err := Transient("s3.put", errors.New("connection reset"))
	if !IsRetryable(err) {
		t.Fatal("transient errors must be retryable")
	}
	if IsRetryable(New(CategoryInput, "decode", ErrInvalidInput)) {
		t.Fatal("input errors must not be retryable")
	}
	// Retryability survives an extra wrapping layer.
	if !IsRetryable(fmt.Errorf("stage: %w", err)) {
		t.Fatal("retryability lost through fmt.Errorf")
	}
}

func TestSentinelMatching(t *testing.T) {
	err := New(CategoryCrop, "crop", ErrInvalidCrop)
	if !errors.Is(err, ErrInvalidCrop) {
		t.Fatal("sentinel lost")
	}
}
