package types

import (
	"context"
	"testing"
)

func TestContextHelpers(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	ctx = WithTraceID(ctx, "t1")
	if got, ok := TraceID(ctx); !ok || got != "t1" {
		t.Fatalf("TraceID mismatch: %v %v", got, ok)
	}

	ctx = WithUserID(ctx, "user")
	if got, ok := UserID(ctx); !ok || got != "user" {
		t.Fatalf("UserID mismatch: %v %v", got, ok)
	}

	ctx = WithConversationID(ctx, "conv")
	if got, ok := ConversationID(ctx); !ok || got != "conv" {
		t.Fatalf("ConversationID mismatch: %v %v", got, ok)
	}
}

func TestContextHelpers_EmptyValue(t *testing.T) {
	t.Parallel()

	ctx := WithUserID(context.Background(), "")
	if _, ok := UserID(ctx); ok {
		t.Fatalf("empty user id should report ok=false")
	}
	if _, ok := TraceID(context.Background()); ok {
		t.Fatalf("missing trace id should report ok=false")
	}
}
