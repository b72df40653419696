package auditcontext

import (
	"context"
	"testing"
)

func TestActorRoundTrip(t *testing.T) {
	ctx := WithActor(context.Background(), " user ", " 1b4e28ba-2fa1-11d2-883f-0016d3cca427 ")
	actorType, actorID := ActorFromContext(ctx)
	if actorType != "user" || actorID != "1b4e28ba-2fa1-11d2-883f-0016d3cca427" {
		t.Fatalf("unexpected actor %q %q", actorType, actorID)
	}
}

func TestEmptyContextReturnsBlank(t *testing.T) {
	if got := PaymentIDFromContext(context.Background()); got != "" {
		t.Fatalf("expected empty payment id, got %q", got)
	}
}
