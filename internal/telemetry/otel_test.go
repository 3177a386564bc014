package telemetry

import (
	"context"
	"testing"
)

func TestSetup_DisabledReturnsNoopShutdown(t *testing.T) {
	shutdown, err := Setup(context.Background(), Config{Enabled: false})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("no-op shutdown returned error: %v", err)
	}
}

func TestSetup_EnabledWithoutEndpointIsNoop(t *testing.T) {
	shutdown, err := Setup(context.Background(), Config{Enabled: true, OTLPEndpoint: ""})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("no-op shutdown returned error: %v", err)
	}
}
