package config

import "testing"

func TestDefaultIsInvalidWithoutIdentity(t *testing.T) {
	c := Default()
	if err := c.Validate(); err == nil {
		t.Fatalf("expected Default() to fail validation without a token/model/data-root")
	}
}

func TestValidateAcceptsCompleteConfig(t *testing.T) {
	c := Default()
	c.BearerToken = "sk-test"
	c.DefaultModel = "gpt-5"
	c.DataRoot = "/tmp/lincona-test"
	if err := c.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateRejectsBadEnums(t *testing.T) {
	c := Default()
	c.BearerToken = "x"
	c.DefaultModel = "m"
	c.DataRoot = "/tmp/x"

	bad := c
	bad.ReasoningEffort = "extreme"
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected invalid reasoning effort to fail")
	}

	bad = c
	bad.FSMode = "sandboxed"
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected invalid fs mode to fail")
	}

	bad = c
	bad.ApprovalPolicy = "sometimes"
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected invalid approval policy to fail")
	}

	bad = c
	bad.RequestTimeoutMS = 0
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected non-positive timeout to fail")
	}
}
