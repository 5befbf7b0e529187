package apperrors

import (
	"errors"
	"testing"
)

func TestManifestMissingError_Unwrap(t *testing.T) {
	cause := errors.New("no such file")
	err := NewManifestMissingError("/repo/package.json", cause)
	if !errors.Is(err, cause) {
		t.Fatalf("expected Is(err, cause) to be true")
	}
	if err.Code() != CodeManifestMissing {
		t.Fatalf("Code() = %v, want %v", err.Code(), CodeManifestMissing)
	}
}

func TestGateMissingCommandError(t *testing.T) {
	err := NewGateMissingCommandError("lighthouse")
	if err.Gate != "lighthouse" {
		t.Fatalf("Gate = %q, want lighthouse", err.Gate)
	}
	if err.Code() != CodeGateMissingCommand {
		t.Fatalf("Code() = %v, want %v", err.Code(), CodeGateMissingCommand)
	}
	if err.Error() == "" {
		t.Fatalf("Error() should not be empty")
	}
}

func TestSchemaValidationError(t *testing.T) {
	cause := errors.New("missing required property: status")
	err := NewSchemaValidationError("failures.json", cause)
	if !errors.Is(err, cause) {
		t.Fatalf("expected Is(err, cause) to be true")
	}
	if err.Artifact != "failures.json" {
		t.Fatalf("Artifact = %q", err.Artifact)
	}
}

func TestArtifactConflictError(t *testing.T) {
	err := NewArtifactConflictError("both repair-report.json and escalation.json were about to be written")
	var target *ArtifactConflictError
	if !errors.As(err, &target) {
		t.Fatalf("expected errors.As to match *ArtifactConflictError")
	}
}
