package schema

import "testing"

func TestValidate_FailuresReport_Valid(t *testing.T) {
	data := []byte(`{
		"version": 1, "run_id": "r1", "mode": "canary", "status": "pass",
		"timestamp": "2026-07-30T00:00:00Z", "changed_files": [], "gates": [], "findings": []
	}`)
	if err := Validate(KindFailuresReport, data); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
}

func TestValidate_FailuresReport_MissingRequired(t *testing.T) {
	data := []byte(`{"version": 1}`)
	if err := Validate(KindFailuresReport, data); err == nil {
		t.Fatalf("expected validation error for missing required fields")
	}
}

func TestValidate_FailuresReport_BadEnum(t *testing.T) {
	data := []byte(`{
		"version": 1, "run_id": "r1", "mode": "bogus", "status": "pass",
		"timestamp": "2026-07-30T00:00:00Z", "changed_files": [], "gates": [], "findings": []
	}`)
	if err := Validate(KindFailuresReport, data); err == nil {
		t.Fatalf("expected validation error for bad mode enum")
	}
}

func TestValidate_Lighthouse(t *testing.T) {
	data := []byte(`[{"passed": false, "url": "https://x/a", "assertion": "categories:performance"}]`)
	if err := Validate(KindLighthouse, data); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
}

func TestValidate_UnknownKind(t *testing.T) {
	if err := Validate(Kind("nope"), []byte(`{}`)); err == nil {
		t.Fatalf("expected error for unknown schema kind")
	}
}
