package testutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestImportPredicates(t *testing.T) {
	cases := []struct {
		in       string
		internal bool
		onlyDom  bool
	}{
		{"taskledger/internal/core", true, true},
		{"taskledger/pkg/domain", false, false},
		{"taskledger/cmd/taskledger", false, true},
		{"taskledgerx/internal/core", false, false},
		{"github.com/rs/zerolog", false, false},
		{"fmt", false, false},
	}
	for _, c := range cases {
		if got := InternalImportForbidden(c.in); got != c.internal {
			t.Fatalf("InternalImportForbidden(%q)=%v want %v", c.in, got, c.internal)
		}
		if got := OnlyDomainAllowed(c.in); got != c.onlyDom {
			t.Fatalf("OnlyDomainAllowed(%q)=%v want %v", c.in, got, c.onlyDom)
		}
	}
}

func writeFile(t *testing.T, dir, name, src string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(src), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestDirectImportViolations(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "ok.go", "package tmp\nimport \"fmt\"\nfunc X() { fmt.Println(1) }\n")
	writeFile(t, dir, "bad.go", "package tmp\nimport _ \"taskledger/internal/core\"\n")
	writeFile(t, dir, "bad_test.go", "package tmp\nimport _ \"taskledger/internal/config\"\n")
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	writeFile(t, filepath.Join(dir, "sub"), "sub.go", "package sub\nimport _ \"taskledger/internal/metrics\"\n")

	viols, err := directImportViolations(dir, InternalImportForbidden)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(viols) != 1 || viols[0] != "taskledger/internal/core (in bad.go)" {
		t.Fatalf("violations = %v", viols)
	}

	if _, err := directImportViolations(filepath.Join(dir, "missing"), InternalImportForbidden); err == nil {
		t.Fatalf("expected error for missing dir")
	}
	writeFile(t, dir, "broken.go", "package tmp\nimport (\n")
	if _, err := directImportViolations(dir, InternalImportForbidden); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestTransitiveDependencyViolations(t *testing.T) {
	orig := goListDeps
	t.Cleanup(func() { goListDeps = orig })

	goListDeps = func(string) ([]byte, error) {
		return []byte("fmt\ntaskledger/pkg/domain\n\ntaskledger/internal/core\n"), nil
	}
	viols, _, err := transitiveDependencyViolations("./...", InternalImportForbidden)
	if err != nil || len(viols) != 1 || viols[0] != "taskledger/internal/core" {
		t.Fatalf("violations = %v, %v", viols, err)
	}

	goListDeps = func(string) ([]byte, error) { return []byte("boom"), errors.New("exit 1") }
	if _, out, err := transitiveDependencyViolations("./...", InternalImportForbidden); err == nil || string(out) != "boom" {
		t.Fatalf("expected go list failure, got %v", err)
	}
}

type recordingFatal struct{ msg string }

func (r *recordingFatal) Fatalf(format string, args ...any) { r.msg = fmt.Sprintf(format, args...) }

func TestFailIfViolations(t *testing.T) {
	rec := &recordingFatal{}
	failIfViolations(rec, "direct imports", "reason", nil)
	if rec.msg != "" {
		t.Fatalf("unexpected failure: %s", rec.msg)
	}
	failIfViolations(rec, "direct imports", "engine boundary", []string{"a", "b"})
	if !strings.Contains(rec.msg, "engine boundary") || !strings.Contains(rec.msg, "a\nb") {
		t.Fatalf("message = %q", rec.msg)
	}
}
