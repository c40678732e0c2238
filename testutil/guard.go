// Package testutil provides test helpers that enforce the package boundaries
// of the migration tooling.
package testutil

import (
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"golang.org/x/tools/go/packages"
)

// AssertNoDirectImports scans all non-test .go files in dir (typically "." from within the package)
// and fails if any import path satisfies the forbidden predicate. It does not follow build tags.
func AssertNoDirectImports(t testing.TB, dir string, forbidden func(importPath string) bool, reason string) {
	t.Helper()
	viols, err := directImportViolations(dir, forbidden)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	failIfViolations(t, "forbidden direct imports detected ("+reason+")", viols)
}

// SideEffectImportForbidden matches imports that perform I/O or reach a
// backend. Record transformation must stay a pure function of its input.
func SideEffectImportForbidden(path string) bool {
	switch path {
	case "os", "net", "net/http", "database/sql", "io/fs", "os/exec":
		return true
	}
	for _, p := range []string{"songmigration/internal/infra/", "songmigration/internal/blob", "songmigration/internal/ledger", "songmigration/internal/song", "github.com/aws/"} {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// AssertFacadeOwnsInfra loads pattern and fails when a package other than
// the facade (or the infra tree itself) imports anything under infra.
func AssertFacadeOwnsInfra(t testing.TB, pattern, facade, infra string) {
	t.Helper()
	cfg := &packages.Config{Mode: packages.NeedName | packages.NeedImports, Tests: true}
	pkgs, err := packages.Load(cfg, pattern)
	if err != nil {
		t.Fatalf("load packages: %v", err)
	}
	seen := make(map[string]struct{})
	for _, pkg := range pkgs {
		if underPath(pkg.PkgPath, facade) || underPath(pkg.PkgPath, infra) {
			continue
		}
		for importPath := range pkg.Imports {
			if underPath(importPath, infra) {
				seen[filepath.Join(pkg.PkgPath, "...")+": "+importPath] = struct{}{}
			}
		}
	}
	viols := make([]string, 0, len(seen))
	for v := range seen {
		viols = append(viols, v)
	}
	sort.Strings(viols)
	failIfViolations(t, "forbidden import of "+infra+" outside "+facade, viols)
}

func underPath(path, prefix string) bool {
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

func directImportViolations(dir string, forbidden func(importPath string) bool) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	fset := token.NewFileSet()
	var viols []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".go") || strings.HasSuffix(name, "_test.go") {
			continue
		}
		fileAst, err := parser.ParseFile(fset, filepath.Join(dir, name), nil, parser.ImportsOnly)
		if err != nil {
			return nil, err
		}
		for _, imp := range fileAst.Imports {
			ip := strings.Trim(imp.Path.Value, "\"")
			if forbidden(ip) {
				viols = append(viols, ip+" (in "+name+")")
			}
		}
	}
	return viols, nil
}

type fatalLogger interface {
	Fatalf(format string, args ...any)
}

func failIfViolations(t fatalLogger, msg string, viols []string) {
	if len(viols) > 0 {
		t.Fatalf("%s:\n%s", msg, strings.Join(viols, "\n"))
	}
}
