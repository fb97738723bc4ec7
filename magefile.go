//go:build mage

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

const (
	binaryName    = "sidecar"
	srcDir        = "src/cmd/app"
	binDir        = "bin"
	coverageDir   = "coverage"
	versionFile   = "VERSION"
	versionPkg    = "github.com/laborany/sidecar/src/cmd/app/commands"
	defaultGoarch = "amd64"
)

// Default target runs all checks and builds.
var Default = All

// getVersion reads the current version from the VERSION file.
func getVersion() (string, error) {
	data, err := os.ReadFile(versionFile)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", versionFile, err)
	}
	version := strings.TrimSpace(string(data))
	if version == "" {
		return "", fmt.Errorf("%s is empty", versionFile)
	}
	return version, nil
}

func ldflags(version string) string {
	return fmt.Sprintf("-s -w -X %s.Version=%s -X %s.BuildTime=%s",
		versionPkg, version, versionPkg, time.Now().UTC().Format(time.RFC3339))
}

func binaryPath(goos, goarch string) string {
	name := binaryName
	if goos != runtime.GOOS || goarch != runtime.GOARCH {
		name = fmt.Sprintf("%s-%s-%s", binaryName, goos, goarch)
	}
	if goos == "windows" {
		name += ".exe"
	}
	return filepath.Join(binDir, name)
}

func build(goos, goarch, version string) error {
	env := map[string]string{
		"GOOS":        goos,
		"GOARCH":      goarch,
		"CGO_ENABLED": "0",
	}
	out := binaryPath(goos, goarch)
	if err := sh.RunWithV(env, "go", "build", "-ldflags", ldflags(version), "-o", out, "./"+srcDir); err != nil {
		return fmt.Errorf("build %s/%s failed: %w", goos, goarch, err)
	}
	return nil
}

// All runs fmt, lint, and test, then builds.
func All() error {
	mg.Deps(Fmt, Lint, Test)
	return Build()
}

// Build compiles the sidecar binary for the current platform with version info.
func Build() error {
	fmt.Println("Building", binaryName+"...")

	version, err := getVersion()
	if err != nil {
		return err
	}
	if err := build(runtime.GOOS, runtime.GOARCH, version); err != nil {
		return err
	}

	fmt.Printf("✅ Build complete! Version: %s\n", version)
	return nil
}

// BuildAll cross-compiles for the desktop platforms the parent app ships on.
func BuildAll() error {
	fmt.Println("Building for all platforms...")

	version, err := getVersion()
	if err != nil {
		return err
	}

	for _, goos := range []string{"linux", "darwin", "windows"} {
		if err := build(goos, defaultGoarch, version); err != nil {
			return err
		}
	}
	if err := build("darwin", "arm64", version); err != nil {
		return err
	}

	fmt.Println("✅ Build complete for all platforms!")
	return nil
}

// Test runs unit tests only (with -short flag).
func Test() error {
	fmt.Println("Running unit tests...")
	return sh.RunV("go", "test", "-v", "-short", "./src/...")
}

// TestAll runs every test, including the ones that spawn and kill real processes.
func TestAll() error {
	fmt.Println("Running all tests...")
	return sh.RunV("go", "test", "-v", "-race", "./src/...")
}

// TestCoverage runs tests with coverage report.
func TestCoverage() error {
	fmt.Println("Running tests with coverage...")

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get working directory: %w", err)
	}

	absCoverageDir := filepath.Join(cwd, coverageDir)
	_ = os.RemoveAll(absCoverageDir)
	if err := os.MkdirAll(absCoverageDir, 0o755); err != nil {
		return fmt.Errorf("failed to create coverage directory at %s: %w", absCoverageDir, err)
	}

	coverageOut := filepath.Join(absCoverageDir, "coverage.out")
	coverageHTML := filepath.Join(absCoverageDir, "coverage.html")

	if err := sh.RunV("go", "test", "-v", "-short", "-coverprofile="+coverageOut, "./src/..."); err != nil {
		return fmt.Errorf("tests failed: %w", err)
	}
	if err := sh.RunV("go", "tool", "cover", "-html="+coverageOut, "-o", coverageHTML); err != nil {
		return fmt.Errorf("failed to generate HTML coverage: %w", err)
	}
	if err := sh.RunV("go", "tool", "cover", "-func="+coverageOut); err != nil {
		return fmt.Errorf("failed to display coverage summary: %w", err)
	}

	fmt.Println("Coverage report:", coverageHTML)
	return nil
}

// Lint runs golangci-lint on the codebase.
func Lint() error {
	fmt.Println("Running golangci-lint...")
	if err := sh.RunV("golangci-lint", "run", "./..."); err != nil {
		fmt.Println("⚠️  Linting failed. Ensure golangci-lint is installed:")
		fmt.Println("    go install github.com/golangci/golangci-lint/cmd/golangci-lint@latest")
		return err
	}
	return nil
}

// Fmt formats all Go code using gofmt.
func Fmt() error {
	fmt.Println("Formatting code...")

	if err := sh.RunV("gofmt", "-w", "-s", "src", "magefile.go"); err != nil {
		return fmt.Errorf("formatting failed: %w", err)
	}

	fmt.Println("✅ Code formatted!")
	return nil
}

// Clean removes build artifacts and coverage reports.
func Clean() error {
	fmt.Println("Cleaning build artifacts...")

	for _, dir := range []string{binDir, coverageDir} {
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("failed to remove %s: %w", dir, err)
		}
	}

	fmt.Println("✅ Clean complete!")
	return nil
}

// Run builds the binary and starts the supervisor with the local sidecar.yaml.
func Run() error {
	mg.Deps(Build)
	return sh.RunV(binaryPath(runtime.GOOS, runtime.GOARCH), "run", "--debug")
}
