// Package output renders CLI results either as styled text or as JSON.
package output

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
)

// Format selects how command results are rendered.
type Format string

const (
	FormatDefault Format = "default"
	FormatJSON    Format = "json"
)

// ANSI escape sequences.
const (
	Reset  = "\033[0m"
	Bold   = "\033[1m"
	Red    = "\033[31m"
	Green  = "\033[32m"
	Yellow = "\033[33m"
	Blue   = "\033[34m"
	Gray   = "\033[90m"
)

const (
	SymbolSuccess = "✓"
	SymbolError   = "✗"
	SymbolWarning = "⚠"
	SymbolInfo    = "ℹ"
	SymbolBullet  = "•"
)

var (
	mu            sync.RWMutex
	currentFormat = FormatDefault
)

// SetFormat sets the global output format. Unknown values are rejected.
func SetFormat(format string) error {
	f := Format(strings.ToLower(strings.TrimSpace(format)))
	if f == "" {
		f = FormatDefault
	}
	if f != FormatDefault && f != FormatJSON {
		return fmt.Errorf("invalid output format %q (must be %q or %q)", format, FormatDefault, FormatJSON)
	}
	mu.Lock()
	currentFormat = f
	mu.Unlock()
	return nil
}

// GetFormat returns the current output format.
func GetFormat() Format {
	mu.RLock()
	defer mu.RUnlock()
	return currentFormat
}

// IsJSON reports whether JSON output is selected.
func IsJSON() bool {
	return GetFormat() == FormatJSON
}

// PrintJSON writes v to stdout as indented JSON.
func PrintJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode JSON output: %w", err)
	}
	return nil
}

// Print emits data as JSON in JSON mode and calls formatter otherwise.
func Print(data any, formatter func()) error {
	if IsJSON() {
		return PrintJSON(data)
	}
	formatter()
	return nil
}

func colorize(color, text string) string {
	return color + text + Reset
}

func printf(format string, args ...any) {
	fmt.Fprintf(os.Stdout, format, args...)
}

func sprint(format string, args []any) string {
	if len(args) == 0 {
		return format
	}
	return fmt.Sprintf(format, args...)
}

// Header prints a bold title followed by an underline.
func Header(text string) {
	printf("\n%s\n%s\n", colorize(Bold, text), strings.Repeat("─", len([]rune(text))))
}

func Success(format string, args ...any) {
	printf("%s %s\n", colorize(Green, SymbolSuccess), sprint(format, args))
}

func Warning(format string, args ...any) {
	printf("%s %s\n", colorize(Yellow, SymbolWarning), sprint(format, args))
}

func Info(format string, args ...any) {
	printf("%s %s\n", colorize(Blue, SymbolInfo), sprint(format, args))
}

func Item(format string, args ...any) {
	printf("  %s %s\n", SymbolBullet, sprint(format, args))
}

func ItemSuccess(format string, args ...any) {
	printf("  %s %s\n", colorize(Green, SymbolSuccess), sprint(format, args))
}

func ItemError(format string, args ...any) {
	printf("  %s %s\n", colorize(Red, SymbolError), sprint(format, args))
}

func ItemWarning(format string, args ...any) {
	printf("  %s %s\n", colorize(Yellow, SymbolWarning), sprint(format, args))
}

// Label prints an aligned "name: value" pair.
func Label(name, value string) {
	printf("  %s %s\n", colorize(Gray, fmt.Sprintf("%-12s", name+":")), value)
}

func Muted(format string, args ...any) string {
	return colorize(Gray, sprint(format, args))
}

func Count(n int) string {
	return colorize(Bold, fmt.Sprintf("%d", n))
}
