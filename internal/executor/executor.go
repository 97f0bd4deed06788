// Package executor runs untrusted student code against test cases.
package executor

import (
	"context"
	"errors"
	"sort"
	"time"
)

var (
	// ErrUnsupportedLanguage is returned before any execution is attempted.
	ErrUnsupportedLanguage = errors.New("unsupported language")
	// ErrUnavailable marks failures of the execution backend itself rather than of the program.
	ErrUnavailable = errors.New("code execution service unavailable")
	// ErrTimedOut marks a program that exceeded its time budget.
	ErrTimedOut = errors.New("execution timed out")
)

// Executor runs one program with one stdin.
type Executor interface {
	Execute(ctx context.Context, req Request) (Result, error)
}

// Request is a single program execution.
type Request struct {
	Language string
	Source   string
	Stdin    string
}

// Result is the raw outcome of an execution.
type Result struct {
	Stdout        string
	Stderr        string
	ExitCode      int
	ExecutionTime time.Duration
}

// Language describes how each backend runs a supported language.
type Language struct {
	Name string
	// PistonName is the language identifier of the remote execution API.
	PistonName string
	Image      string
	FileName   string
	// Command compiles (if needed) and runs FileName, reading stdin.
	Command string
}

var languages = map[string]Language{
	"python": {
		Name:       "python",
		PistonName: "python",
		Image:      "python:3.12-alpine",
		FileName:   "main.py",
		Command:    "python3 main.py",
	},
	"javascript": {
		Name:       "javascript",
		PistonName: "javascript",
		Image:      "node:20-alpine",
		FileName:   "main.js",
		Command:    "node main.js",
	},
	"c": {
		Name:       "c",
		PistonName: "c",
		Image:      "gcc:13",
		FileName:   "main.c",
		Command:    "gcc -O2 -o /tmp/main main.c -lm && /tmp/main",
	},
	"cpp": {
		Name:       "cpp",
		PistonName: "c++",
		Image:      "gcc:13",
		FileName:   "main.cpp",
		Command:    "g++ -O2 -std=c++17 -o /tmp/main main.cpp && /tmp/main",
	},
	"java": {
		Name:       "java",
		PistonName: "java",
		Image:      "eclipse-temurin:21-jdk-alpine",
		FileName:   "Main.java",
		Command:    "java Main.java",
	},
}

// LookupLanguage returns the language definition for name.
func LookupLanguage(name string) (Language, bool) {
	l, ok := languages[name]
	return l, ok
}

// SupportedLanguages returns the supported language names, sorted.
func SupportedLanguages() []string {
	out := make([]string, 0, len(languages))
	for name := range languages {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
