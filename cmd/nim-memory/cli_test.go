package main

import (
	"bytes"
	"strings"
	"testing"
)

func runRootCommandForTest(args ...string) (string, error) {
	cmd := buildRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// memoryEnv points the CLI at an in-process store and the mock embedder so
// no command touches disk or the network.
func memoryEnv(t *testing.T) {
	t.Setenv("NIM_MEMORY_STORE", "memory")
	t.Setenv("NIM_MEMORY_EMBED_PROVIDER", "mock")
	t.Setenv("NIM_MEMORY_LLM_PROVIDER", "openai")
}

func TestRootHelpListsCommands(t *testing.T) {
	output, err := runRootCommandForTest("--help")
	if err != nil {
		t.Fatalf("execute --help: %v\n%s", err, output)
	}
	for _, name := range []string{"chat", "serve", "recall", "reflect", "stats"} {
		if !strings.Contains(output, name) {
			t.Errorf("help output missing %q:\n%s", name, output)
		}
	}
}

func TestRootRequiresSubcommand(t *testing.T) {
	if _, err := runRootCommandForTest(); err == nil {
		t.Fatal("expected an error without a subcommand")
	}
}

func TestRecallEmptyStore(t *testing.T) {
	memoryEnv(t)
	output, err := runRootCommandForTest("recall", "dns", "button")
	if err != nil {
		t.Fatalf("recall: %v\n%s", err, output)
	}
	if !strings.Contains(output, "0 memories") {
		t.Errorf("unexpected output:\n%s", output)
	}
}

func TestReflectEmptyStore(t *testing.T) {
	memoryEnv(t)
	output, err := runRootCommandForTest("reflect", "dns")
	if err != nil {
		t.Fatalf("reflect: %v\n%s", err, output)
	}
	if !strings.Contains(output, "Recalled 0 memories") {
		t.Errorf("unexpected output:\n%s", output)
	}
	if strings.Contains(output, "Insight") {
		t.Errorf("empty recall should not produce an insight:\n%s", output)
	}
}

func TestStats(t *testing.T) {
	memoryEnv(t)
	output, err := runRootCommandForTest("stats")
	if err != nil {
		t.Fatalf("stats: %v\n%s", err, output)
	}
	for _, want := range []string{"store:      memory", "embeddings: mock", "memories:   0"} {
		if !strings.Contains(output, want) {
			t.Errorf("stats output missing %q:\n%s", want, output)
		}
	}
}

func TestInvalidConfig(t *testing.T) {
	t.Setenv("NIM_MEMORY_STORE", "sqlite")
	if _, err := runRootCommandForTest("stats"); err == nil {
		t.Fatal("expected an unknown store to fail")
	}
}

func TestRecallRequiresQuery(t *testing.T) {
	memoryEnv(t)
	if _, err := runRootCommandForTest("recall"); err == nil {
		t.Fatal("expected recall without a query to fail")
	}
}

func TestOneLine(t *testing.T) {
	if got := oneLine("a\n  b\tc"); got != "a b c" {
		t.Errorf("oneLine collapsed to %q", got)
	}
	long := strings.Repeat("x", 100)
	if got := oneLine(long); len([]rune(got)) != 83 {
		t.Errorf("oneLine(long) has %d runes", len([]rune(got)))
	}
}
