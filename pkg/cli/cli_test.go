package cli

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"hostsgen/internal/testutil"
	"hostsgen/pkg/aggregate"
	"hostsgen/pkg/hostsfile"
)

type fixture struct {
	dir       string
	config    string
	output    string
	whitelist string
	server    *testutil.ListServer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	t.Setenv("HOSTSGEN_CONFIG", "")

	f := &fixture{dir: t.TempDir()}
	f.server = testutil.StartListServer(t, map[string]string{
		"/hosts":   "0.0.0.0 ads.example.com\n0.0.0.0 google.com\n",
		"/adblock": "||tracker.example.net^\n",
	})
	manifestPath := filepath.Join(f.dir, "manifest.csv")
	manifestBody := f.server.Location("/hosts") + ",hosts\n" + f.server.Location("/adblock") + ",adblock\n"
	if err := os.WriteFile(manifestPath, []byte(manifestBody), 0o600); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	f.whitelist = filepath.Join(f.dir, "whitelist.txt")
	if err := os.WriteFile(f.whitelist, []byte("google.com\n"), 0o600); err != nil {
		t.Fatalf("write whitelist: %v", err)
	}
	f.output = filepath.Join(f.dir, "hosts.txt")

	f.config = filepath.Join(f.dir, "hostsgen.conf")
	config := `
[manifest]
location = "` + manifestPath + `"

[cache]
enabled = false

[output]
path = "` + f.output + `"

[whitelist]
path = "` + f.whitelist + `"

[logging]
file = "` + filepath.Join(f.dir, "hostsgen.log") + `"

[history]
path = "` + filepath.Join(f.dir, "history.db") + `"
`
	if err := os.WriteFile(f.config, []byte(config), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return f
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	root := NewRootCommand(&stdout, &stderr)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return stdout.String(), err
}

func published(t *testing.T, path string) string {
	t.Helper()
	set, err := hostsfile.ReadPublished(path)
	if err != nil {
		t.Fatalf("ReadPublished: %v", err)
	}
	return strings.Join(set.Domains(), ",")
}

func TestBuildCommand(t *testing.T) {
	f := newFixture(t)

	out, err := execute(t, "", "build", "--config", f.config, "--sinkhole", "0.0.0.0")
	if err != nil {
		t.Fatalf("build returned error: %v", err)
	}
	if !strings.Contains(out, "wrote 2 entries to "+f.output) {
		t.Errorf("unexpected output: %q", out)
	}
	if got := published(t, f.output); got != "ads.example.com,tracker.example.net" {
		t.Errorf("published = %s", got)
	}
	data, err := os.ReadFile(f.output)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if !strings.Contains(string(data), "\n0.0.0.0 ads.example.com\n") {
		t.Errorf("sinkhole flag not applied:\n%s", data)
	}

	out, err = execute(t, "", "history", "--config", f.config)
	if err != nil {
		t.Fatalf("history returned error: %v", err)
	}
	if !strings.Contains(out, "ENTRIES") || !strings.Contains(out, "full") {
		t.Errorf("unexpected history output:\n%s", out)
	}
}

func TestBuildCommandNoWhitelist(t *testing.T) {
	f := newFixture(t)

	if _, err := execute(t, "", "build", "--config", f.config, "--no-whitelist"); err != nil {
		t.Fatalf("build returned error: %v", err)
	}
	if got := published(t, f.output); got != "ads.example.com,google.com,tracker.example.net" {
		t.Errorf("published = %s", got)
	}
}

func TestBuildCommandIncremental(t *testing.T) {
	f := newFixture(t)
	if _, err := execute(t, "", "build", "--config", f.config); err != nil {
		t.Fatalf("first build: %v", err)
	}

	f.server.Set("/hosts", "0.0.0.0 new.example.com\n")
	if _, err := execute(t, "", "build", "--config", f.config, "--incremental"); err != nil {
		t.Fatalf("incremental build: %v", err)
	}
	if got := published(t, f.output); got != "ads.example.com,new.example.com,tracker.example.net" {
		t.Errorf("published = %s", got)
	}
}

func TestBuildCommandFailsWithoutSources(t *testing.T) {
	f := newFixture(t)
	f.server.Remove("/hosts")
	f.server.Remove("/adblock")

	_, err := execute(t, "", "build", "--config", f.config)
	if !errors.Is(err, aggregate.ErrNoSources) {
		t.Fatalf("err = %v, want ErrNoSources", err)
	}
	if _, statErr := os.Stat(f.output); !os.IsNotExist(statErr) {
		t.Errorf("output should not be written, stat err = %v", statErr)
	}
}

func TestNormalizeCommand(t *testing.T) {
	input := "# comment\n0.0.0.0 Ads.Example.com\n||tracker.example.net^$third-party\nexample.com##.banner\n"

	out, err := execute(t, input, "normalize")
	if err != nil {
		t.Fatalf("normalize returned error: %v", err)
	}
	if out != "ads.example.com\ntracker.example.net\n" {
		t.Errorf("output = %q", out)
	}

	out, err = execute(t, input, "normalize", "--show-rejected")
	if err != nil {
		t.Fatalf("normalize returned error: %v", err)
	}
	if !strings.Contains(out, "example.com##.banner") || strings.Contains(out, "# comment") {
		t.Errorf("unexpected rejected output:\n%s", out)
	}
}

func TestSourcesCommand(t *testing.T) {
	f := newFixture(t)

	out, err := execute(t, "", "sources", "--config", f.config)
	if err != nil {
		t.Fatalf("sources returned error: %v", err)
	}
	for _, want := range []string{"label: hosts", "label: adblock", "url: " + f.server.Location("/hosts")} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	out, err = execute(t, "", "sources", "--catalog")
	if err != nil {
		t.Fatalf("sources --catalog returned error: %v", err)
	}
	if !strings.Contains(out, "label: stevenblack") {
		t.Errorf("catalog output missing stevenblack:\n%s", out)
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "", "version")
	if err != nil {
		t.Fatalf("version returned error: %v", err)
	}
	if !strings.HasPrefix(out, "hostsgen ") {
		t.Errorf("output = %q", out)
	}
}
