package aggregate

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"hostsgen/pkg/manifest"
	"hostsgen/pkg/rules"
	"hostsgen/pkg/whitelist"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func input(label string, lines ...string) SourceInput {
	return SourceInput{
		Source:  manifest.Source{URL: "https://lists.example/" + label, Label: label},
		Content: []byte(strings.Join(lines, "\r\n")),
	}
}

func TestMergeDeduplicatesAcrossSources(t *testing.T) {
	inputs := []SourceInput{
		input("hosts",
			"# hosts list",
			"0.0.0.0 ads.example.com",
			"0.0.0.0 tracker.example.org",
			"0.0.0.0 ads.example.com",
			"127.0.0.1 localhost",
		),
		input("adblock",
			"! EasyList",
			"||ads.example.com^$third-party",
			"||banner.example.net^",
			"example.com##.ad",
		),
	}

	set, report, err := Merge(context.Background(), inputs, MergeOptions{Log: discardLogger(), Workers: 2})
	if err != nil {
		t.Fatalf("Merge returned error: %v", err)
	}

	want := []string{"ads.example.com", "banner.example.net", "tracker.example.org"}
	got := set.Domains()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("Domains() = %v, want %v", got, want)
	}
	if set.Source("ads.example.com") != "hosts" {
		t.Errorf("provenance = %q, want first source", set.Source("ads.example.com"))
	}
	if report.Readable != 2 || report.Failed != 0 {
		t.Errorf("report readable=%d failed=%d", report.Readable, report.Failed)
	}

	hosts := report.Sources[0]
	if hosts.Accepted != 2 || hosts.Duplicates != 1 || hosts.Rejected[rules.Reserved] != 1 || hosts.Rejected[rules.Comment] != 1 {
		t.Errorf("unexpected hosts stats: %+v", hosts)
	}
	adblock := report.Sources[1]
	if adblock.Lines != 4 || adblock.Accepted != 2 || adblock.RejectedTotal() != 2 {
		t.Errorf("unexpected adblock stats: %+v", adblock)
	}
}

func TestMergeAppliesWhitelist(t *testing.T) {
	wl, err := whitelist.New([]string{"google.com"}, []string{"*.cloudfront.net"})
	if err != nil {
		t.Fatalf("whitelist.New: %v", err)
	}
	inputs := []SourceInput{input("list",
		"google.com",
		"d111.cloudfront.net",
		"evil.com",
	)}

	set, report, err := Merge(context.Background(), inputs, MergeOptions{Whitelist: wl, Log: discardLogger()})
	if err != nil {
		t.Fatalf("Merge returned error: %v", err)
	}
	if set.Len() != 1 || !set.Has("evil.com") {
		t.Errorf("Domains() = %v, want [evil.com]", set.Domains())
	}
	if report.Sources[0].Whitelisted != 2 {
		t.Errorf("Whitelisted = %d, want 2", report.Sources[0].Whitelisted)
	}
}

func TestMergeSkipsUnreadableSources(t *testing.T) {
	var events []Event
	inputs := []SourceInput{
		{Source: manifest.Source{Label: "broken"}, Err: errors.New("download failed")},
		{Source: manifest.Source{Label: "missing"}},
		input("good", "good.example.com"),
	}

	set, report, err := Merge(context.Background(), inputs, MergeOptions{
		Log:      discardLogger(),
		Progress: func(e Event) { events = append(events, e) },
	})
	if err != nil {
		t.Fatalf("Merge returned error: %v", err)
	}
	if !set.Has("good.example.com") {
		t.Error("expected good.example.com from the readable source")
	}
	if report.Readable != 1 || report.Failed != 2 {
		t.Errorf("report readable=%d failed=%d", report.Readable, report.Failed)
	}
	if len(events) != 3 {
		t.Fatalf("got %d progress events, want 3", len(events))
	}
	if last := events[len(events)-1]; last.Done != 3 || last.Total != 3 {
		t.Errorf("last event = %+v", last)
	}
}

func TestMergeFailsWithoutReadableSources(t *testing.T) {
	inputs := []SourceInput{
		{Source: manifest.Source{Label: "a"}, Err: errors.New("timeout")},
		{Source: manifest.Source{Label: "b"}, Err: errors.New("404")},
	}
	_, _, err := Merge(context.Background(), inputs, MergeOptions{Log: discardLogger()})
	if !errors.Is(err, ErrNoSources) {
		t.Fatalf("err = %v, want ErrNoSources", err)
	}

	_, _, err = Merge(context.Background(), nil, MergeOptions{Log: discardLogger()})
	if !errors.Is(err, ErrNoSources) {
		t.Fatalf("err = %v, want ErrNoSources for empty input", err)
	}
}

func TestMergeEmptyResultIsNotFailure(t *testing.T) {
	set, _, err := Merge(context.Background(), []SourceInput{input("comments", "# nothing here")}, MergeOptions{Log: discardLogger()})
	if err != nil {
		t.Fatalf("Merge returned error: %v", err)
	}
	if set.Len() != 0 {
		t.Errorf("expected empty set, got %v", set.Domains())
	}
}

func TestMergeIsIdempotent(t *testing.T) {
	inputs := []SourceInput{
		input("one", "a.example.com", "b.example.com"),
		input("two", "||b.example.com^", "0.0.0.0 c.example.com"),
	}
	opts := MergeOptions{Log: discardLogger(), Workers: 4}

	first, _, err := Merge(context.Background(), inputs, opts)
	if err != nil {
		t.Fatalf("first merge: %v", err)
	}
	second, _, err := Merge(context.Background(), inputs, opts)
	if err != nil {
		t.Fatalf("second merge: %v", err)
	}
	if !first.Equal(second) {
		t.Errorf("merges differ: %v vs %v", first.Domains(), second.Domains())
	}
}

func TestMergeHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := Merge(ctx, []SourceInput{input("one", "a.example.com")}, MergeOptions{Log: discardLogger()})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestMergeSkipsOverlongLines(t *testing.T) {
	inputs := []SourceInput{
		input("huge", strings.Repeat("a", maxLineSize+10)),
		input("fine", "fine.example.com"),
	}
	set, report, err := Merge(context.Background(), inputs, MergeOptions{Log: discardLogger()})
	if err != nil {
		t.Fatalf("Merge returned error: %v", err)
	}
	if report.Failed != 1 || report.Sources[0].Err == nil {
		t.Errorf("expected the oversized source to fail: %+v", report.Sources[0])
	}
	if !set.Has("fine.example.com") {
		t.Error("expected fine.example.com")
	}
}
