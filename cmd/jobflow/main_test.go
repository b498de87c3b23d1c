package main

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"github.com/amishk599/jobflow/internal/config"
	"github.com/amishk599/jobflow/internal/model"
	"github.com/amishk599/jobflow/internal/retry"
	"github.com/amishk599/jobflow/internal/scheduler"
	"github.com/amishk599/jobflow/internal/workflow"
)

func testConfig() *config.Config {
	return &config.Config{
		Sources: []config.SourceConfig{
			{Name: "connecting_expertise", Enabled: true, Username: "me", MaxPages: 3},
			{Name: "pro_unity", Enabled: false},
			{Name: "bnppf", Enabled: true, DaysBack: 2},
		},
	}
}

func TestSelectSources(t *testing.T) {
	cfg := testConfig()

	got, err := selectSources(cfg, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Join(got, ",") != "connecting_expertise,bnppf" {
		t.Errorf("default selection = %v, want enabled sources", got)
	}

	got, err = selectSources(cfg, []string{"pro_unity"})
	if err != nil || len(got) != 1 {
		t.Errorf("disabled source should be runnable explicitly, got %v, %v", got, err)
	}

	if _, err := selectSources(cfg, []string{"elia"}); err == nil {
		t.Error("expected error for unconfigured source")
	}
}

func TestBuildRequests_FileInputsOverrideConfig(t *testing.T) {
	cfg := testConfig()
	reqs := buildRequests(cfg, []string{"connecting_expertise", "bnppf"}, map[string]map[string]string{
		"connecting_expertise": {"max_pages": "1"},
	})

	if len(reqs) != 2 {
		t.Fatalf("got %d requests, want 2", len(reqs))
	}
	ce := reqs[0].Input
	if ce.Get("username") != "me" || ce.Get("max_pages") != "1" {
		t.Errorf("connecting_expertise input = %v", ce)
	}
	if reqs[1].Input.Get("days_back") != "2" {
		t.Errorf("bnppf input = %v", reqs[1].Input)
	}
}

func TestApplyRunFlags(t *testing.T) {
	newCmd := func() *cobra.Command {
		cmd := &cobra.Command{}
		f := cmd.Flags()
		f.StringVar(&runFlags.mode, "mode", "", "")
		f.IntVar(&runFlags.maxParallel, "max-parallel", 0, "")
		f.BoolVar(&runFlags.failFast, "fail-fast", false, "")
		f.BoolVar(&runFlags.persistPartial, "persist-partial", true, "")
		return cmd
	}

	cmd := newCmd()
	if err := cmd.ParseFlags([]string{"--mode", "parallel", "--max-parallel", "3", "--persist-partial=false"}); err != nil {
		t.Fatal(err)
	}
	opts := scheduler.Options{Mode: scheduler.ModeSequential, MaxParallel: 1, FailFast: true, PersistPartial: true}
	if err := applyRunFlags(cmd, &opts); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := scheduler.Options{Mode: scheduler.ModeParallel, MaxParallel: 3, FailFast: true, PersistPartial: false}
	if opts != want {
		t.Errorf("options = %+v, want %+v", opts, want)
	}

	cmd = newCmd()
	if err := cmd.ParseFlags([]string{"--mode", "swarm"}); err != nil {
		t.Fatal(err)
	}
	if err := applyRunFlags(cmd, &opts); err == nil {
		t.Error("expected error for unknown mode")
	}
}

func TestPrintWorkflows(t *testing.T) {
	noop := func(_ context.Context, s workflow.State) (workflow.State, error) { return s, nil }
	once := retry.Policy{MaxAttempts: 1}
	reg := workflow.NewRegistry([]workflow.Entry{
		{Name: "elia", Factory: func() (*workflow.Graph, error) {
			return workflow.NewBuilder("elia").
				Entry("fetch_mail").
				Step("fetch_mail", noop, once).
				Step("parse", noop, once).
				When("fetch_mail", "has mail", func(workflow.State) bool { return true }, "parse").
				Edge("fetch_mail", workflow.Terminal).
				Edge("parse", workflow.Terminal).
				Build()
		}},
		{Name: "bnppf"},
	})

	var buf bytes.Buffer
	printWorkflows(&buf, reg)
	out := buf.String()

	for _, want := range []string{"elia  ok", "when has mail", "bnppf  INVALID", "Total: 2 workflows (1 invalid)"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestPrintCounts(t *testing.T) {
	var buf bytes.Buffer
	printCounts(&buf, map[model.Source]int{model.SourceElia: 2, model.SourceBNPPF: 5})
	out := buf.String()
	if strings.Index(out, "bnppf") > strings.Index(out, "elia") {
		t.Error("sources should be sorted")
	}
	if !strings.Contains(out, "Total: 7 listings") {
		t.Errorf("missing total:\n%s", out)
	}
}

func TestNewApp_StoreFailureSurfacesBeforeRun(t *testing.T) {
	cfg := testConfig()
	cfg.Store = config.StoreConfig{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "missing", "dir", "jobs.db")}

	relay := &observerRelay{}
	a, err := newApp(context.Background(), cfg, scheduler.Options{}, false, newLogger(io.Discard, false),
		scheduler.WithObserver(relay.observe))
	if err == nil {
		a.close()
		t.Fatal("expected setup error for unreachable store path")
	}
	if !strings.Contains(err.Error(), "opening store") {
		t.Errorf("error = %v, want it to name the store", err)
	}
}

func TestObserverRelay(t *testing.T) {
	relay := &observerRelay{}
	relay.observe(workflow.Event{Kind: workflow.EventStepStarted})

	var got []workflow.EventKind
	relay.target = func(ev workflow.Event) { got = append(got, ev.Kind) }
	relay.observe(workflow.Event{Kind: workflow.EventFinished})

	if len(got) != 1 || got[0] != workflow.EventFinished {
		t.Errorf("forwarded = %v, want only the event sent after target was set", got)
	}
}
