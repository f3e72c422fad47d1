package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/openfroyo/polsync/pkg/engine"
	"github.com/openfroyo/polsync/pkg/fake"
	"github.com/openfroyo/polsync/pkg/schema"
	"github.com/openfroyo/polsync/pkg/telemetry"
)

type memJournal struct {
	mu   sync.Mutex
	runs []*engine.Run
	err  error
}

func (j *memJournal) RecordRun(_ context.Context, run *engine.Run) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.err != nil {
		return j.err
	}
	j.runs = append(j.runs, run)
	return nil
}

func batchItems(t *testing.T) ([]engine.Item, *fake.Client, *fake.Client) {
	t.Helper()
	addr := schema.AddressSchema()
	tag := schema.TagSchema()
	for _, s := range []*schema.ResourceSchema{addr, tag} {
		if err := s.Validate(); err != nil {
			t.Fatal(err)
		}
	}

	addrs := fake.New(addr)
	tags := fake.New(tag)
	tags.Seed(engine.RemoteResource{"name": "prod", "folder": "Texas", "color": "Red"})
	tags.Seed(engine.RemoteResource{"name": "stage", "folder": "Texas", "color": "Red"})
	tags.Seed(engine.RemoteResource{"name": "old", "folder": "Texas"})

	items := []engine.Item{
		{Schema: addr, Client: addrs, Desired: engine.DesiredState{"name": "web", "folder": "Texas", "ip_netmask": "10.0.0.0/24"}},
		{Schema: tag, Client: tags, Desired: engine.DesiredState{"name": "prod", "folder": "Texas", "color": "Red"}},
		{Schema: tag, Client: tags, Desired: engine.DesiredState{"name": "stage", "folder": "Texas", "color": "Blue"}, Key: "tag/stage-blue"},
		{Schema: tag, Client: tags, Desired: engine.DesiredState{"name": "old", "folder": "Texas"}, State: engine.StateAbsent},
		{Schema: addr, Client: addrs, Desired: engine.DesiredState{"name": "bad", "folder": "Texas", "snippet": "x"}},
	}
	return items, addrs, tags
}

func TestBatchRunner(t *testing.T) {
	items, addrs, tags := batchItems(t)
	journal := &memJournal{}

	run, err := engine.NewBatchRunner(engine.WithParallelism(2), engine.WithJournal(journal)).
		Run(context.Background(), items, false)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if run.ID == "" || run.CompletedAt.Before(run.StartedAt) {
		t.Errorf("run metadata = %+v", run)
	}
	if run.Status != engine.RunStatusPartial {
		t.Errorf("status = %s, want partial", run.Status)
	}

	want := engine.RunSummary{Total: 5, Created: 1, Updated: 1, Deleted: 1, Unchanged: 1, Failed: 1}
	if run.Summary != want {
		t.Errorf("summary = %+v, want %+v", run.Summary, want)
	}

	keys := []string{"address/web", "tag/prod", "tag/stage-blue", "tag/old", "address/bad"}
	for i, o := range run.Outcomes {
		if o.Key != keys[i] {
			t.Errorf("outcome %d key = %q, want %q", i, o.Key, keys[i])
		}
	}
	if run.Outcomes[0].Container != "folder=Texas" {
		t.Errorf("container = %q", run.Outcomes[0].Container)
	}

	bad := run.Outcomes[4]
	if !bad.Failed() || bad.ErrorCode != engine.ErrCodeContainerSelection {
		t.Errorf("bad outcome = %+v", bad)
	}
	if addrs.Calls(fake.CallFetch) != 1 {
		t.Errorf("address fetches = %d, want 1", addrs.Calls(fake.CallFetch))
	}
	if _, ok := tags.Get("old", texas); ok {
		t.Error("tag old not deleted")
	}

	if len(journal.runs) != 1 || journal.runs[0] != run {
		t.Errorf("journal runs = %v", journal.runs)
	}
}

func TestBatchRunnerStatus(t *testing.T) {
	s := schema.AddressSchema()
	if err := s.Validate(); err != nil {
		t.Fatal(err)
	}
	bad := engine.Item{Schema: s, Client: fake.New(s), Desired: engine.DesiredState{"name": "x"}}
	good := engine.Item{Schema: s, Client: fake.New(s), Desired: engine.DesiredState{"name": "y", "folder": "Texas", "fqdn": "y.example.com"}}
	noClient := engine.Item{Schema: s, Desired: engine.DesiredState{"name": "z", "folder": "Texas"}}

	tests := []struct {
		name  string
		items []engine.Item
		want  engine.RunStatus
	}{
		{"empty", nil, engine.RunStatusSucceeded},
		{"all good", []engine.Item{good}, engine.RunStatusSucceeded},
		{"all bad", []engine.Item{bad, noClient}, engine.RunStatusFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			run, err := engine.NewBatchRunner().Run(context.Background(), tt.items, true)
			if err != nil {
				t.Fatal(err)
			}
			if run.Status != tt.want {
				t.Errorf("status = %s, want %s", run.Status, tt.want)
			}
			if !run.DryRun {
				t.Error("run not marked dry-run")
			}
		})
	}
}

func TestBatchRunnerJournalError(t *testing.T) {
	items, _, _ := batchItems(t)
	journal := &memJournal{err: errors.New("disk full")}

	run, err := engine.NewBatchRunner(engine.WithJournal(journal)).Run(context.Background(), items[:1], false)
	if err == nil {
		t.Fatal("expected journal error")
	}
	if run == nil || run.Summary.Created != 1 {
		t.Errorf("run = %+v, want the completed run alongside the error", run)
	}
}

func TestBatchRunnerCancelled(t *testing.T) {
	items, addrs, _ := batchItems(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	run, err := engine.NewBatchRunner().Run(ctx, items[:1], false)
	if err != nil {
		t.Fatal(err)
	}
	if !errors.Is(run.Outcomes[0].Err, context.Canceled) {
		t.Errorf("outcome error = %v, want context.Canceled", run.Outcomes[0].Err)
	}
	if addrs.TotalCalls() != 0 {
		t.Error("cancelled run called the remote")
	}
}

func TestBatchRunnerTelemetry(t *testing.T) {
	cfg := telemetry.DefaultConfig()
	cfg.Logging.Level = "error"
	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = tel.Shutdown(context.Background()) }()

	var mu sync.Mutex
	counts := make(map[string]int)
	tel.Events.Subscribe(func(e telemetry.Event) {
		mu.Lock()
		defer mu.Unlock()
		counts[e.Type]++
	}, nil)

	items, _, _ := batchItems(t)
	if _, err := engine.NewBatchRunner().Run(tel.WithContext(context.Background()), items, false); err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	defer mu.Unlock()
	if counts[telemetry.EventTypeRunStarted] != 1 || counts[telemetry.EventTypeRunCompleted] != 1 {
		t.Errorf("run events = %v", counts)
	}
	if counts[telemetry.EventTypeResourceReconciled] != 4 || counts[telemetry.EventTypeResourceFailed] != 1 {
		t.Errorf("resource events = %v", counts)
	}

	n, err := testutil.GatherAndCount(tel.Metrics.Registry(), "polsync_reconciles_total")
	if err != nil {
		t.Fatal(err)
	}
	// created, updated, deleted and unchanged series; the container failure
	// never reaches the instrumented section.
	if n != 4 {
		t.Errorf("reconcile series = %d, want 4", n)
	}
}
