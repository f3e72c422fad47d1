package stores_test

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/openfroyo/polsync/pkg/engine"
	"github.com/openfroyo/polsync/pkg/schema"
	"github.com/openfroyo/polsync/pkg/stores"
)

// ExampleNewSQLiteStore demonstrates creating and initializing a new SQLite store.
func ExampleNewSQLiteStore() {
	store, err := stores.NewSQLiteStore(stores.Config{
		Path:            stores.MemoryPath,
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	})
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		log.Fatal(err)
	}
	if err := store.Migrate(ctx); err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	fmt.Println("Store initialized successfully")
	// Output: Store initialized successfully
}

// ExampleSQLiteStore_Client reconciles an address against the sandbox.
func ExampleSQLiteStore_Client() {
	store, _ := stores.NewSQLiteStore(stores.Config{Path: stores.MemoryPath})
	ctx := context.Background()
	_ = store.Init(ctx)
	_ = store.Migrate(ctx)
	defer store.Close()

	s := schema.AddressSchema()
	if err := s.Validate(); err != nil {
		log.Fatal(err)
	}

	r := engine.NewReconciler(store.Client(s))
	req := engine.Request{
		Schema:  s,
		Desired: engine.DesiredState{"name": "web", "folder": "Texas", "ip_netmask": "10.0.0.0/24"},
		State:   engine.StatePresent,
	}
	for i := 1; i <= 2; i++ {
		res, err := r.Reconcile(ctx, req)
		if err != nil {
			log.Fatal(err)
		}
		fmt.Printf("run %d: %s\n", i, res.Operation)
	}
	// Output:
	// run 1: create
	// run 2: noop
}

// ExampleSQLiteStore_ListRuns shows the journal written by a batch run.
func ExampleSQLiteStore_ListRuns() {
	store, _ := stores.NewSQLiteStore(stores.Config{Path: stores.MemoryPath})
	ctx := context.Background()
	_ = store.Init(ctx)
	_ = store.Migrate(ctx)
	defer store.Close()

	tag := schema.TagSchema()
	if err := tag.Validate(); err != nil {
		log.Fatal(err)
	}

	runner := engine.NewBatchRunner(engine.WithJournal(store))
	_, err := runner.Run(ctx, []engine.Item{{
		Schema:  tag,
		Client:  store.Client(tag),
		Desired: engine.DesiredState{"name": "prod", "folder": "Texas"},
		State:   engine.StatePresent,
	}}, false)
	if err != nil {
		log.Fatal(err)
	}

	runs, err := store.ListRuns(ctx, stores.RunFilter{})
	if err != nil {
		log.Fatal(err)
	}
	run, err := store.GetRun(ctx, runs[0].ID)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(run.Status, run.Summary.Created)
	for _, o := range run.Outcomes {
		fmt.Println(o.Key, o.Operation)
	}
	// Output:
	// succeeded 1
	// tag/prod create
}
