package stores

import (
	"context"
	"strings"
	"testing"

	"github.com/openfroyo/polsync/pkg/engine"
	"github.com/openfroyo/polsync/pkg/schema"
)

var texas = engine.ContainerSelector{Field: "folder", Value: "Texas"}

func builtinSchema(t *testing.T, resourceType string) *schema.ResourceSchema {
	t.Helper()
	r, err := schema.NewBuiltinRegistry()
	if err != nil {
		t.Fatal(err)
	}
	s, err := r.Get(resourceType)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestClientCRUD(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	client := store.Client(builtinSchema(t, "address"))

	created, err := client.Create(ctx, engine.DesiredState{
		"name":       "web",
		"folder":     "Texas",
		"ip_netmask": "10.0.0.0/24",
		"tag":        []interface{}{"A", "B"},
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if created.ID() == "" {
		t.Fatal("Create() should assign an id")
	}

	fetched, err := client.Fetch(ctx, "web", texas)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if fetched.ID() != created.ID() || fetched.String("ip_netmask") != "10.0.0.0/24" {
		t.Errorf("Fetch() = %v", fetched)
	}
	if _, err := client.Fetch(ctx, "web", engine.ContainerSelector{}); err != nil {
		t.Errorf("Fetch() with zero container error = %v", err)
	}

	patch := engine.Patch(fetched.Clone())
	patch["description"] = "front end"
	updated, err := client.Update(ctx, patch)
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if updated.String("description") != "front end" {
		t.Errorf("Update() = %v", updated)
	}

	if err := client.Delete(ctx, created.ID()); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := client.Fetch(ctx, "web", texas); !engine.IsNotFound(err) {
		t.Errorf("Fetch() after delete error = %v, want NotFound", err)
	}
}

func TestClientErrors(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	addresses := store.Client(builtinSchema(t, "address"))

	web := engine.DesiredState{"name": "web", "folder": "Texas", "ip_netmask": "10.0.0.0/24"}
	if _, err := addresses.Create(ctx, web); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name  string
		call  func() error
		check func(error) bool
		want  string
	}{
		{
			name: "fetch in other container",
			call: func() error {
				_, err := addresses.Fetch(ctx, "web", engine.ContainerSelector{Field: "folder", Value: "Shared"})
				return err
			},
			check: engine.IsNotFound,
			want:  "NotFound",
		},
		{
			name: "fetch without name",
			call: func() error {
				_, err := addresses.Fetch(ctx, "", texas)
				return err
			},
			check: engine.IsInvalid,
			want:  "Invalid",
		},
		{
			name: "duplicate create",
			call: func() error {
				_, err := addresses.Create(ctx, web)
				return err
			},
			check: engine.IsNameNotUnique,
			want:  "NameNotUnique",
		},
		{
			name: "create without container",
			call: func() error {
				_, err := addresses.Create(ctx, engine.DesiredState{"name": "db", "ip_netmask": "10.0.2.0/24"})
				return err
			},
			check: engine.IsInvalid,
			want:  "Invalid",
		},
		{
			name: "create with unknown field",
			call: func() error {
				_, err := addresses.Create(ctx, engine.DesiredState{"name": "db", "folder": "Texas", "colour": "red"})
				return err
			},
			check: engine.IsInvalid,
			want:  "Invalid",
		},
		{
			name: "update unknown id",
			call: func() error {
				_, err := addresses.Update(ctx, engine.Patch{"id": "missing", "name": "web", "folder": "Texas"})
				return err
			},
			check: engine.IsInvalid,
			want:  "Invalid",
		},
		{
			name: "update without id",
			call: func() error {
				_, err := addresses.Update(ctx, engine.Patch{"name": "web", "folder": "Texas"})
				return err
			},
			check: engine.IsInvalid,
			want:  "Invalid",
		},
		{
			name:  "delete unknown id",
			call:  func() error { return addresses.Delete(ctx, "missing") },
			check: engine.IsNotFound,
			want:  "NotFound",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			if !tt.check(err) {
				t.Errorf("error = %v, want %s", err, tt.want)
			}
		})
	}
}

func TestClientSameNameInOtherContainer(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	addresses := store.Client(builtinSchema(t, "address"))

	for _, folder := range []string{"Texas", "Shared"} {
		_, err := addresses.Create(ctx, engine.DesiredState{"name": "web", "folder": folder, "ip_netmask": "10.0.0.0/24"})
		if err != nil {
			t.Fatalf("Create() in %s error = %v", folder, err)
		}
	}

	objects, err := store.ListObjects(ctx, ObjectFilter{ResourceType: "address"})
	if err != nil {
		t.Fatal(err)
	}
	if len(objects) != 2 {
		t.Fatalf("got %d objects, want 2", len(objects))
	}
	// Ordered by container value.
	if objects[0].ContainerValue != "Shared" || objects[1].Container() != texas {
		t.Errorf("objects = %+v, %+v", objects[0], objects[1])
	}

	only, err := store.ListObjects(ctx, ObjectFilter{Container: texas})
	if err != nil {
		t.Fatal(err)
	}
	if len(only) != 1 || only[0].Payload.String("folder") != "Texas" {
		t.Errorf("ListObjects(Texas) = %v", only)
	}
}

func TestClientReferences(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	addresses := store.Client(builtinSchema(t, "address"))
	groups := store.Client(builtinSchema(t, "address_group"))

	web, err := addresses.Create(ctx, engine.DesiredState{"name": "web", "folder": "Texas", "ip_netmask": "10.0.0.0/24"})
	if err != nil {
		t.Fatal(err)
	}
	group, err := groups.Create(ctx, engine.DesiredState{"name": "frontends", "folder": "Texas", "static": []interface{}{"web"}})
	if err != nil {
		t.Fatal(err)
	}

	err = addresses.Delete(ctx, web.ID())
	if !engine.IsStillReferenced(err) {
		t.Fatalf("Delete() error = %v, want StillReferenced", err)
	}
	if !strings.Contains(err.Error(), `address_group "frontends"`) {
		t.Errorf("error %q should name the referrer", err)
	}

	// Dropping the member releases the reference.
	patch := engine.Patch(group.Clone())
	patch["static"] = []interface{}{}
	if _, err := groups.Update(ctx, patch); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if err := addresses.Delete(ctx, web.ID()); err != nil {
		t.Fatalf("Delete() after update error = %v", err)
	}
}

func TestClientSecretsAreWriteOnly(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	s := &schema.ResourceSchema{
		Type: "credential",
		Fields: []schema.Field{
			{Name: "name", Kind: schema.KindScalar},
			{Name: "token", Kind: schema.KindSecret},
			{Name: "auth", Kind: schema.KindNested, Nested: &schema.ResourceSchema{
				Type: "auth",
				Fields: []schema.Field{
					{Name: "user", Kind: schema.KindScalar},
					{Name: "password", Kind: schema.KindSecret},
				},
			}},
			{Name: "peers", Kind: schema.KindSet, Nested: &schema.ResourceSchema{
				Type: "peer",
				Fields: []schema.Field{
					{Name: "host", Kind: schema.KindScalar},
					{Name: "psk", Kind: schema.KindSecret},
				},
			}},
		},
	}
	client := store.Client(s)

	created, err := client.Create(ctx, engine.DesiredState{
		"name":  "api",
		"token": "s3cret",
		"auth":  map[string]interface{}{"user": "admin", "password": "hunter2"},
		"peers": []interface{}{map[string]interface{}{"host": "gw1", "psk": "shared"}},
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, ok := created["token"]; ok {
		t.Error("Create() should not echo secrets")
	}

	fetched, err := client.Fetch(ctx, "api", engine.ContainerSelector{})
	if err != nil {
		t.Fatal(err)
	}
	auth, _ := fetched["auth"].(map[string]interface{})
	if _, ok := auth["password"]; ok || auth["user"] != "admin" {
		t.Errorf("Fetch() auth = %v, want user without password", auth)
	}
	peers, _ := fetched["peers"].([]interface{})
	if len(peers) != 1 {
		t.Fatalf("Fetch() peers = %v", fetched["peers"])
	}
	peer, _ := peers[0].(map[string]interface{})
	if _, ok := peer["psk"]; ok || peer["host"] != "gw1" {
		t.Errorf("Fetch() peer = %v, want host without psk", peer)
	}

	// The secret is stored even though it is never returned.
	objects, err := store.ListObjects(ctx, ObjectFilter{ResourceType: "credential"})
	if err != nil {
		t.Fatal(err)
	}
	if len(objects) != 1 || objects[0].Payload.String("token") != "s3cret" {
		t.Errorf("stored objects = %v", objects)
	}
}

// The sandbox converges like the real remote: create once, then nothing.
func TestReconcileAgainstStore(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	s := builtinSchema(t, "address")
	r := engine.NewReconciler(store.Client(s))

	desired := engine.DesiredState{
		"name":       "web",
		"folder":     "Texas",
		"ip_netmask": "10.0.0.0/24",
		"tag":        []interface{}{"B", "A"},
	}
	req := engine.Request{Schema: s, Desired: desired, State: engine.StatePresent}

	first, err := r.Reconcile(ctx, req)
	if err != nil {
		t.Fatalf("first Reconcile() error = %v", err)
	}
	if first.Operation != engine.OperationCreate {
		t.Fatalf("first operation = %s, want create", first.Operation)
	}

	second, err := r.Reconcile(ctx, req)
	if err != nil {
		t.Fatalf("second Reconcile() error = %v", err)
	}
	if second.Changed || second.Operation != engine.OperationNoop {
		t.Errorf("second = %+v, want noop", second)
	}

	desired["ip_netmask"] = "10.0.1.0/24"
	third, err := r.Reconcile(ctx, engine.Request{Schema: s, Desired: desired, State: engine.StatePresent})
	if err != nil {
		t.Fatalf("third Reconcile() error = %v", err)
	}
	if third.Operation != engine.OperationUpdate || third.Resource.String("ip_netmask") != "10.0.1.0/24" {
		t.Errorf("third = %+v, want update", third)
	}

	gone, err := r.Reconcile(ctx, engine.Request{Schema: s, Desired: desired, State: engine.StateAbsent})
	if err != nil {
		t.Fatalf("absent Reconcile() error = %v", err)
	}
	if gone.Operation != engine.OperationDelete {
		t.Errorf("absent operation = %s, want delete", gone.Operation)
	}
	objects, err := store.ListObjects(ctx, ObjectFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(objects) != 0 {
		t.Errorf("store still holds %d objects", len(objects))
	}
}
