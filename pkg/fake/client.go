// Package fake provides an in-memory implementation of the engine's
// collaborator contract for tests and dry runs. Each Client is constructed per
// test and holds its own state.
package fake

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/openfroyo/polsync/pkg/engine"
	"github.com/openfroyo/polsync/pkg/schema"
)

// Call names used for counters and error injection.
const (
	CallFetch  = "fetch"
	CallCreate = "create"
	CallUpdate = "update"
	CallDelete = "delete"
)

// Client is an in-memory remote for one resource type. Update replaces the
// stored object with the patch, like the real endpoint, so a patch that drops
// a field loses it.
type Client struct {
	mu sync.Mutex

	schema  *schema.ResourceSchema
	objects map[string]engine.RemoteResource

	calls      map[string]int
	failNext   map[string]error
	failAlways map[string]error
	referenced map[string]bool

	reorder    bool
	createRace bool

	// Created, Updated and Deleted record the payloads of successful calls.
	Created []engine.DesiredState
	Updated []engine.Patch
	Deleted []string
}

// Option configures a Client.
type Option func(*Client)

// WithReorder makes Fetch return every top-level list reversed, the way some
// servers reorder set-like fields.
func WithReorder() Option {
	return func(c *Client) {
		c.reorder = true
	}
}

// WithCreateRace makes the next Create behave as if a concurrent caller
// created the same resource first: the object is stored and NameNotUnique is
// returned.
func WithCreateRace() Option {
	return func(c *Client) {
		c.createRace = true
	}
}

// New creates an empty fake remote for the schema's resource type.
func New(s *schema.ResourceSchema, opts ...Option) *Client {
	c := &Client{
		schema:     s,
		objects:    make(map[string]engine.RemoteResource),
		calls:      make(map[string]int),
		failNext:   make(map[string]error),
		failAlways: make(map[string]error),
		referenced: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Seed stores a resource directly, assigning an id when it has none, and
// returns the stored copy. Seeding does not count as a call.
func (c *Client) Seed(res engine.RemoteResource) engine.RemoteResource {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store(res.Clone())
}

// FailNext makes the next call of the given kind return err.
func (c *Client) FailNext(call string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failNext[call] = err
}

// FailAlways makes every call of the given kind return err. A nil err clears it.
func (c *Client) FailAlways(call string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err == nil {
		delete(c.failAlways, call)
		return
	}
	c.failAlways[call] = err
}

// MarkReferenced makes deletes of the named resource fail with StillReferenced.
func (c *Client) MarkReferenced(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.referenced[name] = true
}

// Calls returns how many times the given call was made.
func (c *Client) Calls(call string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[call]
}

// TotalCalls returns the number of calls of any kind.
func (c *Client) TotalCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := 0
	for _, n := range c.calls {
		total += n
	}
	return total
}

// Get returns a copy of the stored resource, ignoring reordering.
func (c *Client) Get(name string, container engine.ContainerSelector) (engine.RemoteResource, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	res := c.find(name, container)
	if res == nil {
		return nil, false
	}
	return res.Clone(), true
}

// Len returns the number of stored resources.
func (c *Client) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.objects)
}

// Fetch implements engine.Client.
func (c *Client) Fetch(_ context.Context, name string, container engine.ContainerSelector) (engine.RemoteResource, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.begin(CallFetch); err != nil {
		return nil, err
	}
	res := c.find(name, container)
	if res == nil {
		return nil, engine.NotFoundError("%s %q not found in %s", c.schema.Type, name, container)
	}

	out := res.Clone()
	if c.reorder {
		for k, v := range out {
			switch list := v.(type) {
			case []interface{}:
				out[k] = reversed(list)
			case []string:
				r := make([]interface{}, len(list))
				for i, e := range list {
					r[len(list)-1-i] = e
				}
				out[k] = r
			}
		}
	}
	return out, nil
}

// Create implements engine.Client.
func (c *Client) Create(_ context.Context, payload engine.DesiredState) (engine.RemoteResource, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.begin(CallCreate); err != nil {
		return nil, err
	}

	res := engine.RemoteResource(payload.Clone())
	container := c.containerOf(res)
	if c.createRace {
		c.createRace = false
		c.store(res)
		return nil, engine.NameNotUniqueError("%s %q already exists in %s", c.schema.Type, res.Name(), container)
	}
	if c.find(res.Name(), container) != nil {
		return nil, engine.NameNotUniqueError("%s %q already exists in %s", c.schema.Type, res.Name(), container)
	}

	delete(res, schema.IDField)
	stored := c.store(res)
	c.Created = append(c.Created, payload.Clone())
	return stored.Clone(), nil
}

// Update implements engine.Client.
func (c *Client) Update(_ context.Context, patch engine.Patch) (engine.RemoteResource, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.begin(CallUpdate); err != nil {
		return nil, err
	}

	id, _ := patch[schema.IDField].(string)
	if _, ok := c.objects[id]; !ok || id == "" {
		return nil, engine.InvalidError("%s: unknown id %q", c.schema.Type, id)
	}

	res := engine.RemoteResource(patch).Clone()
	c.objects[id] = res
	c.Updated = append(c.Updated, engine.Patch(res.Clone()))
	return res.Clone(), nil
}

// Delete implements engine.Client.
func (c *Client) Delete(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.begin(CallDelete); err != nil {
		return err
	}

	res, ok := c.objects[id]
	if !ok {
		return engine.NotFoundError("%s: unknown id %q", c.schema.Type, id)
	}
	if c.referenced[res.Name()] {
		return engine.StillReferencedError("%s %q is still referenced", c.schema.Type, res.Name())
	}
	delete(c.objects, id)
	c.Deleted = append(c.Deleted, id)
	return nil
}

// begin counts the call and returns any injected error. Callers hold mu.
func (c *Client) begin(call string) error {
	c.calls[call]++
	if err, ok := c.failNext[call]; ok {
		delete(c.failNext, call)
		return err
	}
	return c.failAlways[call]
}

func (c *Client) store(res engine.RemoteResource) engine.RemoteResource {
	if res.ID() == "" {
		res[schema.IDField] = uuid.New().String()
	}
	c.objects[res.ID()] = res
	return res
}

func (c *Client) find(name string, container engine.ContainerSelector) engine.RemoteResource {
	for _, res := range c.objects {
		if res.Name() != name {
			continue
		}
		if container.IsZero() || res.String(container.Field) == container.Value {
			return res
		}
	}
	return nil
}

func (c *Client) containerOf(res engine.RemoteResource) engine.ContainerSelector {
	g, ok := c.schema.ContainerGroup()
	if !ok {
		return engine.ContainerSelector{}
	}
	for _, m := range g.Members {
		if v := res.String(m); v != "" {
			return engine.ContainerSelector{Field: m, Value: v}
		}
	}
	return engine.ContainerSelector{}
}

func reversed(list []interface{}) []interface{} {
	out := make([]interface{}, len(list))
	for i, v := range list {
		out[len(list)-1-i] = v
	}
	return out
}
