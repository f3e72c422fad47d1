package stores

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"

	"github.com/openfroyo/polsync/pkg/engine"
	"github.com/openfroyo/polsync/pkg/schema"
)

// objectClient is the sandbox remote for one resource type. It behaves like
// the management API: ids are server-assigned, names are unique per
// container, secrets are write-only and referenced objects cannot be deleted.
type objectClient struct {
	store  *SQLiteStore
	schema *schema.ResourceSchema
}

var _ engine.Client = (*objectClient)(nil)

// Client returns the sandbox collaborator for the schema's resource type.
func (s *SQLiteStore) Client(rs *schema.ResourceSchema) engine.Client {
	return &objectClient{store: s, schema: rs}
}

// Fetch implements engine.Client. A zero container matches any container.
func (c *objectClient) Fetch(ctx context.Context, name string, container engine.ContainerSelector) (engine.RemoteResource, error) {
	if name == "" {
		return nil, engine.InvalidError("%s: name is required", c.schema.Type)
	}

	query := `SELECT payload FROM objects WHERE resource_type = ? AND name = ?`
	args := []interface{}{c.schema.Type, name}
	if !container.IsZero() {
		query += ` AND container_field = ? AND container_value = ?`
		args = append(args, container.Field, container.Value)
	}
	query += ` ORDER BY created_at LIMIT 1`

	var payload string
	err := c.store.db.QueryRowContext(ctx, query, args...).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, engine.NotFoundError("%s %q not found in %s", c.schema.Type, name, container)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s %q: %w", c.schema.Type, name, err)
	}

	return c.decode(payload)
}

// Create implements engine.Client.
func (c *objectClient) Create(ctx context.Context, payload engine.DesiredState) (engine.RemoteResource, error) {
	res := engine.RemoteResource(payload.Clone())
	delete(res, schema.IDField)
	res[schema.IDField] = uuid.New().String()

	container, data, err := c.prepare(res)
	if err != nil {
		return nil, err
	}

	tx, err := c.store.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = c.store.RollbackTx(tx) }()

	now := time.Now()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO objects (id, resource_type, container_field, container_value, name, payload, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, res.ID(), c.schema.Type, container.Field, container.Value, res.Name(), data, now, now)
	if isUniqueViolation(err) {
		return nil, engine.NameNotUniqueError("%s %q already exists in %s", c.schema.Type, res.Name(), container)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s %q: %w", c.schema.Type, res.Name(), err)
	}

	if err := c.indexReferences(ctx, tx, res); err != nil {
		return nil, err
	}
	if err := c.store.CommitTx(tx); err != nil {
		return nil, fmt.Errorf("failed to commit %s %q: %w", c.schema.Type, res.Name(), err)
	}

	return c.decode(data)
}

// Update implements engine.Client. The stored object is replaced by the
// patch, so fields missing from the patch are lost. Secrets are never read
// back, so a patch only carries the secrets its desired state sets; any
// other stored secret is dropped.
func (c *objectClient) Update(ctx context.Context, patch engine.Patch) (engine.RemoteResource, error) {
	res := engine.RemoteResource(patch).Clone()
	id := res.ID()
	if id == "" {
		return nil, engine.InvalidError("%s: update without id", c.schema.Type)
	}

	container, data, err := c.prepare(res)
	if err != nil {
		return nil, err
	}

	tx, err := c.store.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = c.store.RollbackTx(tx) }()

	result, err := tx.ExecContext(ctx, `
		UPDATE objects
		SET container_field = ?, container_value = ?, name = ?, payload = ?, updated_at = ?
		WHERE id = ? AND resource_type = ?
	`, container.Field, container.Value, res.Name(), data, time.Now(), id, c.schema.Type)
	if isUniqueViolation(err) {
		return nil, engine.InvalidError("%s %q already exists in %s", c.schema.Type, res.Name(), container)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update %s %q: %w", c.schema.Type, res.Name(), err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return nil, engine.InvalidError("%s: unknown id %q", c.schema.Type, id)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM object_refs WHERE object_id = ?`, id); err != nil {
		return nil, fmt.Errorf("failed to clear references: %w", err)
	}
	if err := c.indexReferences(ctx, tx, res); err != nil {
		return nil, err
	}
	if err := c.store.CommitTx(tx); err != nil {
		return nil, fmt.Errorf("failed to commit %s %q: %w", c.schema.Type, res.Name(), err)
	}

	return c.decode(data)
}

// Delete implements engine.Client.
func (c *objectClient) Delete(ctx context.Context, id string) error {
	tx, err := c.store.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = c.store.RollbackTx(tx) }()

	var name string
	err = tx.QueryRowContext(ctx,
		`SELECT name FROM objects WHERE id = ? AND resource_type = ?`, id, c.schema.Type).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return engine.NotFoundError("%s: unknown id %q", c.schema.Type, id)
	}
	if err != nil {
		return fmt.Errorf("failed to look up %s %q: %w", c.schema.Type, id, err)
	}

	referrers, err := c.referrers(ctx, tx, id, name)
	if err != nil {
		return err
	}
	if len(referrers) > 0 {
		return engine.StillReferencedError("%s %q is still referenced by %s",
			c.schema.Type, name, strings.Join(referrers, ", "))
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM object_refs WHERE object_id = ?`, id); err != nil {
		return fmt.Errorf("failed to clear references: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM objects WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete %s %q: %w", c.schema.Type, name, err)
	}

	return c.store.CommitTx(tx)
}

// prepare validates a payload the way the API does and returns its container
// and JSON encoding.
func (c *objectClient) prepare(res engine.RemoteResource) (engine.ContainerSelector, string, error) {
	if res.Name() == "" {
		return engine.ContainerSelector{}, "", engine.InvalidError("%s: name is required", c.schema.Type)
	}

	var unknown []string
	for k := range res {
		if k == schema.IDField || c.schema.IsIdentity(k) || c.schema.HasField(k) {
			continue
		}
		unknown = append(unknown, k)
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return engine.ContainerSelector{}, "", engine.InvalidError("%s %q: unknown fields %s",
			c.schema.Type, res.Name(), strings.Join(unknown, ", "))
	}

	container, err := c.containerOf(res)
	if err != nil {
		return engine.ContainerSelector{}, "", err
	}

	data, err := json.Marshal(res)
	if err != nil {
		return engine.ContainerSelector{}, "", engine.InvalidError("%s %q: %v", c.schema.Type, res.Name(), err)
	}
	return container, string(data), nil
}

func (c *objectClient) containerOf(res engine.RemoteResource) (engine.ContainerSelector, error) {
	g, ok := c.schema.ContainerGroup()
	if !ok {
		return engine.ContainerSelector{}, nil
	}

	var found []engine.ContainerSelector
	for _, m := range g.Members {
		if v := res.String(m); v != "" {
			found = append(found, engine.ContainerSelector{Field: m, Value: v})
		}
	}
	if len(found) != 1 {
		return engine.ContainerSelector{}, engine.InvalidError("%s %q: exactly one of %s is required",
			c.schema.Type, res.Name(), strings.Join(g.Members, ", "))
	}
	return found[0], nil
}

// indexReferences records the names held by the schema's reference fields.
func (c *objectClient) indexReferences(ctx context.Context, tx *sql.Tx, res engine.RemoteResource) error {
	for _, f := range c.schema.ReferenceFields() {
		v, ok := res[f.Name]
		if !ok {
			continue
		}
		for _, target := range referencedNames(v) {
			_, err := tx.ExecContext(ctx, `
				INSERT OR IGNORE INTO object_refs (object_id, field, target_type, target_name)
				VALUES (?, ?, ?, ?)
			`, res.ID(), f.Name, f.References, target)
			if err != nil {
				return fmt.Errorf("failed to index reference %s.%s: %w", c.schema.Type, f.Name, err)
			}
		}
	}
	return nil
}

// referrers lists the objects other than id that reference name.
func (c *objectClient) referrers(ctx context.Context, tx *sql.Tx, id, name string) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT DISTINCT o.resource_type, o.name
		FROM object_refs r
		JOIN objects o ON o.id = r.object_id
		WHERE r.target_type = ? AND r.target_name = ? AND r.object_id != ?
		ORDER BY o.resource_type, o.name
	`, c.schema.Type, name, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query references: %w", err)
	}
	defer rows.Close()

	var referrers []string
	for rows.Next() {
		var resourceType, refName string
		if err := rows.Scan(&resourceType, &refName); err != nil {
			return nil, fmt.Errorf("failed to scan reference: %w", err)
		}
		referrers = append(referrers, fmt.Sprintf("%s %q", resourceType, refName))
	}
	return referrers, rows.Err()
}

// decode parses a stored payload and drops write-only values.
func (c *objectClient) decode(payload string) (engine.RemoteResource, error) {
	var res engine.RemoteResource
	if err := json.Unmarshal([]byte(payload), &res); err != nil {
		return nil, fmt.Errorf("failed to decode %s payload: %w", c.schema.Type, err)
	}
	stripSecrets(res, c.schema)
	return res, nil
}

// ListObjects lists stored objects ordered by type, container and name.
// Payloads are returned as stored, secrets included.
func (s *SQLiteStore) ListObjects(ctx context.Context, filter ObjectFilter) ([]*Object, error) {
	query := `
		SELECT id, resource_type, container_field, container_value, name, payload, created_at, updated_at
		FROM objects
		WHERE 1 = 1
	`
	var args []interface{}
	if filter.ResourceType != "" {
		query += ` AND resource_type = ?`
		args = append(args, filter.ResourceType)
	}
	if !filter.Container.IsZero() {
		query += ` AND container_field = ? AND container_value = ?`
		args = append(args, filter.Container.Field, filter.Container.Value)
	}
	query += ` ORDER BY resource_type, container_field, container_value, name`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list objects: %w", err)
	}
	defer rows.Close()

	var objects []*Object
	for rows.Next() {
		o := &Object{}
		var payload string
		if err := rows.Scan(&o.ID, &o.ResourceType, &o.ContainerField, &o.ContainerValue,
			&o.Name, &payload, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan object: %w", err)
		}
		if err := json.Unmarshal([]byte(payload), &o.Payload); err != nil {
			return nil, fmt.Errorf("failed to decode object %s: %w", o.ID, err)
		}
		objects = append(objects, o)
	}

	return objects, rows.Err()
}

func referencedNames(v interface{}) []string {
	switch t := v.(type) {
	case string:
		if t == "" {
			return nil
		}
		return []string{t}
	case []string:
		return t
	case []interface{}:
		names := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok && s != "" {
				names = append(names, s)
			}
		}
		return names
	}
	return nil
}

func stripSecrets(obj map[string]interface{}, s *schema.ResourceSchema) {
	if s == nil {
		return
	}
	for _, f := range s.Fields {
		v, ok := obj[f.Name]
		if !ok {
			continue
		}
		switch f.Kind {
		case schema.KindSecret:
			delete(obj, f.Name)
		case schema.KindNested:
			if m, ok := v.(map[string]interface{}); ok {
				stripSecrets(m, f.Nested)
			}
		case schema.KindOrderedList, schema.KindSet:
			if list, ok := v.([]interface{}); ok && f.Nested != nil {
				for _, e := range list {
					if m, ok := e.(map[string]interface{}); ok {
						stripSecrets(m, f.Nested)
					}
				}
			}
		}
	}
}

func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.Code() == sqlitelib.SQLITE_CONSTRAINT_UNIQUE
}
