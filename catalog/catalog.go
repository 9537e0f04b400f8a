// Package catalog persists decoded fragment maps in SQLite so large
// aggregations don't have to be decoded from their metadata files again
package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	cfa "github.com/qri-io/cfa-go"
	_ "modernc.org/sqlite"
)

// ErrNotFound means the catalog holds no variable by that name
var ErrNotFound = errors.New("variable not in catalog")

const schema = `
CREATE TABLE IF NOT EXISTS variables (
	name  TEXT PRIMARY KEY,
	dims  TEXT NOT NULL,
	shape TEXT NOT NULL,
	dtype TEXT NOT NULL,
	units TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS fragments (
	variable      TEXT NOT NULL REFERENCES variables(name) ON DELETE CASCADE,
	position      TEXT NOT NULL,
	shape         TEXT NOT NULL,
	global_extent TEXT NOT NULL,
	extent        TEXT NOT NULL,
	location      TEXT NOT NULL,
	address       TEXT NOT NULL,
	format        TEXT NOT NULL,
	fill          REAL,
	PRIMARY KEY (variable, position)
);`

// Entry describes a cataloged variable
type Entry struct {
	Name  string
	Dims  []string
	Shape []int
	Dtype cfa.Dtype
	Units string
	// Fragments is the number of fragments
	Fragments int
}

// Catalog is a SQLite database of fragment maps. It is also a
// cfa.MetadataSource, so cataloged variables open like any other dataset.
type Catalog struct {
	db   *sql.DB
	path string
}

var _ cfa.MetadataSource = (*Catalog)(nil)

// Open opens or creates the catalog at path
func Open(path string) (*Catalog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open catalog %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create catalog schema: %w", err)
	}
	return &Catalog{db: db, path: path}, nil
}

// Save stores a fragment map under name, replacing any previous entry.
// Maps mixing constant and stored fragments can't be described by one set
// of fragment array variables and are rejected.
func (c *Catalog) Save(ctx context.Context, name string, dtype cfa.Dtype, units string, m *cfa.FragmentMap) error {
	constants := 0
	for _, f := range m.Fragments() {
		if f.Constant() {
			constants++
		}
	}
	if constants != 0 && constants != m.Len() {
		return fmt.Errorf("%w: %q mixes constant and stored fragments", cfa.ErrUnsupported, name)
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM fragments WHERE variable = ?", name); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM variables WHERE name = ?", name); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		"INSERT INTO variables (name, dims, shape, dtype, units) VALUES (?, ?, ?, ?, ?)",
		name, mustJSON(m.Dims()), mustJSON(m.Shape()), dtype.String(), units)
	if err != nil {
		return fmt.Errorf("save %q: %w", name, err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO fragments
		(variable, position, shape, global_extent, extent, location, address, format, fill)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, f := range m.Fragments() {
		var fill sql.NullFloat64
		if f.Constant() {
			fill = sql.NullFloat64{Float64: *f.FillValue, Valid: true}
		}
		loc := f.Location
		if loc == nil {
			loc = []string{}
		}
		_, err := stmt.ExecContext(ctx, name, mustJSON(f.Position), mustJSON(f.Shape),
			mustJSON(f.GlobalExtent), mustJSON(f.Extent), mustJSON(loc), f.Address, f.Format, fill)
		if err != nil {
			return fmt.Errorf("save %q fragment %s: %w", name, f.Position, err)
		}
	}
	return tx.Commit()
}

func mustJSON(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(data)
}

func (c *Catalog) entry(ctx context.Context, name string) (*Entry, error) {
	var dims, shape, dtype string
	e := &Entry{Name: name}
	err := c.db.QueryRowContext(ctx,
		"SELECT dims, shape, dtype, units, (SELECT count(*) FROM fragments WHERE variable = variables.name) FROM variables WHERE name = ?",
		name).Scan(&dims, &shape, &dtype, &e.Units, &e.Fragments)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	} else if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(dims), &e.Dims); err != nil {
		return nil, fmt.Errorf("variable %q dims: %w", name, err)
	}
	if err := json.Unmarshal([]byte(shape), &e.Shape); err != nil {
		return nil, fmt.Errorf("variable %q shape: %w", name, err)
	}
	if e.Dtype, err = cfa.ParseDtype(dtype); err != nil {
		return nil, fmt.Errorf("variable %q: %w", name, err)
	}
	return e, nil
}

// Load rebuilds a saved fragment map. Tiling is checked again.
func (c *Catalog) Load(ctx context.Context, name string) (*cfa.FragmentMap, *Entry, error) {
	e, err := c.entry(ctx, name)
	if err != nil {
		return nil, nil, err
	}
	rows, err := c.db.QueryContext(ctx,
		"SELECT position, shape, global_extent, extent, location, address, format, fill FROM fragments WHERE variable = ?",
		name)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var frags []*cfa.Fragment
	for rows.Next() {
		var (
			pos, shape, global, extent, loc string
			fill                            sql.NullFloat64
			f                               = &cfa.Fragment{}
		)
		if err := rows.Scan(&pos, &shape, &global, &extent, &loc, &f.Address, &f.Format, &fill); err != nil {
			return nil, nil, err
		}
		for _, field := range []struct {
			raw string
			dst interface{}
		}{
			{pos, &f.Position}, {shape, &f.Shape}, {global, &f.GlobalExtent}, {extent, &f.Extent}, {loc, &f.Location},
		} {
			if err := json.Unmarshal([]byte(field.raw), field.dst); err != nil {
				return nil, nil, fmt.Errorf("variable %q fragment %s: %w", name, pos, err)
			}
		}
		if len(f.Location) == 0 {
			f.Location = nil
		}
		if fill.Valid {
			v := fill.Float64
			f.FillValue = &v
		}
		frags = append(frags, f)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	m, err := cfa.NewFragmentMap(e.Shape, e.Dims, frags)
	if err != nil {
		return nil, nil, fmt.Errorf("variable %q: %w", name, err)
	}
	return m, e, nil
}

// List describes every cataloged variable, sorted by name
func (c *Catalog) List(ctx context.Context) ([]Entry, error) {
	rows, err := c.db.QueryContext(ctx, "SELECT name FROM variables ORDER BY name")
	if err != nil {
		return nil, err
	}
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			rows.Close()
			return nil, err
		}
		names = append(names, n)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(names))
	for _, n := range names {
		e, err := c.entry(ctx, n)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, nil
}

// Delete removes a variable and its fragments
func (c *Catalog) Delete(ctx context.Context, name string) error {
	res, err := c.db.ExecContext(ctx, "DELETE FROM variables WHERE name = ?", name)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return nil
}

// Conventions reports the scheme the catalog's fragment arrays follow
func (c *Catalog) Conventions() string { return cfa.CF112.String() }

func (c *Catalog) Attributes() map[string]interface{} {
	return map[string]interface{}{"Conventions": c.Conventions(), "source": c.path}
}

func (c *Catalog) Variables() []string {
	entries, err := c.List(context.Background())
	if err != nil {
		return nil
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name
	}
	sort.Strings(names)
	return names
}

// Variable describes a cataloged variable with fragment arrays equivalent
// to the saved map
func (c *Catalog) Variable(name string) (*cfa.VariableMeta, error) {
	m, e, err := c.Load(context.Background(), name)
	if err != nil {
		return nil, err
	}
	return &cfa.VariableMeta{
		Name:       name,
		Shape:      e.Shape,
		Dims:       e.Dims,
		Dtype:      e.Dtype,
		Units:      e.Units,
		Attributes: map[string]interface{}{"units": e.Units},
		Fragments:  fragmentArrays(m),
	}, nil
}

func fragmentArrays(m *cfa.FragmentMap) *cfa.FragmentArrays {
	frags := m.Fragments()
	a := &cfa.FragmentArrays{Shape: cfa.ShapeTable{Rows: m.Sizes()}}
	if len(frags) > 0 && frags[0].Constant() {
		vals := make([]float64, len(frags))
		for i, f := range frags {
			vals[i] = *f.FillValue
		}
		a.Value = cfa.Varying(m.Space(), vals)
		return a
	}

	locs := make([][]string, len(frags))
	addrs := make([]string, len(frags))
	formats := make([]string, len(frags))
	for i, f := range frags {
		locs[i], addrs[i], formats[i] = f.Location, f.Address, f.Format
	}
	a.Location = cfa.Varying(m.Space(), locs)
	a.Address = cfa.Varying(m.Space(), addrs)
	a.Format = cfa.Varying(m.Space(), formats)
	return a
}

func (c *Catalog) Close() error {
	return c.db.Close()
}
