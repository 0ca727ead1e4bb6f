package history

import (
	"context"
	"fmt"
	"sort"
)

// SpecDrift is a spec whose status changed between two build versions
type SpecDrift struct {
	SpecID      string
	FromVersion string
	FromStatus  string
	ToVersion   string
	ToStatus    string
}

// RoleDrift is a role that resolved to a different artifact in a later build
type RoleDrift struct {
	Role        string
	FromVersion string
	FromPath    string
	ToVersion   string
	ToPath      string
}

// DriftReport lists what moved between the journaled build versions
type DriftReport struct {
	// Versions in the order they were first journaled
	Versions []string
	Specs    []SpecDrift
	Roles    []RoleDrift
}

// Empty reports whether nothing drifted
func (r *DriftReport) Empty() bool {
	return len(r.Specs) == 0 && len(r.Roles) == 0
}

// versionTable keeps the last value seen per key and build version
type versionTable struct {
	versions []string
	seen     map[string]bool
	values   map[string]map[string]string
}

func newVersionTable() *versionTable {
	return &versionTable{seen: make(map[string]bool), values: make(map[string]map[string]string)}
}

func (t *versionTable) set(version, key, value string) {
	if !t.seen[version] {
		t.seen[version] = true
		t.versions = append(t.versions, version)
	}
	if t.values[key] == nil {
		t.values[key] = make(map[string]string)
	}
	t.values[key][version] = value
}

// changes calls fn for each key whose value differs between consecutive
// versions that recorded it
func (t *versionTable) changes(fn func(key, fromVersion, from, toVersion, to string)) {
	keys := make([]string, 0, len(t.values))
	for k := range t.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		byVersion := t.values[k]
		prevVersion, prev, started := "", "", false
		for _, v := range t.versions {
			val, ok := byVersion[v]
			if !ok {
				continue
			}
			if started && val != prev {
				fn(k, prevVersion, prev, v, val)
			}
			prevVersion, prev, started = v, val, true
		}
	}
}

// Drift compares the last journaled session of each build version with the
// previous version and reports the specs and roles that changed
func (j *Journal) Drift(ctx context.Context) (*DriftReport, error) {
	specs := newVersionTable()
	rows, err := j.db.QueryContext(ctx, `
		SELECT s.version, o.spec_id, o.status
		FROM spec_outcomes o JOIN sessions s ON s.id = o.session_id
		ORDER BY s.started_at, s.id, o.rowid`)
	if err != nil {
		return nil, fmt.Errorf("failed to query spec history: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var version, spec, status string
		if err := rows.Scan(&version, &spec, &status); err != nil {
			return nil, fmt.Errorf("failed to scan spec history: %w", err)
		}
		specs.set(version, spec, status)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating spec history: %w", err)
	}

	roles := newVersionTable()
	roleRows, err := j.db.QueryContext(ctx, `
		SELECT s.version, b.role, b.path
		FROM role_bindings b JOIN sessions s ON s.id = b.session_id
		ORDER BY s.started_at, s.id, b.role`)
	if err != nil {
		return nil, fmt.Errorf("failed to query role history: %w", err)
	}
	defer roleRows.Close()
	for roleRows.Next() {
		var version, role, path string
		if err := roleRows.Scan(&version, &role, &path); err != nil {
			return nil, fmt.Errorf("failed to scan role history: %w", err)
		}
		roles.set(version, role, path)
	}
	if err := roleRows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating role history: %w", err)
	}

	report := &DriftReport{Versions: specs.versions}
	if len(roles.versions) > len(report.Versions) {
		report.Versions = roles.versions
	}
	specs.changes(func(key, fromVersion, from, toVersion, to string) {
		report.Specs = append(report.Specs, SpecDrift{SpecID: key, FromVersion: fromVersion, FromStatus: from, ToVersion: toVersion, ToStatus: to})
	})
	roles.changes(func(key, fromVersion, from, toVersion, to string) {
		report.Roles = append(report.Roles, RoleDrift{Role: key, FromVersion: fromVersion, FromPath: from, ToVersion: toVersion, ToPath: to})
	})
	return report, nil
}
