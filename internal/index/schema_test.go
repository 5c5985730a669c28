package index

import (
	"strings"
	"testing"
)

func TestSQLiteIndex_Schema(t *testing.T) {
	idx, _ := newTestIndex(t)

	schema, err := idx.Schema()
	if err != nil {
		t.Fatalf("Schema() error = %v", err)
	}

	for _, want := range []string{
		"CREATE TABLE reports",
		"CREATE TABLE operations",
		"CREATE INDEX idx_reports_url_preset_date",
	} {
		if !strings.Contains(schema, want) {
			t.Errorf("schema missing %q", want)
		}
	}
	if strings.Contains(schema, "schema_migrations") {
		t.Error("schema includes the migration table")
	}
	if strings.Index(schema, "CREATE TABLE operations") > strings.Index(schema, "CREATE INDEX") {
		t.Error("tables should come before indexes")
	}
}
