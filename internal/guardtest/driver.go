package guardtest

import (
	"context"
	"errors"
	"testing"

	"s3verify/internal/config"
	"s3verify/internal/metastore"
)

// TestConfiguration returns the derived configuration, skipping the test
// when the metadata store is not DynamoDB and failing it when the test
// table cannot be isolated.
func TestConfiguration(t testing.TB, base *config.Configuration) *config.Configuration {
	t.Helper()

	conf, err := PrepareTestConfiguration(base)
	switch {
	case err == nil:
		return conf
	case errors.Is(err, ErrNotDynamoMetadataStore):
		t.Skip(err)
	default:
		t.Fatal(err)
	}
	return nil
}

// OpenTestTable derives the test configuration, opens its table through p
// and destroys the table when the test ends.
func OpenTestTable(t testing.TB, base *config.Configuration, p *metastore.Provisioner) (*config.Configuration, *metastore.Table) {
	t.Helper()

	conf := TestConfiguration(t, base)

	table, err := p.Open(context.Background(), conf)
	if err != nil {
		t.Fatalf("open metadata table: %v", err)
	}
	t.Cleanup(func() {
		if err := p.Destroy(context.Background(), conf); err != nil {
			t.Errorf("destroy metadata table %s: %v", table.Name, err)
		}
	})
	return conf, table
}
