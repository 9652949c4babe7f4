package syncengine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/storesync/client/internal/models"
)

func position(t *testing.T, tables []Table, name string) int {
	t.Helper()
	for i, tbl := range tables {
		if tbl.Name == name {
			return i
		}
	}
	t.Fatalf("table %s missing from order", name)
	return -1
}

func TestOrder(t *testing.T) {
	t.Run("parents precede children", func(t *testing.T) {
		ordered := Order(DefaultTables, zap.NewNop())
		require.Len(t, ordered, len(DefaultTables))

		for _, tbl := range DefaultTables {
			for _, dep := range tbl.DependsOn {
				assert.Less(t, position(t, ordered, dep), position(t, ordered, tbl.Name),
					"%s must come before %s", dep, tbl.Name)
			}
		}
	})

	t.Run("unknown dependency edge ignored", func(t *testing.T) {
		tables := []Table{
			{Name: "a", DependsOn: []string{"missing"}},
			{Name: "b", DependsOn: []string{"a"}},
		}
		ordered := Order(tables, zap.NewNop())
		require.Len(t, ordered, 2)
		assert.Equal(t, "a", ordered[0].Name)
		assert.Equal(t, "b", ordered[1].Name)
	})

	t.Run("cycle falls back to declaration order", func(t *testing.T) {
		tables := []Table{
			{Name: "x", DependsOn: []string{"y"}},
			{Name: "y", DependsOn: []string{"x"}},
			{Name: "z"},
		}
		ordered := Order(tables, zap.NewNop())
		require.Len(t, ordered, 3)
		assert.Equal(t, "z", ordered[0].Name)
		assert.Equal(t, "x", ordered[1].Name)
		assert.Equal(t, "y", ordered[2].Name)
	})
}

func TestOrderRecords(t *testing.T) {
	indexOf := func(records []models.Record, id string) int {
		for i, r := range records {
			if r.ID() == id {
				return i
			}
		}
		return -1
	}

	t.Run("shuffled three-level hierarchy sorts parent first", func(t *testing.T) {
		// Grandchildren first, root last.
		batch := []models.Record{
			{"id": "gc1", "parent_id": "c1"},
			{"id": "gc2", "parent_id": "c2"},
			{"id": "c2", "parent_id": "root"},
			{"id": "gc3", "parent_id": "c1"},
			{"id": "c1", "parent_id": "root"},
			{"id": "root"},
		}

		ordered := orderRecords(batch, "parent_id")
		require.Len(t, ordered, len(batch))

		for _, r := range ordered {
			parent, ok := r["parent_id"].(string)
			if !ok || parent == "" {
				continue
			}
			assert.Less(t, indexOf(ordered, parent), indexOf(ordered, r.ID()),
				"parent %s must precede %s", parent, r.ID())
		}
	})

	t.Run("parent outside the batch is left alone", func(t *testing.T) {
		batch := []models.Record{
			{"id": "a", "parent_id": "elsewhere"},
			{"id": "b", "parent_id": "a"},
		}
		ordered := orderRecords(batch, "parent_id")
		require.Len(t, ordered, 2)
		assert.Equal(t, "a", ordered[0].ID())
		assert.Equal(t, "b", ordered[1].ID())
	})

	t.Run("parent cycle terminates with all records kept", func(t *testing.T) {
		batch := []models.Record{
			{"id": "a", "parent_id": "b"},
			{"id": "b", "parent_id": "a"},
			{"id": "c"},
		}
		ordered := orderRecords(batch, "parent_id")
		require.Len(t, ordered, 3)
		assert.ElementsMatch(t,
			[]string{"a", "b", "c"},
			[]string{ordered[0].ID(), ordered[1].ID(), ordered[2].ID()})
	})

	t.Run("no self reference column is a no-op", func(t *testing.T) {
		batch := []models.Record{{"id": "b"}, {"id": "a"}}
		assert.Equal(t, batch, orderRecords(batch, ""))
	})
}
