package syncengine

import (
	"go.uber.org/zap"

	"github.com/storesync/client/internal/models"
)

// Table describes one synchronized table and its foreign-key parents.
// SelfRefColumn names a nullable column referencing the table itself,
// which forces parent-first ordering inside a download batch.
type Table struct {
	Name          string
	DependsOn     []string
	SelfRefColumn string
}

// DefaultTables lists the synchronized tables. Order here is
// insignificant; the engine derives the execution order from the
// dependency edges.
var DefaultTables = []Table{
	{Name: "roles"},
	{Name: "users", DependsOn: []string{"roles"}},
	{Name: "categories", SelfRefColumn: "parent_id"},
	{Name: "products", DependsOn: []string{"categories"}},
	{Name: "customers"},
	{Name: "orders", DependsOn: []string{"users", "customers"}},
	{Name: "order_items", DependsOn: []string{"orders", "products"}},
}

// Order topologically sorts tables so every parent precedes its
// children. A dependency cycle is logged and the offending edge
// skipped rather than failing the whole sync.
func Order(tables []Table, log *zap.Logger) []Table {
	byName := make(map[string]Table, len(tables))
	indegree := make(map[string]int, len(tables))
	dependents := make(map[string][]string, len(tables))

	for _, t := range tables {
		byName[t.Name] = t
		indegree[t.Name] = 0
	}
	for _, t := range tables {
		for _, dep := range t.DependsOn {
			if _, ok := byName[dep]; !ok {
				log.Warn("table depends on unknown table, edge ignored",
					zap.String("table", t.Name), zap.String("depends_on", dep))
				continue
			}
			indegree[t.Name]++
			dependents[dep] = append(dependents[dep], t.Name)
		}
	}

	// Seed the queue in declaration order for deterministic output.
	var queue []string
	for _, t := range tables {
		if indegree[t.Name] == 0 {
			queue = append(queue, t.Name)
		}
	}

	ordered := make([]Table, 0, len(tables))
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		ordered = append(ordered, byName[name])
		for _, child := range dependents[name] {
			indegree[child]--
			if indegree[child] == 0 {
				queue = append(queue, child)
			}
		}
	}

	if len(ordered) < len(tables) {
		// Remaining tables form one or more cycles. Append them in
		// declaration order; the deferred insert pass absorbs the
		// resulting constraint violations.
		for _, t := range tables {
			if indegree[t.Name] > 0 {
				log.Warn("dependency cycle detected, syncing in declaration order",
					zap.String("table", t.Name))
				ordered = append(ordered, t)
			}
		}
	}
	return ordered
}

// orderRecords sorts a self-referencing table's records parent-first so
// the primary insert pass succeeds without relying on the deferred
// pass. Records whose parent is outside the batch keep their position.
func orderRecords(records []models.Record, selfRefColumn string) []models.Record {
	if selfRefColumn == "" || len(records) < 2 {
		return records
	}

	inBatch := make(map[string]bool, len(records))
	for _, r := range records {
		inBatch[r.ID()] = true
	}

	visited := make(map[string]bool, len(records))
	byID := make(map[string]models.Record, len(records))
	for _, r := range records {
		byID[r.ID()] = r
	}

	ordered := make([]models.Record, 0, len(records))
	var visit func(r models.Record)
	visit = func(r models.Record) {
		id := r.ID()
		if visited[id] {
			return
		}
		visited[id] = true
		if parent, ok := r[selfRefColumn].(string); ok && parent != "" && inBatch[parent] {
			visit(byID[parent])
		}
		ordered = append(ordered, r)
	}
	for _, r := range records {
		visit(r)
	}
	return ordered
}
