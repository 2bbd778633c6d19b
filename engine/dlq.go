package engine

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/corewf/flowengine/engine/store"
)

// AddDLQ quarantines a node that exhausted its retry budget (spec.md
// §4.8), indexing the entry by workflow, by node type, and in the global
// set.
func (c *Cache) AddDLQ(ctx context.Context, entry *DLQEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.AddedAt.IsZero() {
		entry.AddedAt = time.Now()
	}
	if entry.LastErrorAt.IsZero() {
		entry.LastErrorAt = entry.AddedAt
	}
	b, err := json.Marshal(entry)
	if err != nil {
		return newError(KindInvalidWorkflow, "failed to marshal dlq entry", err)
	}
	if err := c.st.Set(ctx, keyDLQEntry(entry.ID), b, 0); err != nil {
		return err
	}
	if err := c.st.SAdd(ctx, keyDLQByWorkflow(entry.WorkflowID), entry.ID); err != nil {
		return err
	}
	if err := c.st.SAdd(ctx, keyDLQByNodeType(entry.NodeType), entry.ID); err != nil {
		return err
	}
	return c.st.SAdd(ctx, keyDLQAll(), entry.ID)
}

// GetDLQ returns the DLQ entry with the given id, or ErrNotFound.
func (c *Cache) GetDLQ(ctx context.Context, id string) (*DLQEntry, error) {
	b, err := c.st.Get(ctx, keyDLQEntry(id))
	if err == store.ErrNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var e DLQEntry
	if err := json.Unmarshal(b, &e); err != nil {
		return nil, newError(KindInvalidWorkflow, "failed to unmarshal dlq entry", err)
	}
	return &e, nil
}

// ListDLQ returns every entry currently in the DLQ.
func (c *Cache) ListDLQ(ctx context.Context) ([]*DLQEntry, error) {
	ids, err := c.st.SMembers(ctx, keyDLQAll())
	if err != nil {
		return nil, err
	}
	return c.loadDLQEntries(ctx, ids)
}

// ListDLQByNodeType returns every DLQ entry for the given node type.
func (c *Cache) ListDLQByNodeType(ctx context.Context, nodeType string) ([]*DLQEntry, error) {
	ids, err := c.st.SMembers(ctx, keyDLQByNodeType(nodeType))
	if err != nil {
		return nil, err
	}
	return c.loadDLQEntries(ctx, ids)
}

// ListDLQByWorkflow returns every DLQ entry quarantined from a run of
// workflowID.
func (c *Cache) ListDLQByWorkflow(ctx context.Context, workflowID string) ([]*DLQEntry, error) {
	ids, err := c.st.SMembers(ctx, keyDLQByWorkflow(workflowID))
	if err != nil {
		return nil, err
	}
	return c.loadDLQEntries(ctx, ids)
}

// ListDLQFiltered returns DLQ entries matching the given filters: an empty
// workflowID or nodeType skips that filter; when both are set, the result
// is their intersection. limit caps the result size (oldest first) when
// > 0.
func (c *Cache) ListDLQFiltered(ctx context.Context, workflowID, nodeType string, limit int) ([]*DLQEntry, error) {
	var entries []*DLQEntry
	var err error
	switch {
	case workflowID != "" && nodeType != "":
		byWorkflow, e1 := c.ListDLQByWorkflow(ctx, workflowID)
		if e1 != nil {
			return nil, e1
		}
		entries = filterByNodeType(byWorkflow, nodeType)
	case workflowID != "":
		entries, err = c.ListDLQByWorkflow(ctx, workflowID)
	case nodeType != "":
		entries, err = c.ListDLQByNodeType(ctx, nodeType)
	default:
		entries, err = c.ListDLQ(ctx)
	}
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].AddedAt.Before(entries[j].AddedAt) })
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func filterByNodeType(entries []*DLQEntry, nodeType string) []*DLQEntry {
	out := make([]*DLQEntry, 0, len(entries))
	for _, e := range entries {
		if e.NodeType == nodeType {
			out = append(out, e)
		}
	}
	return out
}

func (c *Cache) loadDLQEntries(ctx context.Context, ids []string) ([]*DLQEntry, error) {
	out := make([]*DLQEntry, 0, len(ids))
	for _, id := range ids {
		e, err := c.GetDLQ(ctx, id)
		if err == ErrNotFound {
			continue // index drifted from a concurrent RemoveDLQ; skip rather than fail
		}
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// RemoveDLQ deletes the DLQ entry with the given id from the primary
// record and every reverse index.
func (c *Cache) RemoveDLQ(ctx context.Context, id string) error {
	e, err := c.GetDLQ(ctx, id)
	if err == ErrNotFound {
		return nil
	}
	if err != nil {
		return err
	}
	if err := c.st.Delete(ctx, keyDLQEntry(id)); err != nil {
		return err
	}
	if err := c.st.SRem(ctx, keyDLQByWorkflow(e.WorkflowID), id); err != nil {
		return err
	}
	if err := c.st.SRem(ctx, keyDLQByNodeType(e.NodeType), id); err != nil {
		return err
	}
	return c.st.SRem(ctx, keyDLQAll(), id)
}

// PurgeDLQFiltered removes DLQ entries matching the given filters
// (workflowID, nodeType — both optional, same semantics as
// ListDLQFiltered) and, when olderThan > 0, only entries whose LastErrorAt
// is older than that duration. It returns the number of entries removed.
func (c *Cache) PurgeDLQFiltered(ctx context.Context, workflowID, nodeType string, olderThan time.Duration) (int, error) {
	entries, err := c.ListDLQFiltered(ctx, workflowID, nodeType, 0)
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().Add(-olderThan)
	removed := 0
	for _, e := range entries {
		if olderThan > 0 && e.LastErrorAt.After(cutoff) {
			continue
		}
		if err := c.RemoveDLQ(ctx, e.ID); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// DLQStats summarizes the current DLQ contents.
type DLQStats struct {
	Total        int
	ByNodeType   map[string]int
}

// StatsDLQ returns counts of DLQ entries, overall and by node type.
func (c *Cache) StatsDLQ(ctx context.Context) (*DLQStats, error) {
	entries, err := c.ListDLQ(ctx)
	if err != nil {
		return nil, err
	}
	stats := &DLQStats{ByNodeType: make(map[string]int)}
	for _, e := range entries {
		stats.Total++
		stats.ByNodeType[e.NodeType]++
	}
	return stats, nil
}
