// Package gc reclaims object storage. Blobs are content-addressed and
// shared between revisions, so a blob is garbage only when no revision
// reachable from head references it. Collection is two-phase: Plan writes
// the candidate list to disk, Run re-validates it and deletes.
package gc

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/pdm-project/pdm/internal/audit"
	"github.com/pdm-project/pdm/internal/history"
	"github.com/pdm-project/pdm/internal/repo"
	"github.com/pdm-project/pdm/pkg/fsutil"
	"github.com/pdm-project/pdm/pkg/logging"
	"github.com/pdm-project/pdm/pkg/model"
)

// Collector plans and runs blob garbage collection for one vault.
type Collector struct {
	root     string
	hist     *history.Backend
	auditLog *audit.FileAppender
	logger   *logging.Logger
}

// NewCollector creates a collector for the vault rooted at root.
func NewCollector(root string) *Collector {
	return &Collector{
		root:     root,
		hist:     history.New(root),
		auditLog: audit.NewFileAppender(repo.AuditPath(root)),
		logger:   logging.WithFields(map[string]any{"component": "gc"}),
	}
}

// Plan computes the set of unreferenced blobs and persists it as a plan.
// Nothing is deleted; the returned plan's ID is the handle Run expects.
func (c *Collector) Plan() (*model.GCPlan, error) {
	protected, err := c.protectedSet()
	if err != nil {
		return nil, fmt.Errorf("compute protected set: %w", err)
	}

	entries, err := os.ReadDir(repo.ObjectsDir(c.root))
	if err != nil {
		return nil, fmt.Errorf("list objects: %w", err)
	}

	var toDelete []string
	var estimated int64
	for _, entry := range entries {
		if entry.IsDir() || protected[entry.Name()] {
			continue
		}
		toDelete = append(toDelete, entry.Name())
		if info, err := entry.Info(); err == nil {
			estimated += info.Size()
		}
	}
	sort.Strings(toDelete)

	plan := &model.GCPlan{
		PlanID:         uuid.NewString(),
		CreatedAt:      time.Now().UTC(),
		ProtectedCount: len(protected),
		ToDelete:       toDelete,
		EstimatedBytes: estimated,
	}
	if err := c.writePlan(plan); err != nil {
		return nil, fmt.Errorf("write plan: %w", err)
	}

	c.logger.Info("gc plan created", map[string]any{
		"plan_id": plan.PlanID, "candidates": len(toDelete), "bytes": estimated})
	return plan, nil
}

// Run executes a previously written plan. The protected set is recomputed
// first: a blob that became referenced since Plan aborts the run, because
// the plan no longer describes reality.
func (c *Collector) Run(planID string) (*model.GCResult, error) {
	plan, err := c.loadPlan(planID)
	if err != nil {
		return nil, fmt.Errorf("load plan: %w", err)
	}

	protected, err := c.protectedSet()
	if err != nil {
		return nil, fmt.Errorf("revalidate protected set: %w", err)
	}
	for _, hash := range plan.ToDelete {
		if protected[hash] {
			return nil, fmt.Errorf("plan %s is stale: blob %s is now referenced", planID, hash[:8])
		}
	}

	result := &model.GCResult{PlanID: planID}
	for _, hash := range plan.ToDelete {
		path := filepath.Join(repo.ObjectsDir(c.root), hash)
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if err := os.Remove(path); err != nil {
			c.logger.Warn("failed to delete blob", map[string]any{"blob": hash[:8], "error": err.Error()})
			continue
		}
		result.DeletedCount++
		result.ReclaimedBytes += info.Size()
	}

	os.Remove(c.planPath(planID))

	if err := c.auditLog.Append(model.EventTypeGCRun, "", history.InitAuthor, "", map[string]any{
		"plan_id":         planID,
		"deleted_count":   result.DeletedCount,
		"reclaimed_bytes": result.ReclaimedBytes,
	}); err != nil {
		c.logger.ErrorErr("failed to append gc audit record", err)
	}

	c.logger.Info("gc run complete", map[string]any{
		"plan_id": planID, "deleted": result.DeletedCount, "bytes": result.ReclaimedBytes})
	return result, nil
}

// protectedSet returns every blob hash referenced by any revision reachable
// from head. Walking fails on a corrupt chain rather than treating its
// blobs as garbage.
func (c *Collector) protectedSet() (map[string]bool, error) {
	revs, err := c.hist.History("", 0)
	if err != nil {
		return nil, err
	}
	protected := map[string]bool{}
	for _, rev := range revs {
		for _, hash := range rev.Manifest {
			protected[hash] = true
		}
	}
	return protected, nil
}

func (c *Collector) planPath(planID string) string {
	return filepath.Join(c.root, repo.PDMDirName, "gc", planID+".json")
}

func (c *Collector) writePlan(plan *model.GCPlan) error {
	path := c.planPath(plan.PlanID)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(plan, "", "  ")
	if err != nil {
		return err
	}
	return fsutil.AtomicWrite(path, data, 0644)
}

func (c *Collector) loadPlan(planID string) (*model.GCPlan, error) {
	data, err := os.ReadFile(c.planPath(planID))
	if err != nil {
		return nil, err
	}
	var plan model.GCPlan
	if err := json.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("parse plan %s: %w", planID, err)
	}
	return &plan, nil
}
