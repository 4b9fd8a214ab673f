package model

import "time"

// GCPlan records which unreferenced blobs a garbage collection run will
// delete. The plan is written to disk before anything is removed so the
// destructive step can be reviewed and re-validated.
type GCPlan struct {
	PlanID         string    `json:"plan_id"`
	CreatedAt      time.Time `json:"created_at"`
	ProtectedCount int       `json:"protected_count"`
	ToDelete       []string  `json:"to_delete"`
	EstimatedBytes int64     `json:"estimated_bytes"`
}

// GCResult summarizes an executed plan.
type GCResult struct {
	PlanID         string `json:"plan_id"`
	DeletedCount   int    `json:"deleted_count"`
	ReclaimedBytes int64  `json:"reclaimed_bytes"`
}
