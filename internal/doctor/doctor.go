// Package doctor runs read-only health checks over a vault and reports
// findings by severity. It never mutates anything it inspects.
package doctor

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pdm-project/pdm/internal/audit"
	"github.com/pdm-project/pdm/internal/history"
	"github.com/pdm-project/pdm/internal/repo"
	"github.com/pdm-project/pdm/internal/verify"
	"github.com/pdm-project/pdm/pkg/model"
)

// Finding represents one detected issue.
type Finding struct {
	Category    string `json:"category"`
	Description string `json:"description"`
	Severity    string `json:"severity"`
	Path        string `json:"path,omitempty"`
}

// Result contains the outcome of a doctor run. Healthy means no finding
// of severity error or critical.
type Result struct {
	Healthy  bool      `json:"healthy"`
	Findings []Finding `json:"findings"`
}

// Doctor performs vault health checks.
type Doctor struct {
	root string
	hist *history.Backend
}

// NewDoctor creates a doctor for the vault rooted at root.
func NewDoctor(root string) *Doctor {
	return &Doctor{root: root, hist: history.New(root)}
}

// Check runs all diagnostic checks. With strict, every revision and blob
// is hash-verified as well, which reads the whole object store.
func (d *Doctor) Check(strict bool) (*Result, error) {
	result := &Result{Healthy: true}

	d.checkFormatVersion(result)
	d.checkLockStore(result)
	d.checkRevisionChain(result)
	d.checkAuditChain(result)
	d.checkOrphanTmp(result)
	if strict {
		d.checkIntegrity(result)
	}

	for _, f := range result.Findings {
		if f.Severity == "error" || f.Severity == "critical" {
			result.Healthy = false
		}
	}
	return result, nil
}

func (d *Doctor) checkFormatVersion(result *Result) {
	path := filepath.Join(d.root, repo.PDMDirName, repo.FormatVersionFile)
	data, err := os.ReadFile(path)
	if err != nil {
		result.Findings = append(result.Findings, Finding{
			Category:    "format",
			Description: "format_version file missing or unreadable",
			Severity:    "critical",
			Path:        path,
		})
		return
	}

	var version int
	if _, err := fmt.Sscanf(string(data), "%d", &version); err != nil {
		result.Findings = append(result.Findings, Finding{
			Category:    "format",
			Description: fmt.Sprintf("format_version unparseable: %q", strings.TrimSpace(string(data))),
			Severity:    "critical",
			Path:        path,
		})
		return
	}
	if version > repo.FormatVersion {
		result.Findings = append(result.Findings, Finding{
			Category:    "format",
			Description: fmt.Sprintf("format version %d > supported %d", version, repo.FormatVersion),
			Severity:    "critical",
		})
	}
}

// checkLockStore parses locks.json directly. The running system fails open
// on a corrupt document; doctor is where that corruption becomes visible.
func (d *Doctor) checkLockStore(result *Result) {
	path := repo.LocksPath(d.root)
	data, err := os.ReadFile(path)
	if err != nil {
		result.Findings = append(result.Findings, Finding{
			Category:    "locks",
			Description: "lock store document missing or unreadable",
			Severity:    "warning",
			Path:        path,
		})
		return
	}

	var doc model.LockStoreDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		result.Findings = append(result.Findings, Finding{
			Category:    "locks",
			Description: fmt.Sprintf("lock store document is corrupt: %v (treated as empty at runtime)", err),
			Severity:    "warning",
			Path:        path,
		})
		return
	}

	for resource, rec := range doc {
		if _, err := os.Stat(repo.FilePath(d.root, resource)); os.IsNotExist(err) {
			result.Findings = append(result.Findings, Finding{
				Category:    "locks",
				Description: fmt.Sprintf("lock held by %s on missing file %s", rec.Owner, resource),
				Severity:    "warning",
			})
		}
	}
}

func (d *Doctor) checkRevisionChain(result *Result) {
	head, err := d.hist.Head()
	if err != nil || head == "" {
		result.Findings = append(result.Findings, Finding{
			Category:    "history",
			Description: "HEAD ref missing or unreadable",
			Severity:    "critical",
			Path:        repo.HeadPath(d.root),
		})
		return
	}

	if _, err := d.hist.History("", 0); err != nil {
		result.Findings = append(result.Findings, Finding{
			Category:    "history",
			Description: fmt.Sprintf("revision chain broken: %v", err),
			Severity:    "critical",
		})
	}
}

func (d *Doctor) checkAuditChain(result *Result) {
	appender := audit.NewFileAppender(repo.AuditPath(d.root))
	if err := appender.Verify(); err != nil {
		result.Findings = append(result.Findings, Finding{
			Category:    "audit",
			Description: err.Error(),
			Severity:    "error",
			Path:        repo.AuditPath(d.root),
		})
	}
}

func (d *Doctor) checkIntegrity(result *Result) {
	summary, err := verify.NewVerifier(d.root).VerifyAll(true, nil)
	if err != nil {
		result.Findings = append(result.Findings, Finding{
			Category:    "integrity",
			Description: fmt.Sprintf("verification failed: %v", err),
			Severity:    "error",
		})
		return
	}
	for _, r := range summary.Results {
		if r.TamperDetected {
			result.Findings = append(result.Findings, Finding{
				Category:    "integrity",
				Description: fmt.Sprintf("revision %s: %s", r.RevisionID.ShortID(), r.Error),
				Severity:    "critical",
			})
		}
	}
}

// checkOrphanTmp reports leftovers of interrupted atomic writes.
func (d *Doctor) checkOrphanTmp(result *Result) {
	filepath.Walk(d.root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if strings.HasPrefix(info.Name(), ".pdm-tmp-") {
			result.Findings = append(result.Findings, Finding{
				Category:    "tmp",
				Description: fmt.Sprintf("orphan temp file: %s", info.Name()),
				Severity:    "info",
				Path:        path,
			})
		}
		return nil
	})
}
