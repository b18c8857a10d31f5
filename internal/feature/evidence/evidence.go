// Package evidence implements the evidence-chain lazy feature: an
// immutable requirement record with up to three optional phases
// (analysis, implementation, validation), each carrying agent/task IDs
// and upstream/downstream/verification links to other phases (a link is
// stored once and listed only under the phase that recorded it, not under
// its target), plus a chain-status summary of coverage and verification
// counts. This is an audit/traceability record of requirements, not a
// command-history log.
package evidence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	_ "modernc.org/sqlite"

	"github.com/browserd/browserd/internal/registry"
)

// Name is the feature name the evidence chain is registered under.
const Name = "evidence"

var commands = []string{"recordEvidence", "getEvidenceChain", "getChainStatus"}

var validPhases = map[string]bool{"analysis": true, "implementation": true, "validation": true}
var validLinkTypes = map[string]bool{"upstream": true, "downstream": true, "verification": true}

const schema = `
CREATE TABLE IF NOT EXISTS requirements (
	id TEXT PRIMARY KEY,
	description TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS phases (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	requirement_id TEXT NOT NULL REFERENCES requirements(id),
	phase TEXT NOT NULL,
	agent_id TEXT NOT NULL DEFAULT '',
	task_id TEXT NOT NULL DEFAULT '',
	content TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS phase_links (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	phase_id INTEGER NOT NULL REFERENCES phases(id),
	link_type TEXT NOT NULL,
	target_phase_id INTEGER NOT NULL REFERENCES phases(id),
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_phases_requirement ON phases(requirement_id);
CREATE INDEX IF NOT EXISTS idx_links_phase ON phase_links(phase_id);
`

// Phase is one analysis/implementation/validation record against a
// requirement.
type Phase struct {
	ID        int64  `json:"id"`
	Phase     string `json:"phase"`
	AgentID   string `json:"agentId"`
	TaskID    string `json:"taskId"`
	Content   string `json:"content"`
	CreatedAt int64  `json:"createdAt"`
	Links     []Link `json:"links"`
}

// Link is one directed reference from the phase that recorded it to
// another phase. It appears only in the recording phase's Links; the
// target phase's Links do not include it.
type Link struct {
	LinkType      string `json:"linkType"`
	TargetPhaseID int64  `json:"targetPhaseId"`
}

// ChainStatus summarizes coverage for one requirement's evidence chain.
type ChainStatus struct {
	RequirementID     string  `json:"requirementId"`
	CoveragePercent   float64 `json:"coveragePercent"`
	PhasesPresent     int     `json:"phasesPresent"`
	VerificationLinks int     `json:"verificationLinks"`
}

// Feature persists and serves the evidence chain for one instance.
type Feature struct {
	db *sql.DB
}

// New opens (creating if absent) the SQLite-backed evidence database at
// dbPath. Returns a registry.Constructor-shaped closure bound to dbPath so
// the registry's lazy-entry Constructor signature (page-only) is
// satisfied without the feature needing a browser page at all.
func New(dbPath string) registry.Constructor {
	return func(page *rod.Page) (registry.Feature, error) {
		db, err := sql.Open("sqlite", dbPath)
		if err != nil {
			return nil, fmt.Errorf("open evidence database: %w", err)
		}
		if _, err := db.Exec(schema); err != nil {
			db.Close()
			return nil, fmt.Errorf("initialize evidence schema: %w", err)
		}
		return &Feature{db: db}, nil
	}
}

// Cleanup closes the database handle. Matches registry.Cleanupable.
func (f *Feature) Cleanup(ctx context.Context) error {
	return f.db.Close()
}

// Commands satisfies registry.Feature.
func (f *Feature) Commands() []string { return commands }

// Handler satisfies registry.Feature.
func (f *Feature) Handler(cmd string) (registry.Handler, bool) {
	switch cmd {
	case "recordEvidence":
		return f.handleRecordEvidence, true
	case "getEvidenceChain":
		return f.handleGetChain, true
	case "getChainStatus":
		return f.handleGetStatus, true
	default:
		return nil, false
	}
}

func (f *Feature) handleRecordEvidence(ctx context.Context, args map[string]any) (any, error) {
	requirementID, _ := args["requirementId"].(string)
	phaseName, _ := args["phase"].(string)
	if requirementID == "" {
		return nil, fmt.Errorf("recordEvidence requires requirementId")
	}
	if !validPhases[phaseName] {
		return nil, fmt.Errorf("recordEvidence: invalid phase %q", phaseName)
	}
	description, _ := args["description"].(string)
	agentID, _ := args["agentId"].(string)
	taskID, _ := args["taskId"].(string)
	content, _ := args["content"].(string)

	now := time.Now().UnixMilli()
	tx, err := f.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO requirements (id, description, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		requirementID, description, now); err != nil {
		return nil, fmt.Errorf("upsert requirement: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO phases (requirement_id, phase, agent_id, task_id, content, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		requirementID, phaseName, agentID, taskID, content, now)
	if err != nil {
		return nil, fmt.Errorf("insert phase: %w", err)
	}
	phaseID, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	if rawLinks, ok := args["links"].([]any); ok {
		for _, rawLink := range rawLinks {
			link, ok := rawLink.(map[string]any)
			if !ok {
				continue
			}
			linkType, _ := link["linkType"].(string)
			targetID, _ := link["targetPhaseId"].(float64)
			if !validLinkTypes[linkType] || targetID <= 0 {
				continue
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO phase_links (phase_id, link_type, target_phase_id, created_at) VALUES (?, ?, ?, ?)`,
				phaseID, linkType, int64(targetID), now); err != nil {
				return nil, fmt.Errorf("insert link: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return map[string]any{"phaseId": phaseID}, nil
}

func (f *Feature) handleGetChain(ctx context.Context, args map[string]any) (any, error) {
	requirementID, _ := args["requirementId"].(string)
	if requirementID == "" {
		return nil, fmt.Errorf("getEvidenceChain requires requirementId")
	}
	phases, err := f.loadPhases(ctx, requirementID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"requirementId": requirementID, "phases": phases}, nil
}

func (f *Feature) loadPhases(ctx context.Context, requirementID string) ([]Phase, error) {
	rows, err := f.db.QueryContext(ctx,
		`SELECT id, phase, agent_id, task_id, content, created_at FROM phases
		 WHERE requirement_id = ? ORDER BY created_at ASC, id ASC`, requirementID)
	if err != nil {
		return nil, fmt.Errorf("query phases: %w", err)
	}
	defer rows.Close()

	var phases []Phase
	for rows.Next() {
		var p Phase
		if err := rows.Scan(&p.ID, &p.Phase, &p.AgentID, &p.TaskID, &p.Content, &p.CreatedAt); err != nil {
			return nil, err
		}
		links, err := f.loadLinks(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		p.Links = links
		phases = append(phases, p)
	}
	return phases, rows.Err()
}

func (f *Feature) loadLinks(ctx context.Context, phaseID int64) ([]Link, error) {
	rows, err := f.db.QueryContext(ctx,
		`SELECT link_type, target_phase_id FROM phase_links WHERE phase_id = ?`, phaseID)
	if err != nil {
		return nil, fmt.Errorf("query links: %w", err)
	}
	defer rows.Close()

	var links []Link
	for rows.Next() {
		var l Link
		if err := rows.Scan(&l.LinkType, &l.TargetPhaseID); err != nil {
			return nil, err
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

func (f *Feature) handleGetStatus(ctx context.Context, args map[string]any) (any, error) {
	requirementID, _ := args["requirementId"].(string)
	if requirementID == "" {
		return nil, fmt.Errorf("getChainStatus requires requirementId")
	}
	phases, err := f.loadPhases(ctx, requirementID)
	if err != nil {
		return nil, err
	}

	verificationLinks := 0
	present := make(map[string]bool, len(validPhases))
	for _, p := range phases {
		present[p.Phase] = true
		for _, l := range p.Links {
			if l.LinkType == "verification" {
				verificationLinks++
			}
		}
	}

	status := ChainStatus{
		RequirementID:     requirementID,
		PhasesPresent:     len(present),
		CoveragePercent:   100 * float64(len(present)) / float64(len(validPhases)),
		VerificationLinks: verificationLinks,
	}
	return status, nil
}
