package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ignatij/flowmirror/pkg/models"
	"github.com/ignatij/flowmirror/pkg/remote"
	"github.com/ignatij/flowmirror/pkg/storage"
)

// Logger defines the logging interface for the FlowMirror services
type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// Catalog is the slice of the remote client the services depend on, so tests
// can substitute a stub without standing up an HTTP server.
type Catalog interface {
	ListWorkflows(ctx context.Context) ([]remote.RemoteWorkflow, error)
	GetExecution(ctx context.Context, remoteExecutionID string) (remote.RemoteExecution, error)
	Invoke(ctx context.Context, wf models.WorkflowDefinition, input json.RawMessage) (remote.InvocationResult, error)
}

// SyncService reconciles the remote workflow catalog against the local
// mirror. Sync is best-effort and partially idempotent: re-running it after a
// partial failure converges to the same end state.
type SyncService struct {
	store   storage.Store
	catalog Catalog
	logger  Logger
	baseURL string // Used to build per-workflow webhook URLs
	orgID   string // Tenant owning the integration
}

func NewSyncService(store storage.Store, catalog Catalog, baseURL, orgID string, logger Logger) *SyncService {
	return &SyncService{
		store:   store,
		catalog: catalog,
		logger:  logger,
		baseURL: baseURL,
		orgID:   orgID,
	}
}

// Sync fetches the full remote catalog and applies added/updated/removed sets
// to the local mirror. A total remote-fetch failure aborts with no local
// mutation; per-row write failures are collected and do not stop the batch.
func (s *SyncService) Sync(ctx context.Context) (models.SyncResult, error) {
	remoteWorkflows, err := s.catalog.ListWorkflows(ctx)
	if err != nil {
		s.logger.Errorf("Failed to list remote workflows: %v", err)
		return models.SyncResult{Synced: false, Errors: []string{err.Error()}}, err
	}

	localIDs, err := s.store.ListRemoteIDs()
	if err != nil {
		return models.SyncResult{Synced: false, Errors: []string{err.Error()}}, err
	}
	localSet := make(map[string]bool, len(localIDs))
	for _, id := range localIDs {
		localSet[id] = true
	}

	result := models.SyncResult{Synced: true}
	now := time.Now()
	remoteSet := make(map[string]bool, len(remoteWorkflows))
	for _, rw := range remoteWorkflows {
		remoteSet[rw.ID] = true
		wf := models.WorkflowDefinition{
			RemoteID:       rw.ID,
			OrganizationID: s.orgID,
			Name:           rw.Name,
			Active:         rw.Active,
			TriggerType:    rw.InferTriggerType(),
			Tags:           rw.TagNames(),
			WebhookURL:     s.webhookURL(rw),
			Synced:         true,
			LastSyncedAt:   &now,
		}
		if _, err := s.store.UpsertWorkflow(wf); err != nil {
			s.logger.Errorf("Failed to upsert workflow %s: %v", rw.ID, err)
			result.Errors = append(result.Errors, fmt.Sprintf("upsert %s: %v", rw.ID, err))
			continue
		}
		if localSet[rw.ID] {
			result.Updated++
		} else {
			result.Added++
		}
	}

	// Present locally, absent remotely: mark unsynced, never delete, so the
	// execution history and statistics survive.
	var gone []string
	for _, id := range localIDs {
		if !remoteSet[id] {
			gone = append(gone, id)
		}
	}
	if len(gone) > 0 {
		if err := s.store.MarkUnsynced(gone); err != nil {
			s.logger.Errorf("Failed to mark %d workflows unsynced: %v", len(gone), err)
			result.Errors = append(result.Errors, fmt.Sprintf("mark unsynced: %v", err))
		} else {
			result.Removed = len(gone)
		}
	}

	s.logger.Infof("Synced catalog: %d added, %d updated, %d removed, %d errors",
		result.Added, result.Updated, result.Removed, len(result.Errors))
	return result, nil
}

func (s *SyncService) webhookURL(rw remote.RemoteWorkflow) string {
	path := rw.WebhookPath()
	if path == "" {
		return ""
	}
	return fmt.Sprintf("%s/webhook/%s", s.baseURL, path)
}
