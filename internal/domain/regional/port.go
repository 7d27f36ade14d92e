package regional

import "context"

// Repository port for persisting regional analyses. Reads are scoped to an
// access group.
type Repository interface {
	Save(ctx context.Context, a *RegionalAnalysis) error
	Get(ctx context.Context, group string, id AnalysisID) (*RegionalAnalysis, error)
	ListByProject(ctx context.Context, group, projectID string) ([]*RegionalAnalysis, error)
	Update(ctx context.Context, a *RegionalAnalysis) error
	// SoftDelete flags a live analysis as deleted and reports whether its
	// job had completed. It returns ErrNotFound when the analysis is missing
	// or already deleted, so of several concurrent calls only one succeeds.
	SoftDelete(ctx context.Context, group string, id AnalysisID) (wasComplete bool, err error)
	MarkComplete(ctx context.Context, id AnalysisID) error
}

// Broker port for the external job broker. Cancel must tolerate jobs that
// already finished or were already cancelled.
type Broker interface {
	Enqueue(ctx context.Context, a *RegionalAnalysis) error
	Cancel(ctx context.Context, id AnalysisID) error
}
