package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/nordpm/dashboard-api/internal/domain"
	"github.com/nordpm/dashboard-api/internal/money"
	"github.com/nordpm/dashboard-api/internal/pmstore"
	"github.com/nordpm/dashboard-api/internal/schedule"
)

// ProjectDetailsFetcher is the slice of the PM store the project service
// needs.
type ProjectDetailsFetcher interface {
	FetchProjectDetails(ctx context.Context, projectID string) (*pmstore.ProjectDetails, error)
}

// ProjectService decorates upstream project details with derived fields:
// the widened budget, resolved durations and the execution end date.
// Read-only.
type ProjectService struct {
	upstream ProjectDetailsFetcher
	norm     money.Normalizer
	currency string
	logger   *zap.Logger
}

// NewProjectService creates a new ProjectService instance
func NewProjectService(upstream ProjectDetailsFetcher, norm money.Normalizer, currency string, logger *zap.Logger) *ProjectService {
	return &ProjectService{
		upstream: upstream,
		norm:     norm,
		currency: currency,
		logger:   logger,
	}
}

// GetDetails fetches and decorates one project.
func (s *ProjectService) GetDetails(ctx context.Context, projectID string) (*domain.ProjectDetailsDTO, error) {
	details, err := s.upstream.FetchProjectDetails(ctx, projectID)
	if err != nil {
		s.logger.Error("Failed to fetch project details", zap.String("project_id", projectID), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	budget := s.norm.ToFullAmount(details.ApprovedProjectBudget)
	dto := &domain.ProjectDetailsDTO{
		ProjectID:             details.ProjectID,
		Name:                  details.Name,
		VendorName:            details.VendorName,
		ProjectTypeName:       details.ProjectTypeName,
		PhaseName:             details.PhaseName,
		ApprovedProjectBudget: budget,
		BudgetFormatted:       money.FormatCurrency(&budget, s.currency, true),
		ExecutionStartDate:    details.ExecutionStartDate,
	}

	if days, ok := schedule.ParseDurationDays(details.ExecutionDuration); ok {
		dto.ExecutionDurationDays = days
	}
	if days, ok := schedule.ParseDurationDays(details.MaintenanceDuration); ok {
		dto.MaintenanceDurationDays = days
	}

	if end, ok := schedule.EndDateString(details.ExecutionStartDate, details.ExecutionDuration); ok {
		dto.ExecutionEndDate = end

		start, err1 := schedule.ParseDate(details.ExecutionStartDate)
		endDate, err2 := schedule.ParseDate(end)
		if err1 == nil && err2 == nil {
			if span, ok := schedule.CalendarMonthSpan(start, endDate); ok {
				dto.ExecutionMonthSpan = span
			}
		}
	}

	return dto, nil
}
