package service

import (
	"context"
	"sort"
	"time"

	"github.com/boddenberg/esim-fleet-bfa/internal/domain"
	"github.com/boddenberg/esim-fleet-bfa/internal/infra/cache"
	"github.com/boddenberg/esim-fleet-bfa/internal/infra/observability"
	"github.com/boddenberg/esim-fleet-bfa/internal/port"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var planTracer = otel.Tracer("service/plans")

const planCacheKey = "plans"

// PlanService serves the plan catalog. The catalog changes rarely, so it is cached.
type PlanService struct {
	store   port.PlanStore
	cache   *cache.InMemory[[]domain.EsimPlan]
	events  port.EventPublisher
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewPlanService creates a new plan service.
func NewPlanService(store port.PlanStore, cacheTTL time.Duration, events port.EventPublisher, metrics *observability.Metrics, logger *zap.Logger) *PlanService {
	return &PlanService{
		store:   store,
		cache:   cache.New[[]domain.EsimPlan](cacheTTL),
		events:  events,
		metrics: metrics,
		logger:  logger,
	}
}

// ListPlans returns the catalog ordered by price, then name.
func (s *PlanService) ListPlans(ctx context.Context) ([]domain.EsimPlan, error) {
	ctx, span := planTracer.Start(ctx, "PlanService.ListPlans")
	defer span.End()

	if cached, ok := s.cache.Get(planCacheKey); ok {
		s.metrics.IncrCacheHit("plans")
		span.SetAttributes(attribute.Bool("cache.hit", true))
		return cached, nil
	}
	s.metrics.IncrCacheMiss("plans")

	plans, err := s.store.ListPlans(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(plans, func(i, j int) bool {
		if c := plans[i].RetailPrice.Cmp(plans[j].RetailPrice); c != 0 {
			return c < 0
		}
		return plans[i].Name < plans[j].Name
	})
	s.cache.Set(planCacheKey, plans)
	return plans, nil
}

// UpdatePrice changes a plan's retail price. Only the price is mutable. The catalog
// is shared by every company, so callers must restrict this to platform operators.
func (s *PlanService) UpdatePrice(ctx context.Context, planID int64, raw string) (*domain.EsimPlan, error) {
	ctx, span := planTracer.Start(ctx, "PlanService.UpdatePrice")
	defer span.End()
	span.SetAttributes(attribute.Int64("plan.id", planID))

	price, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, &domain.ErrValidation{Field: "retailPrice", Message: "must be a decimal number"}
	}
	if !price.IsPositive() {
		return nil, &domain.ErrValidation{Field: "retailPrice", Message: "must be greater than zero"}
	}
	if price.Exponent() < -2 {
		return nil, &domain.ErrValidation{Field: "retailPrice", Message: "at most two decimal places"}
	}

	plan, err := s.store.UpdatePlanPrice(ctx, planID, price)
	if err != nil {
		return nil, err
	}
	s.cache.Delete(planCacheKey)

	s.logger.Info("plan price updated",
		zap.Int64("plan_id", planID),
		zap.String("retail_price", price.StringFixed(2)),
	)
	if s.events != nil {
		s.events.Publish(ctx, domain.Event{
			Type:       domain.EventExecutiveUpdate,
			CompanyID:  domain.AllCompanies,
			Invalidate: []domain.QueryKey{domain.QueryPlans},
		})
	}
	return plan, nil
}

// Close stops the cache janitor.
func (s *PlanService) Close() {
	s.cache.Close()
}
