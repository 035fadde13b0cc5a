package feedback

import (
	"fmt"
	"log/slog"

	"github.com/kranthiB/kubepilot/internal/metrics"
	"github.com/kranthiB/kubepilot/pkg/models"
)

// LearningStrategy reacts to classified feedback. The default strategy
// adjusts decomposition template weights; alternatives can be plugged in.
type LearningStrategy interface {
	OnPositive(category string)
	OnNegative(category string)
}

// ManagerConfig controls what the manager does with classified feedback.
type ManagerConfig struct {
	// AutoLearnOnPositive reinforces the goal category on positive feedback.
	AutoLearnOnPositive bool
	// AutoLearnOnNegative penalizes the goal category on negative feedback.
	AutoLearnOnNegative bool
}

// Manager persists feedback and routes it to the learning strategy. Each
// record triggers at most one learning action.
type Manager struct {
	store    *Store
	strategy LearningStrategy
	metrics  *metrics.Registry
	log      *slog.Logger
	cfg      ManagerConfig
}

// NewManager creates a manager. strategy may be nil to disable learning.
func NewManager(store *Store, strategy LearningStrategy, m *metrics.Registry, log *slog.Logger, cfg ManagerConfig) *Manager {
	return &Manager{
		store:    store,
		strategy: strategy,
		metrics:  m,
		log:      log,
		cfg:      cfg,
	}
}

// Record persists the feedback and applies the learning action it warrants.
// Unknown results are stored but never trigger learning.
func (m *Manager) Record(rec *models.FeedbackRecord) error {
	if err := m.store.Save(rec); err != nil {
		return fmt.Errorf("record feedback: %w", err)
	}
	m.metrics.RecordFeedback(string(rec.Result))

	if m.strategy == nil || rec.GoalCategory == "" {
		return nil
	}
	switch rec.Result {
	case models.FeedbackPositive:
		if m.cfg.AutoLearnOnPositive {
			m.strategy.OnPositive(rec.GoalCategory)
			m.log.Info("reinforced goal category", "category", rec.GoalCategory, "plan_id", rec.PlanID)
		}
	case models.FeedbackNegative:
		if m.cfg.AutoLearnOnNegative {
			m.strategy.OnNegative(rec.GoalCategory)
			m.log.Info("penalized goal category", "category", rec.GoalCategory, "plan_id", rec.PlanID)
		}
	}
	return nil
}

// TemplateLearner is the default learning strategy: it shifts decomposition
// template weights for the rated goal category.
type TemplateLearner struct {
	Reinforcer interface {
		Reinforce(category string)
		Penalize(category string)
	}
}

func (t TemplateLearner) OnPositive(category string) { t.Reinforcer.Reinforce(category) }
func (t TemplateLearner) OnNegative(category string) { t.Reinforcer.Penalize(category) }
