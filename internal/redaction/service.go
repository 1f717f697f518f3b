package redaction

import (
	"context"
	"errors"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/raaihank/redactor/internal/rules"
	"github.com/raaihank/redactor/internal/shortcode"
)

// Settings are the reloadable site-wide redaction settings.
type Settings struct {
	Defaults      RenderDefaults
	Applicability Applicability
}

// Service is the full content pipeline: applicability, rule redaction with
// rules loaded from the store, then inline shortcode rendering.
type Service struct {
	engine     *Engine
	store      rules.Store
	shortcodes *shortcode.Processor
	logger     *zap.Logger
	settings   atomic.Value
}

// NewService creates a pipeline using store for active rules.
func NewService(engine *Engine, store rules.Store, shortcodes *shortcode.Processor, settings Settings, logger *zap.Logger) *Service {
	s := &Service{
		engine:     engine,
		store:      store,
		shortcodes: shortcodes,
		logger:     logger,
	}
	s.settings.Store(settings)
	return s
}

// Settings returns the settings currently in effect.
func (s *Service) Settings() Settings {
	return s.settings.Load().(Settings)
}

// UpdateSettings swaps the settings used by subsequent calls.
func (s *Service) UpdateSettings(settings Settings) {
	s.settings.Store(settings)
	s.logger.Info("Redaction settings updated",
		zap.String("style", settings.Defaults.Style),
		zap.Strings("default_roles", settings.Defaults.Roles))
}

// RedactContent redacts content for viewer. Rules run first when the content
// is eligible under rc; [redact] and [noredact] blocks render afterwards in
// every case.
func (s *Service) RedactContent(ctx context.Context, content string, rc RedactionContext, viewer PermissionOracle) (*Report, error) {
	settings := s.Settings()
	report := &Report{Content: content, Hits: map[int64]int{}}
	if content == "" {
		return report, nil
	}

	if settings.Applicability.ShouldRedact(rc) {
		ruleSet, err := s.store.ListActiveRules(ctx)
		if err != nil {
			s.logger.Error("Rule store failed", zap.Error(err))
			return nil, unavailable("rule store", err)
		}
		report, err = s.engine.RedactWithReport(ctx, content, ruleSet, viewer, settings.Defaults)
		if err != nil {
			return nil, err
		}
	}

	g, err := s.engine.newGate(ctx, viewer)
	if err != nil {
		return nil, err
	}
	out, err := s.shortcodes.Process(report.Content, shortcode.Defaults{
		Roles:   settings.Defaults.Roles,
		Style:   settings.Defaults.Style,
		Options: settings.Defaults.Options,
	}, g.allowed)
	if err != nil {
		return nil, err
	}
	report.Content = out
	if len(g.errs) > 0 && !hasUnavailable(report.Errors) {
		report.Errors = append(report.Errors, g.errs...)
	}
	return report, nil
}

func hasUnavailable(errs []error) bool {
	for _, err := range errs {
		if errors.Is(err, ErrCollaboratorUnavailable) {
			return true
		}
	}
	return false
}
