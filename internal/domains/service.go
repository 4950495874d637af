// Package domains объединяет проверку доступности домена у регистратора
// и оценку его стоимости моделью.
package domains

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/calcio-domains/internal/catalyst"
	"github.com/mmeshcher/calcio-domains/internal/validation"
)

// Backend описывает функции бэкенда для оценки домена.
type Backend interface {
	GetPrompt(ctx context.Context, domain string) (*catalyst.Prompt, error)
	EvaluateDomain(ctx context.Context, prompt string) (json.RawMessage, error)
}

// Registrar проверяет доступность доменов.
type Registrar interface {
	SearchDomains(ctx context.Context, domains []string) (json.RawMessage, error)
}

// Evaluation содержит ответ модели и коэффициенты расчёта цены.
type Evaluation struct {
	Evaluation   json.RawMessage `json:"evaluation"`
	Coefficients json.RawMessage `json:"coefficients"`
}

// SearchResult содержит результат поиска домена.
type SearchResult struct {
	Domain       string          `json:"domain"`
	Availability json.RawMessage `json:"availability"`
	Evaluation   Evaluation      `json:"evaluation"`
}

// Service выполняет поиск и оценку доменов.
type Service struct {
	backend   Backend
	registrar Registrar
	logger    *zap.Logger
}

// NewService создаёт сервис поиска доменов.
func NewService(backend Backend, registrar Registrar, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{backend: backend, registrar: registrar, logger: logger}
}

// PromptTemplate возвращает шаблон промпта без подстановки домена.
func (s *Service) PromptTemplate(ctx context.Context) (*catalyst.Prompt, error) {
	p, err := s.backend.GetPrompt(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("get prompt template: %w", err)
	}
	return p, nil
}

// Evaluate получает промпт для домена и передаёт его модели.
func (s *Service) Evaluate(ctx context.Context, domain string) (*Evaluation, error) {
	p, err := s.backend.GetPrompt(ctx, domain)
	if err != nil {
		return nil, fmt.Errorf("get prompt: %w", err)
	}

	evaluation, err := s.backend.EvaluateDomain(ctx, p.Prompt)
	if err != nil {
		return nil, fmt.Errorf("evaluate domain: %w", err)
	}

	return &Evaluation{Evaluation: evaluation, Coefficients: p.Coefficients}, nil
}

// Search проверяет имя и параллельно запрашивает доступность и оценку.
func (s *Service) Search(ctx context.Context, name string) (*SearchResult, error) {
	domain, err := validation.NormalizeDomain(name)
	if err != nil {
		return nil, err
	}

	res := &SearchResult{Domain: domain}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		availability, err := s.registrar.SearchDomains(gctx, []string{domain})
		if err != nil {
			return fmt.Errorf("search registrar: %w", err)
		}
		res.Availability = availability
		return nil
	})
	g.Go(func() error {
		ev, err := s.Evaluate(gctx, domain)
		if err != nil {
			return err
		}
		res.Evaluation = *ev
		return nil
	})

	if err := g.Wait(); err != nil {
		s.logger.Warn("domain search failed", zap.String("domain", domain), zap.Error(err))
		return nil, err
	}

	s.logger.Info("domain searched", zap.String("domain", domain))
	return res, nil
}
