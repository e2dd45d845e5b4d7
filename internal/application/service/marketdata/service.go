package marketdata

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/NumberChiffre/SimpleLOBStream/internal/domain/book"

	"golang.org/x/sync/errgroup"
)

var (
	ErrNoPipelines     = errors.New("no pipelines configured")
	ErrDuplicateSymbol = errors.New("duplicate symbol")
	ErrUnknownSymbol   = errors.New("unknown symbol")
)

// Service runs one pipeline per symbol and serves their latest views.
type Service struct {
	pipelines map[string]*Pipeline
	symbols   []string
}

func NewService(pipelines ...*Pipeline) (*Service, error) {
	if len(pipelines) == 0 {
		return nil, ErrNoPipelines
	}
	s := &Service{pipelines: make(map[string]*Pipeline, len(pipelines))}
	for _, p := range pipelines {
		key := normalizeSymbol(p.Symbol())
		if _, ok := s.pipelines[key]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateSymbol, p.Symbol())
		}
		s.pipelines[key] = p
		s.symbols = append(s.symbols, p.Symbol())
	}
	sort.Strings(s.symbols)
	return s, nil
}

// Run blocks until ctx is done or any pipeline fails.
func (s *Service) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, p := range s.pipelines {
		p := p
		g.Go(func() error {
			if err := p.Run(gctx); err != nil {
				return fmt.Errorf("pipeline %s: %w", p.Symbol(), err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (s *Service) Symbols() []string {
	return append([]string(nil), s.symbols...)
}

func (s *Service) View(symbol string) (book.View, error) {
	p, ok := s.pipelines[normalizeSymbol(symbol)]
	if !ok {
		return book.View{}, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}
	return p.Latest(), nil
}

func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
