// Package engine contém os executores: o kernel de load/delete, o
// executor dedicado de save e a janela de commit que os três
// compartilham. O engine segue o plano; decisão lógica é do planner.
package engine

import (
	"github.com/rs/zerolog"

	"github.com/bobboyms/icydb/pkg/commit"
	"github.com/bobboyms/icydb/pkg/errors"
	"github.com/bobboyms/icydb/pkg/index"
	"github.com/bobboyms/icydb/pkg/log"
	"github.com/bobboyms/icydb/pkg/metrics"
	"github.com/bobboyms/icydb/pkg/schema"
	"github.com/bobboyms/icydb/pkg/stable"
	"github.com/bobboyms/icydb/pkg/storage"
)

// Engine é o dono dos stores e da janela de commit. Uma instância por
// processo; single-threaded cooperativo dentro de cada chamada, sem
// locking interno.
type Engine struct {
	reg      *schema.Registry
	provider stable.Provider
	bundles  map[string]*storage.Bundle
	clog     *commit.Log
	metrics  *metrics.Collector
	logger   zerolog.Logger
}

// Options configura a construção do engine.
type Options struct {
	// RebuildIndexes reconstrói todo estado derivado a partir das linhas
	// no arranque (fail-closed).
	RebuildIndexes bool
	Logger         *zerolog.Logger
}

// New abre os stores de todas as entidades registradas e roda o guard de
// arranque: replay incondicional de marker pendente ANTES da primeira
// leitura ou escrita, depois o rebuild opcional.
func New(provider stable.Provider, reg *schema.Registry, opts Options) (*Engine, error) {
	logger := log.WithComponent("engine")
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	e := &Engine{
		reg:      reg,
		provider: provider,
		bundles:  make(map[string]*storage.Bundle),
		metrics:  metrics.NewCollector(),
		logger:   logger,
	}
	for _, name := range reg.Entities() {
		e.bundles[name] = storage.OpenBundle(provider, name)
	}

	e.clog = commit.NewLog(provider, logger)
	e.clog.OnReplay = func() { e.metrics.Inc(metrics.MarkerReplays) }

	if _, err := e.clog.Replay(); err != nil {
		return nil, err
	}

	if opts.RebuildIndexes {
		if err := index.Rebuild(provider, reg, logger); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// guard é o recovery guard: adquirido em TODO entrypoint de leitura e
// escrita. Acesso cru aos stores fora do guard está fora de contrato.
func (e *Engine) guard() error {
	_, err := e.clog.Replay()
	return err
}

func (e *Engine) model(entity string) (*schema.EntityModel, func() schema.Row, error) {
	m, ok := e.reg.Model(entity)
	if !ok {
		return nil, nil, errors.Invalid("engine", "unknown entity %q", entity)
	}
	factory, _ := e.reg.Factory(entity)
	return m, factory, nil
}

// Registry expõe a tabela de entidades para a facade.
func (e *Engine) Registry() *schema.Registry { return e.reg }

// Metrics expõe os contadores best-effort.
func (e *Engine) Metrics() *metrics.Collector { return e.metrics }

// EntitySnapshot é a visão observável de uma entidade.
type EntitySnapshot struct {
	Entity       string
	Rows         int
	IndexEntries int
	DataBytes    int64
	IndexBytes   int64
}

// Snapshot lista contagens e bytes por entidade. Somente leitura,
// best-effort, passa pelo guard como qualquer leitura.
func (e *Engine) Snapshot() ([]EntitySnapshot, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	out := make([]EntitySnapshot, 0, len(e.bundles))
	for _, name := range e.reg.Entities() {
		b := e.bundles[name]
		out = append(out, EntitySnapshot{
			Entity:       name,
			Rows:         b.Data.Len(),
			IndexEntries: b.Index.Len(),
			DataBytes:    b.Data.Bytes(),
			IndexBytes:   b.Index.Bytes(),
		})
	}
	return out, nil
}
