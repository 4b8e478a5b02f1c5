package commit

import (
	"github.com/rs/zerolog"

	"github.com/bobboyms/icydb/pkg/errors"
	"github.com/bobboyms/icydb/pkg/stable"
	"github.com/bobboyms/icydb/pkg/storage"
)

// markerKey é a chave singleton do marker em voo.
var markerKey = []byte("current")

// Log é o dono do marker store e da disciplina em duas fases:
//
// Fase 1 — pre-commit (falível): o executor monta o marker; Stage o
// persiste. Nada durável muda antes disso.
//
// Fase 2 — apply (infalível): fold sobre as ops na ordem gravada, depois
// Clear. Apply não valida nem aloca de forma falível; falha aqui é bug.
type Log struct {
	store    stable.Memory
	provider stable.Provider
	logger   zerolog.Logger

	// OnReplay é chamado a cada replay concluído (hook de métricas).
	OnReplay func()
}

func NewLog(provider stable.Provider, logger zerolog.Logger) *Log {
	return &Log{
		store:    provider.Open(storage.MarkerStoreName),
		provider: provider,
		logger:   logger,
	}
}

// Pending lê e decodifica o marker em voo, se houver.
func (l *Log) Pending() (*Marker, bool, error) {
	raw, ok := l.store.Get(markerKey)
	if !ok {
		return nil, false, nil
	}
	m, err := DecodeMarker(raw)
	if err != nil {
		return nil, true, err
	}
	return m, true, nil
}

// Stage persiste o marker. Último passo falível da janela de commit.
func (l *Log) Stage(m *Marker) error {
	if _, present, _ := l.Pending(); present {
		return errors.Invariant("commit", "staging over an unapplied marker")
	}
	raw, err := m.Encode()
	if err != nil {
		return err
	}
	l.store.Put(markerKey, raw)
	return nil
}

// Apply executa as ops na ordem gravada. Infalível por construção:
// todo trabalho falível já aconteceu no pre-commit.
func (l *Log) Apply(m *Marker) {
	for i := range m.Ops {
		op := &m.Ops[i]
		mem := l.provider.Open(op.Store)
		switch op.Kind {
		case OpPut:
			mem.Put(op.Key, op.Value)
		case OpDelete:
			mem.Delete(op.Key)
		}
	}
}

// Clear fecha a janela de commit.
func (l *Log) Clear() {
	l.store.Delete(markerKey)
}

// Commit roda a fase 2 inteira: persistir marker, aplicar, limpar.
func (l *Log) Commit(m *Marker) error {
	if err := l.Stage(m); err != nil {
		return err
	}
	l.Apply(m)
	l.Clear()
	return nil
}

// Replay é a verificação do recovery guard: marker presente implica que
// alguma mutação pode estar parcialmente aplicada; o replay determinístico
// reconstrói o estado final descrito e limpa o marker. Devolve true se
// houve replay.
func (l *Log) Replay() (bool, error) {
	m, present, err := l.Pending()
	if !present {
		return false, nil
	}
	if err != nil {
		// Marker ilegível: não dá para avançar com segurança.
		return false, err
	}

	l.logger.Info().
		Str("entity", m.Entity).
		Int("ops", len(m.Ops)).
		Msg("replaying pending commit marker")

	l.Apply(m)
	l.Clear()
	if l.OnReplay != nil {
		l.OnReplay()
	}
	return true, nil
}
