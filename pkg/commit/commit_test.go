package commit_test

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"

	"github.com/bobboyms/icydb/pkg/commit"
	"github.com/bobboyms/icydb/pkg/errors"
	"github.com/bobboyms/icydb/pkg/stable"
)

func testMarker() *commit.Marker {
	return &commit.Marker{
		Entity:   "User",
		Mutation: commit.MutationInsert,
		Ops: []commit.Op{
			{Kind: commit.OpPut, Store: "data:User", Key: []byte("Userk1"), Value: []byte("row1")},
			{Kind: commit.OpPut, Store: "index:User", Key: []byte("ik1"), Value: []byte("e1")},
			{Kind: commit.OpDelete, Store: "index:User", Key: []byte("ik0")},
		},
	}
}

func TestMarker_EncodeDecodeRoundTrip(t *testing.T) {
	m := testMarker()
	raw, err := m.Encode()
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	back, err := commit.DecodeMarker(raw)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if back.Entity != "User" || back.Mutation != commit.MutationInsert || len(back.Ops) != 3 {
		t.Fatalf("marker changed in round trip: %+v", back)
	}
	if !bytes.Equal(back.Ops[0].Value, []byte("row1")) {
		t.Error("op payload changed in round trip")
	}
}

func TestMarker_CRCMismatchIsCorruption(t *testing.T) {
	raw, _ := testMarker().Encode()
	raw[len(raw)-1] ^= 0xFF
	if _, err := commit.DecodeMarker(raw); !errors.IsCorruption(err) {
		t.Errorf("flipped body byte must fail crc as corruption, got %v", err)
	}
}

func TestMarker_TruncatedIsCorruption(t *testing.T) {
	raw, _ := testMarker().Encode()
	if _, err := commit.DecodeMarker(raw[:10]); !errors.IsCorruption(err) {
		t.Error("truncated marker must be corruption")
	}
	if _, err := commit.DecodeMarker(raw[:len(raw)-2]); !errors.IsCorruption(err) {
		t.Error("short payload must be corruption")
	}
}

func TestMarker_OversizedIsInvariant(t *testing.T) {
	big := &commit.Marker{
		Entity:   "User",
		Mutation: commit.MutationBatch,
	}
	payload := make([]byte, 4096)
	for i := 0; i < 80; i++ {
		big.Ops = append(big.Ops, commit.Op{
			Kind: commit.OpPut, Store: "data:User", Key: []byte{byte(i)}, Value: payload,
		})
	}
	if _, err := big.Encode(); !errors.IsInvariant(err) {
		t.Errorf("oversized marker must be an invariant violation, got %v", err)
	}
}

func TestLog_CommitAppliesAndClears(t *testing.T) {
	p := stable.NewMemProvider()
	log := commit.NewLog(p, zerolog.Nop())

	if err := log.Commit(testMarker()); err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	data := p.Open("data:User")
	if v, ok := data.Get([]byte("Userk1")); !ok || !bytes.Equal(v, []byte("row1")) {
		t.Error("row op not applied")
	}
	if _, present, _ := log.Pending(); present {
		t.Error("marker must be cleared after commit")
	}
}

func TestLog_ReplayPendingMarker(t *testing.T) {
	p := stable.NewMemProvider()
	log := commit.NewLog(p, zerolog.Nop())

	// Simula um trap entre a persistência do marker e o apply.
	if err := log.Stage(testMarker()); err != nil {
		t.Fatalf("stage failed: %v", err)
	}
	if _, ok := p.Open("data:User").Get([]byte("Userk1")); ok {
		t.Fatal("stage must not apply anything")
	}

	replays := 0
	log.OnReplay = func() { replays++ }

	replayed, err := log.Replay()
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	if !replayed || replays != 1 {
		t.Fatalf("expected one replay, got replayed=%t count=%d", replayed, replays)
	}
	if _, ok := p.Open("data:User").Get([]byte("Userk1")); !ok {
		t.Error("replay must produce the marker's described state")
	}
	if _, present, _ := log.Pending(); present {
		t.Error("marker must be cleared after replay")
	}

	// Segundo replay é no-op.
	replayed, err = log.Replay()
	if err != nil || replayed {
		t.Errorf("second replay must be a no-op, got (%t, %v)", replayed, err)
	}
}

func TestLog_ReplayIsIdempotent(t *testing.T) {
	p := stable.NewMemProvider()
	log := commit.NewLog(p, zerolog.Nop())
	m := testMarker()

	// Apply parcial antes do replay: o marker carrega estado absoluto,
	// então reaplicar por cima converge para o mesmo fim.
	p.Open("data:User").Put([]byte("Userk1"), []byte("row1"))
	if err := log.Stage(m); err != nil {
		t.Fatalf("stage failed: %v", err)
	}
	if _, err := log.Replay(); err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	if v, _ := p.Open("data:User").Get([]byte("Userk1")); !bytes.Equal(v, []byte("row1")) {
		t.Error("replay over partial apply must converge")
	}
	if _, ok := p.Open("index:User").Get([]byte("ik0")); ok {
		t.Error("delete op must hold after replay")
	}
}

func TestLog_StageOverPendingIsInvariant(t *testing.T) {
	p := stable.NewMemProvider()
	log := commit.NewLog(p, zerolog.Nop())
	if err := log.Stage(testMarker()); err != nil {
		t.Fatalf("stage failed: %v", err)
	}
	if err := log.Stage(testMarker()); !errors.IsInvariant(err) {
		t.Errorf("staging over a pending marker must be an invariant violation, got %v", err)
	}
}
