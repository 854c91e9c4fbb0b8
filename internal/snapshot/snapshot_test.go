package snapshot

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/talgya/territory/internal/engine"
	"github.com/talgya/territory/internal/territory"
)

func sample() engine.WorldSnapshot {
	red := territory.Actor{Kind: territory.ActorTeam, ID: "red"}
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return engine.WorldSnapshot{
		Version: 7,
		Entities: []*territory.Entity{
			{ID: "c1", Name: "Arden", Kind: territory.KindCountry, Special: territory.SpecialStandard},
		},
		Records: []territory.ControlRecord{
			{EntityID: "c1", Controller: red, UnitStrength: 12, TotalDistance: 12.5, ControlledSince: at, DaysControlled: 3},
		},
		Conquests: []territory.ConquestRecord{
			{ID: "h1", EntityID: "c1", New: red, BattleDuration: 90 * time.Minute, ConqueredAt: at},
		},
	}
}

func TestEncodeDecode(t *testing.T) {
	want := sample()
	data, digest, err := Encode(want)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(digest) != 64 {
		t.Errorf("digest length = %d, want 64", len(digest))
	}
	got, err := Decode(data, digest)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("round trip differs:\n got %+v\nwant %+v", got, want)
	}
	if _, err := Decode(data, Digest([]byte("something else"))); err == nil {
		t.Error("digest mismatch not detected")
	}
}

func TestDigestIsContentAddressed(t *testing.T) {
	_, d1, _ := Encode(sample())
	_, d2, _ := Encode(sample())
	if d1 != d2 {
		t.Errorf("same state gave digests %s and %s", d1, d2)
	}
	changed := sample()
	changed.Records[0].UnitStrength++
	if _, d3, _ := Encode(changed); d3 == d1 {
		t.Error("different state gave the same digest")
	}
}

func TestWriteReadFile(t *testing.T) {
	dir := t.TempDir()
	info, err := WriteFile(dir, sample())
	if err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if filepath.Base(info.Path) != info.Digest+".json.lz4" || info.Version != 7 {
		t.Errorf("info = %+v", info)
	}
	got, err := ReadFile(info.Path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if got.Version != 7 || len(got.Records) != 1 {
		t.Errorf("read back %+v", got)
	}

	data, _ := os.ReadFile(info.Path)
	data[len(data)/2] ^= 0xff
	corrupt := filepath.Join(dir, info.Digest+".json.lz4")
	if err := os.WriteFile(corrupt, data, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadFile(corrupt); err == nil {
		t.Error("corrupted snapshot accepted")
	}
}
