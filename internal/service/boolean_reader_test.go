package service

import (
	"errors"
	"testing"

	"github.com/nexus-edge/plc-link/internal/domain"
	"github.com/rs/zerolog"
)

func defaultLoader() (map[int]domain.BooleanChannel, error) {
	return domain.DefaultBooleanChannels(), nil
}

func newTestBooleanReader(t *testing.T, source *fakeBooleanSource, load ChannelLoader) *BooleanReader {
	t.Helper()
	if load == nil {
		load = defaultLoader
	}
	r, err := NewBooleanReader(source, load, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewBooleanReader() error = %v", err)
	}
	return r
}

func TestBooleanReaderBatchRead(t *testing.T) {
	source := &fakeBooleanSource{
		read: func(address, count int) ([]bool, error) {
			values := make([]bool, count)
			values[0] = true
			values[count-1] = true
			return values, nil
		},
	}
	r := newTestBooleanReader(t, source, nil)

	result := r.ReadAll()
	if len(result) != domain.MaxBooleanChannels {
		t.Fatalf("ReadAll() returned %d channels, want %d", len(result), domain.MaxBooleanChannels)
	}
	if !result[1] || !result[6] {
		t.Errorf("result = %v, want channels 1 and 6 true", result)
	}
	if result[2] || result[5] {
		t.Errorf("result = %v, want middle channels false", result)
	}

	// The default 464..469 map is contiguous: one batch call.
	calls := source.callLog()
	if len(calls) != 1 {
		t.Fatalf("source called %d times, want 1 batch", len(calls))
	}
	if calls[0].address != 464 || calls[0].count != 6 {
		t.Errorf("batch = %+v, want address 464 count 6", calls[0])
	}
}

func TestBooleanReaderPerAddressFallback(t *testing.T) {
	batchFailed := false
	source := &fakeBooleanSource{}
	source.read = func(address, count int) ([]bool, error) {
		if count > 1 {
			batchFailed = true
			return nil, domain.ErrReadFailed
		}
		return []bool{address == 466}, nil
	}
	r := newTestBooleanReader(t, source, nil)

	result := r.ReadAll()
	if !batchFailed {
		t.Fatal("batch read never attempted")
	}
	// 1 failed batch + 6 single reads.
	if calls := source.callLog(); len(calls) != 7 {
		t.Fatalf("source called %d times, want 7", len(calls))
	}
	if !result[3] {
		t.Error("channel 3 (address 466) = false, want true")
	}
	for _, idx := range []int{1, 2, 4, 5, 6} {
		if result[idx] {
			t.Errorf("channel %d = true, want false", idx)
		}
	}
}

func TestBooleanReaderCacheOnFailure(t *testing.T) {
	up := true
	source := &fakeBooleanSource{}
	source.read = func(address, count int) ([]bool, error) {
		if !up {
			return nil, domain.ErrReadFailed
		}
		values := make([]bool, count)
		for i := range values {
			values[i] = true
		}
		return values, nil
	}
	r := newTestBooleanReader(t, source, nil)

	first := r.ReadAll()
	if !first[1] {
		t.Fatal("first read did not populate values")
	}

	// All reads fail: every channel keeps its last known value.
	up = false
	second := r.ReadAll()
	for idx := 1; idx <= domain.MaxBooleanChannels; idx++ {
		if !second[idx] {
			t.Errorf("channel %d lost cached value on failed read", idx)
		}
	}

	if v, ok := r.Value(1); !ok || !v {
		t.Errorf("Value(1) = (%v, %v), want (true, true)", v, ok)
	}
}

func TestBooleanReaderNonContiguousReadsPerAddress(t *testing.T) {
	load := func() (map[int]domain.BooleanChannel, error) {
		return map[int]domain.BooleanChannel{
			1: {Address: 464, Label: "A"},
			2: {Address: 470, Label: "B"},
		}, nil
	}
	source := &fakeBooleanSource{
		read: func(address, count int) ([]bool, error) {
			return make([]bool, count), nil
		},
	}
	r := newTestBooleanReader(t, source, load)

	r.ReadAll()
	for _, call := range source.callLog() {
		if call.count != 1 {
			t.Errorf("non-contiguous map read with count %d, want per-address reads", call.count)
		}
	}
}

func TestBooleanReaderThresholdStraddleReadsPerAddress(t *testing.T) {
	load := func() (map[int]domain.BooleanChannel, error) {
		return map[int]domain.BooleanChannel{
			1: {Address: 1000, Label: "A"},
			2: {Address: 1001, Label: "B"},
		}, nil
	}
	source := &fakeBooleanSource{
		read: func(address, count int) ([]bool, error) {
			return make([]bool, count), nil
		},
	}
	r := newTestBooleanReader(t, source, load)

	r.ReadAll()
	for _, call := range source.callLog() {
		if call.count != 1 {
			t.Errorf("threshold-straddling map read with count %d, want per-address reads", call.count)
		}
	}
}

func TestBooleanReaderReload(t *testing.T) {
	channels := domain.DefaultBooleanChannels()
	loadErr := error(nil)
	load := func() (map[int]domain.BooleanChannel, error) {
		if loadErr != nil {
			return nil, loadErr
		}
		out := make(map[int]domain.BooleanChannel, len(channels))
		for k, v := range channels {
			out[k] = v
		}
		return out, nil
	}
	source := &fakeBooleanSource{
		read: func(address, count int) ([]bool, error) {
			values := make([]bool, count)
			for i := range values {
				values[i] = true
			}
			return values, nil
		},
	}
	r := newTestBooleanReader(t, source, load)
	r.ReadAll()

	// Drop a channel and reload: its cached value goes away too.
	delete(channels, 6)
	if err := r.Reload(); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	if len(r.Channels()) != 5 {
		t.Errorf("Channels() = %d entries after reload, want 5", len(r.Channels()))
	}
	if _, ok := r.Value(6); ok {
		t.Error("Value(6) still cached after channel removed")
	}

	// A failing loader leaves the current map in place.
	loadErr = errors.New("bad file")
	if err := r.Reload(); err == nil {
		t.Error("Reload() error = nil, want loader failure")
	}
	if len(r.Channels()) != 5 {
		t.Errorf("Channels() = %d entries after failed reload, want 5", len(r.Channels()))
	}
}

func TestBooleanReaderEmptyMap(t *testing.T) {
	load := func() (map[int]domain.BooleanChannel, error) {
		return map[int]domain.BooleanChannel{}, nil
	}
	source := &fakeBooleanSource{
		read: func(address, count int) ([]bool, error) {
			t.Fatal("source called with no channels configured")
			return nil, nil
		},
	}
	r := newTestBooleanReader(t, source, load)

	if result := r.ReadAll(); len(result) != 0 {
		t.Errorf("ReadAll() = %v, want empty map", result)
	}
}
