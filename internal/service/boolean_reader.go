package service

import (
	"sort"
	"sync"

	"github.com/nexus-edge/plc-link/internal/domain"
	"github.com/rs/zerolog"
)

// booleanSource is the slice of the facade the boolean reader drives. The
// error-returning form is required: the reader must tell a failed batch from
// a batch of genuine false values before falling back.
type booleanSource interface {
	readBooleans(address, count int) ([]bool, error)
}

// ChannelLoader supplies the channel map; config.LoadBooleanChannels wrapped
// with the configured path in production.
type ChannelLoader func() (map[int]domain.BooleanChannel, error)

// BooleanReader reads the logical boolean channels shown on the display.
// Contiguous channel addresses are read in one batch; when the batch fails
// the reader degrades to per-address reads, and a channel whose read fails
// keeps its last known value so indicators do not flicker on a glitch.
type BooleanReader struct {
	source booleanSource
	load   ChannelLoader
	logger zerolog.Logger

	mu       sync.RWMutex
	channels map[int]domain.BooleanChannel
	last     map[int]bool
}

// NewBooleanReader loads the channel map and builds the reader.
func NewBooleanReader(source booleanSource, load ChannelLoader, logger zerolog.Logger) (*BooleanReader, error) {
	r := &BooleanReader{
		source: source,
		load:   load,
		logger: logger.With().Str("component", "boolean-reader").Logger(),
		last:   make(map[int]bool),
	}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload re-invokes the loader, replacing the channel map. Cached values for
// channels that survive the reload are kept.
func (r *BooleanReader) Reload() error {
	channels, err := r.load()
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.channels = channels
	for idx := range r.last {
		if _, ok := channels[idx]; !ok {
			delete(r.last, idx)
		}
	}
	r.mu.Unlock()

	r.logger.Info().Int("channels", len(channels)).Msg("Boolean channel map loaded")
	return nil
}

// Channels returns a copy of the channel map.
func (r *BooleanReader) Channels() map[int]domain.BooleanChannel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[int]domain.BooleanChannel, len(r.channels))
	for idx, ch := range r.channels {
		out[idx] = ch
	}
	return out
}

// Value returns the last known value for a channel index.
func (r *BooleanReader) Value(index int) (bool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.last[index]
	return v, ok
}

// ReadAll reads every configured channel and returns index → value. Failed
// reads fall back to the cached value; a channel with no cache yet reads as
// false.
func (r *BooleanReader) ReadAll() map[int]bool {
	r.mu.RLock()
	indices := make([]int, 0, len(r.channels))
	for idx := range r.channels {
		indices = append(indices, idx)
	}
	sort.Ints(indices)
	addrs := make(map[int]int, len(indices))
	for _, idx := range indices {
		addrs[idx] = r.channels[idx].Address
	}
	r.mu.RUnlock()

	if len(indices) == 0 {
		return map[int]bool{}
	}

	result := make(map[int]bool, len(indices))

	if base, count, ok := contiguousRange(indices, addrs); ok {
		values, err := r.source.readBooleans(base, count)
		if err == nil && len(values) == count {
			r.mu.Lock()
			for _, idx := range indices {
				v := values[addrs[idx]-base]
				result[idx] = v
				r.last[idx] = v
			}
			r.mu.Unlock()
			return result
		}
		r.logger.Debug().Err(err).Msg("Batch boolean read failed, degrading to per-address reads")
	}

	for _, idx := range indices {
		values, err := r.source.readBooleans(addrs[idx], 1)
		if err != nil || len(values) != 1 {
			r.mu.RLock()
			result[idx] = r.last[idx]
			r.mu.RUnlock()
			continue
		}
		r.mu.Lock()
		r.last[idx] = values[0]
		r.mu.Unlock()
		result[idx] = values[0]
	}
	return result
}

// contiguousRange reports whether the channel addresses form one contiguous
// run that the address translation maps monotonically, and returns its base
// defined address and length. Ranges straddling the absolute-address
// boundary translate non-contiguously and are read per-address instead.
func contiguousRange(indices []int, addrs map[int]int) (base, count int, ok bool) {
	sorted := make([]int, 0, len(indices))
	for _, idx := range indices {
		sorted = append(sorted, addrs[idx])
	}
	sort.Ints(sorted)

	for i := 1; i < len(sorted); i++ {
		if sorted[i] != sorted[i-1]+1 {
			return 0, 0, false
		}
	}
	low, high := sorted[0], sorted[len(sorted)-1]
	if low <= domain.AbsoluteAddressThreshold && high > domain.AbsoluteAddressThreshold {
		return 0, 0, false
	}
	if low <= 0 {
		return 0, 0, false
	}
	return low, len(sorted), true
}
