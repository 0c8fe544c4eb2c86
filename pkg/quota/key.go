package quota

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// keySeparator separates the components of a serialized CounterKey.
const keySeparator = ":"

var (
	callerEscaper   = strings.NewReplacer("%", "%25", ":", "%3A")
	callerUnescaper = strings.NewReplacer("%3A", ":", "%25", "%")
)

// CounterKey identifies one fixed-window counter: a caller, a dimension
// and a window slot. Two requests share a key if and only if they share
// all three.
type CounterKey struct {
	Dimension Dimension
	CallerKey string
	Epoch     int64
}

// BuildKey maps a caller, dimension and instant to the counter key of the
// window containing now. It is pure and identical on every process.
func BuildKey(dim Dimension, callerKey string, window time.Duration, now time.Time) CounterKey {
	return CounterKey{
		Dimension: dim,
		CallerKey: callerKey,
		Epoch:     EpochIndex(now, window),
	}
}

// EpochIndex returns floor(now / window) in milliseconds since the Unix epoch.
func EpochIndex(now time.Time, window time.Duration) int64 {
	ms := window.Milliseconds()
	if ms <= 0 {
		ms = 1
	}
	t := now.UnixMilli()
	epoch := t / ms
	if t < 0 && t%ms != 0 {
		epoch--
	}
	return epoch
}

// WindowBounds returns the start and end instants of a window slot.
func WindowBounds(epoch int64, window time.Duration) (start, end time.Time) {
	ms := window.Milliseconds()
	start = time.UnixMilli(epoch * ms)
	end = time.UnixMilli((epoch + 1) * ms)
	return start, end
}

// String serializes the key as <dimension>:<caller>:<epoch>, escaping
// the separator inside the caller component.
func (k CounterKey) String() string {
	var b strings.Builder
	b.Grow(len(k.Dimension) + len(k.CallerKey) + 24)
	b.WriteString(string(k.Dimension))
	b.WriteString(keySeparator)
	b.WriteString(callerEscaper.Replace(k.CallerKey))
	b.WriteString(keySeparator)
	b.WriteString(strconv.FormatInt(k.Epoch, 10))
	return b.String()
}

// ParseKey is the inverse of CounterKey.String.
func ParseKey(s string) (CounterKey, error) {
	first := strings.Index(s, keySeparator)
	last := strings.LastIndex(s, keySeparator)
	if first < 0 || first == last {
		return CounterKey{}, fmt.Errorf("malformed counter key %q", s)
	}

	dim, err := ParseDimension(s[:first])
	if err != nil {
		return CounterKey{}, fmt.Errorf("counter key %q: %w", s, err)
	}

	epoch, err := strconv.ParseInt(s[last+1:], 10, 64)
	if err != nil {
		return CounterKey{}, fmt.Errorf("counter key %q: bad epoch: %w", s, err)
	}

	escaped := s[first+1 : last]
	if strings.Contains(escaped, keySeparator) {
		return CounterKey{}, fmt.Errorf("counter key %q: unescaped separator in caller", s)
	}

	return CounterKey{
		Dimension: dim,
		CallerKey: callerUnescaper.Replace(escaped),
		Epoch:     epoch,
	}, nil
}

// KeyBuilder adds an optional deployment prefix to serialized keys so
// several applications can share one store.
type KeyBuilder struct {
	Prefix string
}

// Format returns the store key for k.
func (kb KeyBuilder) Format(k CounterKey) string {
	return kb.Prefix + k.String()
}

// Parse strips the prefix and parses the remainder.
func (kb KeyBuilder) Parse(s string) (CounterKey, error) {
	if !strings.HasPrefix(s, kb.Prefix) {
		return CounterKey{}, fmt.Errorf("counter key %q lacks prefix %q", s, kb.Prefix)
	}
	return ParseKey(strings.TrimPrefix(s, kb.Prefix))
}
