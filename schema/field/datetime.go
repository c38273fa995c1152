package field

import (
	"context"
	"time"

	"github.com/dustin/go-humanize"
)

// epoch is the default value of date-time fields.
var epoch = time.Unix(0, 0).UTC()

// Layouts used by the PrettyDate and PrettyDateTime formats.
const (
	PrettyDateLayout     = "2 January 2006"
	PrettyDateTimeLayout = "2 January 2006, 15:04"
)

// DateTimeField holds a point in time, in UTC. The default value is the
// Unix epoch.
type DateTimeField struct {
	base
	value time.Time
}

// DateTime returns a new date-time field.
func DateTime(name string) *DateTimeField {
	return &DateTimeField{base: newBase(name, TypeDateTime), value: epoch}
}

// Default sets the default value of the field.
func (f *DateTimeField) Default(t time.Time) *DateTimeField {
	f.value = t.UTC()
	return f
}

// NonEmpty requires the field to hold a time other than the epoch when saved.
func (f *DateTimeField) NonEmpty() *DateTimeField {
	f.nonEmpty = true
	return f
}

// Value returns the time.
func (f *DateTimeField) Value() time.Time { return f.value }

// Get implements the Field interface. The value is formatted per the
// Ago, PrettyDate, PrettyDateTime and Layout options.
func (f *DateTimeField) Get(_ context.Context, opts ...GetOption) (any, error) {
	o := NewGetOptions(opts...)
	switch o.Format {
	case FormatAgo:
		return humanize.Time(f.value), nil
	case FormatPrettyDate:
		return f.value.Format(PrettyDateLayout), nil
	case FormatPrettyDateTime:
		return f.value.Format(PrettyDateTimeLayout), nil
	case FormatLayout:
		return f.value.Format(o.Layout), nil
	default:
		return f.value, nil
	}
}

// Set implements the Field interface. It accepts times, RFC 3339
// strings and Unix seconds.
func (f *DateTimeField) Set(v any, track bool) error {
	t, ok := toTime(v)
	if !ok {
		return f.typeError(v)
	}
	f.value = t
	f.touch(track)
	return nil
}

// Storable implements the Field interface.
func (f *DateTimeField) Storable() (any, error) { return f.storable(f.value, f.IsEmpty()) }

// IsEmpty implements the Field interface.
func (f *DateTimeField) IsEmpty() bool { return f.value.IsZero() || f.value.Equal(epoch) }

var _ Field = (*DateTimeField)(nil)
