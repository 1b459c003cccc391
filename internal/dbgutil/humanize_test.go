package dbgutil_test

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/peterbourgon/debugbar/internal/dbgutil"
)

func TestHumanizeDuration(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		d    time.Duration
		want string
	}{
		{0, "0s"},
		{1234 * time.Nanosecond, "1µs"},
		{1234567 * time.Nanosecond, "1.2ms"},
		{12345678 * time.Nanosecond, "12ms"},
		{1234567890 * time.Nanosecond, "1.2s"},
		{90 * time.Second, "1m30s"},
		{2*time.Hour + 3*time.Minute + 4*time.Second, "2h3m"},
	} {
		if have := dbgutil.HumanizeDuration(tc.d); have != tc.want {
			t.Errorf("%d: want %q, have %q", tc.d, tc.want, have)
		}
	}
}

func TestHumanizeBytes(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		n    int
		want string
	}{
		{0, "0B"},
		{512, "512B"},
		{1536, "1.5KB"},
		{500 * 1024, "500KB"},
		{3 * 1024 * 1024, "3.0MB"},
		{512 * 1024 * 1024, "512MB"},
	} {
		if have := dbgutil.HumanizeBytes(tc.n); have != tc.want {
			t.Errorf("%d: want %q, have %q", tc.n, tc.want, have)
		}
	}
}

func TestFlattenErrors(t *testing.T) {
	t.Parallel()

	have := dbgutil.FlattenErrors(errors.New("a"), nil, errors.New("b"))
	if diff := cmp.Diff([]string{"a", "b"}, have); diff != "" {
		t.Error(diff)
	}
	if have := dbgutil.FlattenErrors(); have != nil {
		t.Errorf("want nil, have %v", have)
	}
}
