package controller

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"signalrelay/src/model"
)

type recordingExceptionRepo struct {
	created []*model.Exception
	err     error
}

func (r *recordingExceptionRepo) Create(_ context.Context, exc *model.Exception) error {
	r.created = append(r.created, exc)
	return r.err
}

func TestPercentOfDecimal(t *testing.T) {
	tests := []struct {
		value   string
		percent float64
		want    string
	}{
		{"200", 10, "20"},
		{"175", 50, "87.5"},
		{"100", 0, "1"},
		{"100", 150, "100"},
	}

	for _, tt := range tests {
		got := PercentOfDecimal(decimal.RequireFromString(tt.value), tt.percent)
		if !got.Equal(decimal.RequireFromString(tt.want)) {
			t.Fatalf("expected %v%% of %s to be %s, got %s", tt.percent, tt.value, tt.want, got)
		}
	}
}

func TestCapture(t *testing.T) {
	repo := &recordingExceptionRepo{}

	Capture(context.Background(), repo, ServiceName, "broadcast", "fanOut", "error", nil, nil)
	if len(repo.created) != 0 {
		t.Fatalf("nil error must not be captured")
	}

	Capture(context.Background(), repo, ServiceName, "broadcast", "fanOut", "error",
		errors.New("boom"), map[string]interface{}{"subscriber_id": 42})
	if len(repo.created) != 1 {
		t.Fatalf("expected one exception, got %d", len(repo.created))
	}
	exc := repo.created[0]
	if exc.Message != "boom" || exc.Module != "broadcast" || exc.Stack == "" {
		t.Fatalf("unexpected exception %+v", exc)
	}
	if !strings.Contains(exc.Context, `"subscriber_id":42`) {
		t.Fatalf("expected context json, got %q", exc.Context)
	}

	failing := &recordingExceptionRepo{err: errors.New("db down")}
	Capture(context.Background(), failing, ServiceName, "bot", "HandleUpdate", "error", errors.New("x"), nil)
	if len(failing.created) != 1 {
		t.Fatalf("expected persistence attempt even when it fails")
	}
}
