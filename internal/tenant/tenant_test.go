package tenant

import (
	"context"
	"errors"
	"testing"
)

func TestFromHeaders(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		want    Key
		wantErr bool
	}{
		{
			name: "both headers present",
			headers: map[string]string{
				HeaderRestaurantID: "r-1",
				HeaderLocationID:   "l-1",
			},
			want: Key{RestaurantID: "r-1", LocationID: "l-1"},
		},
		{
			name:    "missing restaurant",
			headers: map[string]string{HeaderLocationID: "l-1"},
			wantErr: true,
		},
		{
			name:    "missing location",
			headers: map[string]string{HeaderRestaurantID: "r-1"},
			wantErr: true,
		},
		{
			name:    "empty values",
			headers: map[string]string{HeaderRestaurantID: "", HeaderLocationID: ""},
			wantErr: true,
		},
		{
			name:    "no headers at all",
			headers: map[string]string{},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FromHeaders(tt.headers)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				if !errors.Is(err, ErrMissingTenant) {
					t.Errorf("expected ErrMissingTenant, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestHeadersRoundTrip(t *testing.T) {
	k := Key{RestaurantID: "r-9", LocationID: "l-3"}

	got, err := FromHeaders(k.Headers())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != k {
		t.Errorf("expected %v, got %v", k, got)
	}
}

func TestContext(t *testing.T) {
	k := Key{RestaurantID: "r-1", LocationID: "l-1"}
	ctx := NewContext(context.Background(), k)

	got, ok := FromContext(ctx)
	if !ok {
		t.Fatal("expected tenant in context")
	}
	if got != k {
		t.Errorf("expected %v, got %v", k, got)
	}

	if _, ok := FromContext(context.Background()); ok {
		t.Error("expected no tenant in empty context")
	}
}
