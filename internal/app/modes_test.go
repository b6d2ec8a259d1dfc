package app

import (
	"context"
	"fmt"
	"testing"
)

func TestIgnoreCanceled(t *testing.T) {
	sentinel := fmt.Errorf("listen: address in use")
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"nil", nil, nil},
		{"bare cancellation", context.Canceled, nil},
		{"wrapped cancellation", fmt.Errorf("monitor: scan: %w", context.Canceled), nil},
		{"real failure", sentinel, sentinel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ignoreCanceled(tt.err); got != tt.want {
				t.Errorf("ignoreCanceled(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
