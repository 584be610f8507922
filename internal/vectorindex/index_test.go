package vectorindex

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestIsTransientError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "plain error", err: errors.New("boom"), want: false},
		{name: "unavailable", err: status.Error(grpccodes.Unavailable, "down"), want: true},
		{name: "deadline", err: status.Error(grpccodes.DeadlineExceeded, "slow"), want: true},
		{name: "aborted", err: status.Error(grpccodes.Aborted, "conflict"), want: true},
		{name: "resource exhausted", err: status.Error(grpccodes.ResourceExhausted, "quota"), want: true},
		{name: "not found", err: status.Error(grpccodes.NotFound, "missing"), want: false},
		{name: "invalid argument", err: status.Error(grpccodes.InvalidArgument, "bad"), want: false},
		{name: "unauthenticated", err: status.Error(grpccodes.Unauthenticated, "key"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransientError(tt.err))
		})
	}
}
