package ctxutil_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ctrlsys/ctrlsys/internal/auth"
	"github.com/ctrlsys/ctrlsys/internal/ctxutil"
)

func TestClaimsRoundTrip(t *testing.T) {
	ctx := context.Background()
	assert.Nil(t, ctxutil.ClaimsFromContext(ctx))
	assert.Empty(t, ctxutil.Operator(ctx))

	ctx = ctxutil.WithClaims(ctx, &auth.Claims{Operator: "alice"})
	assert.Equal(t, "alice", ctxutil.ClaimsFromContext(ctx).Operator)
	assert.Equal(t, "alice", ctxutil.Operator(ctx))
}
