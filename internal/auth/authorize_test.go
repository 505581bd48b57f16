package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"idgate.org/internal/audit"
)

func TestPrincipalContext(t *testing.T) {
	_, ok := PrincipalFromContext(context.Background())
	assert.False(t, ok)

	p := NewPrincipal(9, "jane@example.com", []string{PermUserAccountViewer, PermSampleModuleAdmin})
	ctx := ContextWithPrincipal(context.Background(), p)

	got, ok := PrincipalFromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, int64(9), got.AccountID)
	assert.True(t, got.HasPermission(PermUserAccountViewer))
	assert.False(t, got.HasPermission(PermUserAccountAdmin))
	assert.True(t, got.HasAny(PermUserAccountAdmin, PermSampleModuleAdmin))

	actor, ok := audit.ActorFromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, int64(9), actor)
}
