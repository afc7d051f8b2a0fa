package identity_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/senutpal/paxosvs/internal/identity"
)

func TestNewRequiresSecretEnv(t *testing.T) {
	t.Setenv("SECRET", "")
	_, err := identity.New()
	assert.Error(t, err)

	t.Setenv("SECRET", "shared-secret")
	node, err := identity.New()
	require.NoError(t, err)
	assert.Equal(t, "shared-secret", node.Secret)
	assert.NotEqual(t, uuid.Nil, node.UID)
}

func TestUIDIntRoundTrip(t *testing.T) {
	id := uuid.New()

	n := identity.IntFromUID(id)
	back, err := identity.UIDFromInt(n)
	require.NoError(t, err)
	assert.Equal(t, id, back)
}

func TestUIDFromIntRejectsOversizedValue(t *testing.T) {
	huge := identity.IntFromUID(uuid.New())
	huge.Lsh(huge, 16)

	_, err := identity.UIDFromInt(huge)
	assert.Error(t, err)
}
