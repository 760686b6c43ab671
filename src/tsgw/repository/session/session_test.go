package session

import (
	"context"
	"testing"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tally "github.com/uber-go/tally/v4"

	"github.com/sourcegraph/typescript-gateway/src/tsgw/entity"
	"github.com/sourcegraph/typescript-gateway/src/tsgw/internal/errors"
)

func TestSessionRepository(t *testing.T) {
	testScope := tally.NewTestScope("testing", make(map[string]string, 0))

	t.Run("should Set and Get successfully", func(t *testing.T) {
		id := uuid.Must(uuid.NewV4())
		s := &entity.Session{
			UUID:     id,
			HTTPRoot: "https://h/repo@abc/-/raw/",
		}

		repository := New(testScope)

		err := repository.Set(context.Background(), s)
		require.NoError(t, err)
		val, err := repository.Get(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, id, val.UUID)
		assert.Equal(t, s.HTTPRoot, val.HTTPRoot)
	})

	t.Run("should fail to get something that was not Set", func(t *testing.T) {
		repository := New(testScope)

		id := uuid.Must(uuid.NewV4())
		_, err := repository.Get(context.Background(), id)
		require.Error(t, err)
		var nf *errors.UUIDNotFoundError
		require.ErrorAs(t, err, &nf)
		assert.Equal(t, id, nf.UUID)
	})

	t.Run("should refuse nil sessions", func(t *testing.T) {
		repository := New(testScope)
		assert.Error(t, repository.Set(context.Background(), nil))
	})
}

func TestGetFromContext(t *testing.T) {
	testScope := tally.NewTestScope("testing", make(map[string]string, 0))

	t.Run("should get when uuid is in context", func(t *testing.T) {
		id := uuid.Must(uuid.NewV4())
		s := &entity.Session{UUID: id}

		repository := New(testScope)
		ctx := context.WithValue(context.Background(), entity.SessionContextKey, id)
		require.NoError(t, repository.Set(ctx, s))

		val, err := repository.GetFromContext(ctx)
		assert.NoError(t, err)
		assert.Equal(t, id, val.UUID)
	})

	t.Run("should fail when uuid is missing from context", func(t *testing.T) {
		repository := New(testScope)
		_, err := repository.GetFromContext(context.Background())
		require.Error(t, err)
	})
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	testScope := tally.NewTestScope("testing", make(map[string]string, 0))

	repository := New(testScope)
	id := uuid.Must(uuid.NewV4())
	require.NoError(t, repository.Set(ctx, &entity.Session{UUID: id}))

	count, err := repository.SessionCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.NoError(t, repository.Delete(ctx, id))
	_, err = repository.Get(ctx, id)
	assert.Error(t, err)

	count, err = repository.SessionCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}
