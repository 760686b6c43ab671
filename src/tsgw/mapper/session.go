// Package mapper converts between wire, entity, and model representations.
package mapper

import (
	"context"

	"github.com/gofrs/uuid"

	"github.com/sourcegraph/typescript-gateway/src/tsgw/entity"
	"github.com/sourcegraph/typescript-gateway/src/tsgw/internal/errors"
	"github.com/sourcegraph/typescript-gateway/src/tsgw/model"
)

// SessionToModel maps a Session entity to its model equivalent.
func SessionToModel(f *entity.Session) *model.Session {
	return &model.Session{
		UUID:             f.UUID,
		InitializeParams: f.InitializeParams,
		Conn:             f.Conn,
		HTTPRoot:         f.HTTPRoot,
		FileRoot:         f.FileRoot,
		TempDir:          f.TempDir,
		Config:           f.Config,
	}
}

// ModelToSession maps a model Session to its entity equivalent.
func ModelToSession(f *model.Session) (*entity.Session, error) {
	return &entity.Session{
		UUID:             f.UUID,
		InitializeParams: f.InitializeParams,
		Conn:             f.Conn,
		HTTPRoot:         f.HTTPRoot,
		FileRoot:         f.FileRoot,
		TempDir:          f.TempDir,
		Config:           f.Config,
	}, nil
}

// ContextToSessionUUID extracts the session UUID from the context.
func ContextToSessionUUID(ctx context.Context) (uuid.UUID, error) {
	id, ok := ctx.Value(entity.SessionContextKey).(uuid.UUID)
	if !ok {
		return uuid.Nil, &errors.NoSessionFoundError{}
	}
	return id, nil
}
