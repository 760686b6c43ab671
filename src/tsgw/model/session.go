package model

import (
	"github.com/gofrs/uuid"
	"go.lsp.dev/jsonrpc2"
	"go.lsp.dev/protocol"

	"github.com/sourcegraph/typescript-gateway/src/tsgw/entity"
)

// Session is the repository layer model for an individual client session.
type Session struct {
	UUID             uuid.UUID
	InitializeParams *protocol.InitializeParams
	Conn             *jsonrpc2.Conn
	HTTPRoot         string
	FileRoot         string
	TempDir          string
	Config           entity.Config
}
