package server

import (
	"github.com/kazandb/kazandb/internal/resp"
	"github.com/kazandb/kazandb/internal/storage"
)

// commandContext is what a command sees while it runs
type commandContext struct {
	args    []resp.Value // arguments without the command name
	storage storage.Storage
}

type command interface {
	execute(ctx *commandContext) resp.Value
}

type commandFunc func(ctx *commandContext) resp.Value

func (c commandFunc) execute(ctx *commandContext) resp.Value {
	return c(ctx)
}

// arg returns the i-th argument as a string
func (c *commandContext) arg(i int) string {
	return string(c.args[i].String)
}
