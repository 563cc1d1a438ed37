package observability

import (
	"io"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogger installs the global logger tagged with app.
func InitLogger(app string, out io.Writer, timestamp bool) zerolog.Logger {
	ctx := zerolog.New(out).With()
	if timestamp {
		ctx = ctx.Timestamp()
	}
	logger := ctx.Str("app", app).Logger()
	log.Logger = logger
	return logger
}
