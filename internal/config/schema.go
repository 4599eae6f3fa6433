package config

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
)

//go:embed schema.cue
var schemaSource string

var (
	schemaOnce sync.Once
	schemaCtx  *cue.Context
	schemaDef  cue.Value
	schemaErr  error
)

func loadSchema() (*cue.Context, cue.Value, error) {
	schemaOnce.Do(func() {
		schemaCtx = cuecontext.New()
		v := schemaCtx.CompileString(schemaSource, cue.Filename("schema.cue"))
		if err := v.Err(); err != nil {
			schemaErr = fmt.Errorf("compile config schema: %w", err)
			return
		}
		schemaDef = v.LookupPath(cue.ParsePath("#Config"))
		if !schemaDef.Exists() {
			schemaErr = fmt.Errorf("config schema has no #Config")
		}
	})
	return schemaCtx, schemaDef, schemaErr
}

// validateSchema unifies cfg with #Config and requires a concrete result.
func validateSchema(cfg *Config) error {
	ctx, def, err := loadSchema()
	if err != nil {
		return err
	}
	val := ctx.Encode(cfg)
	if err := val.Err(); err != nil {
		return formatCUEError(err)
	}
	return formatCUEError(def.Unify(val).Validate(cue.Concrete(true)))
}

// ValidationError reports the first schema violation.
type ValidationError struct {
	Path    string
	Message string
	Pos     token.Pos
}

func (e *ValidationError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("config %s: %s (%s:%d:%d)",
			e.Path, e.Message, e.Pos.Filename(), e.Pos.Line(), e.Pos.Column())
	}
	return fmt.Sprintf("config %s: %s", e.Path, e.Message)
}

// formatCUEError extracts path and position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	first := errs[0]
	format, args := first.Msg()
	verr := &ValidationError{
		Path:    strings.Join(first.Path(), "."),
		Message: fmt.Sprintf(format, args...),
	}
	if positions := errors.Positions(first); len(positions) > 0 {
		verr.Pos = positions[0]
	}
	return verr
}
