package config

import (
	_ "embed"
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
)

//go:embed schema.cue
var schemaSource string

// The CUE context is not safe for concurrent use.
var (
	schemaMu  sync.Mutex
	cueCtx    *cue.Context
	schemaVal cue.Value
)

func schema() (*cue.Context, cue.Value, error) {
	if cueCtx == nil {
		cueCtx = cuecontext.New()
		schemaVal = cueCtx.CompileString(schemaSource, cue.Filename("schema.cue"))
	}
	if err := schemaVal.Err(); err != nil {
		return nil, cue.Value{}, fmt.Errorf("config: bad embedded schema: %w", err)
	}
	return cueCtx, schemaVal, nil
}

// validate checks x against the named definition of the embedded schema.
func validate(name, def string, x any) error {
	schemaMu.Lock()
	defer schemaMu.Unlock()

	ctx, s, err := schema()
	if err != nil {
		return err
	}
	v := s.LookupPath(cue.ParsePath(def)).Unify(ctx.Encode(x))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("config: invalid %s: %s", name, errors.Details(err, nil))
	}
	return nil
}
