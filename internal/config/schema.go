package config

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
)

//go:embed schema.cue
var schemaSource string

// ValidationError is one schema violation.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors collects every schema violation found.
type ValidationErrors []ValidationError

func (es ValidationErrors) Error() string {
	msgs := make([]string, len(es))
	for i, e := range es {
		msgs[i] = e.Error()
	}
	return "invalid config: " + strings.Join(msgs, "; ")
}

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
		if err := schemaDef.Err(); err != nil {
			schemaErr = fmt.Errorf("lookup #Config: %w", err)
		}
	})
	return schemaCtx, schemaDef, schemaErr
}

// Schema returns the embedded CUE schema source.
func Schema() string {
	return schemaSource
}

// validateSchema unifies c with #Config and reports every violation.
func validateSchema(c *Config) error {
	ctx, def, err := loadSchema()
	if err != nil {
		return err
	}

	// cue.Context is not safe for concurrent use
	schemaMu.Lock()
	defer schemaMu.Unlock()

	v := ctx.Encode(c)
	if err := v.Err(); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	unified := def.Unify(v)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return toValidationErrors(err)
	}
	return nil
}

var schemaMu sync.Mutex

func toValidationErrors(err error) error {
	var out ValidationErrors
	for _, e := range errors.Errors(err) {
		format, args := e.Msg()
		out = append(out, ValidationError{
			Field:   fieldPath(e.Path()),
			Message: fmt.Sprintf(format, args...),
		})
	}
	if len(out) == 0 {
		return err
	}
	return out
}

// fieldPath drops definition selectors such as #Config from an error path.
func fieldPath(path []string) string {
	var parts []string
	for _, p := range path {
		if strings.HasPrefix(p, "#") {
			continue
		}
		parts = append(parts, p)
	}
	return strings.Join(parts, ".")
}
