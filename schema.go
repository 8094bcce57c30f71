package mediapod

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/xeipuuv/gojsonschema"
)

// GenerateSchema reflects the JSON schema of an agent's parameter struct.
// Fields are required only when tagged `jsonschema:"required"`.
func GenerateSchema[T any]() map[string]any {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties:  true,
		DoNotReference:             true,
		RequiredFromJSONSchemaTags: true,
	}
	var v T
	raw, err := json.Marshal(reflector.Reflect(v))
	if err != nil {
		panic(fmt.Sprintf("failed to marshal schema for %T: %v", v, err))
	}
	schema := map[string]any{}
	if err := json.Unmarshal(raw, &schema); err != nil {
		panic(fmt.Sprintf("failed to unmarshal schema for %T: %v", v, err))
	}
	// the validator only understands the older drafts
	delete(schema, "$schema")
	delete(schema, "$id")
	return schema
}

// ValidateParams checks params against schema and reports every violation in
// a single ValidationError.
func ValidateParams(schema map[string]any, params Params) error {
	if len(schema) == 0 {
		return nil
	}
	if params == nil {
		params = Params{}
	}
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(schema))
	if err != nil {
		return fmt.Errorf("invalid parameter schema: %w", err)
	}
	result, err := compiled.Validate(gojsonschema.NewGoLoader(map[string]any(params)))
	if err != nil {
		return NewValidationError("invalid parameters: %v", err)
	}
	if !result.Valid() {
		errs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			errs = append(errs, e.String())
		}
		return NewValidationError("invalid parameters: %s", strings.Join(errs, "; "))
	}
	return nil
}
