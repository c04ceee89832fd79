package http

import (
	tracelot "github.com/tracelot/tracelot"
	"github.com/xeipuuv/gojsonschema"
)

// createLotSchemaJSON rejects structurally bad create-lot bodies before the
// engine's semantic validation runs. Price stays a string: JSON numbers
// round-trip through float64 and would corrupt large denominations.
const createLotSchemaJSON = `{
	"type": "object",
	"required": ["title", "description", "quantity", "unit", "origin", "price", "steps"],
	"properties": {
		"title": {"type": "string", "minLength": 1},
		"description": {"type": "string", "minLength": 1},
		"quantity": {"type": "integer", "minimum": 1},
		"unit": {"type": "string"},
		"origin": {"type": "string"},
		"price": {"type": "string", "pattern": "^[0-9]+$"},
		"steps": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"required": ["description"],
				"properties": {
					"description": {"type": "string", "minLength": 1},
					"validators": {
						"type": "array",
						"items": {"type": "string", "pattern": "^0x[0-9a-fA-F]{40}$"}
					}
				}
			}
		}
	}
}`

var createLotSchema = gojsonschema.NewBytesLoader([]byte(createLotSchemaJSON))

func validateCreateLot(body []byte) error {
	result, err := gojsonschema.Validate(createLotSchema, gojsonschema.NewBytesLoader(body))
	if err != nil {
		return tracelot.Errorf(tracelot.ErrCodeValidation, "malformed request body: %v", err)
	}
	if !result.Valid() {
		violations := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			violations = append(violations, desc.String())
		}
		return tracelot.NewError(tracelot.ErrCodeValidation, "request body failed schema validation", map[string]interface{}{
			"violations": violations,
		})
	}
	return nil
}
