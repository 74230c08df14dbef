package vision

import (
	"fmt"
	"strings"

	"github.com/manthysbr/inspectd/internal/core/domain"
	"github.com/xeipuuv/gojsonschema"
)

// Models answer scalars as strings or numbers and lists as arrays or a
// single string, so every field accepts both.
const (
	scalar = `{"type": ["string", "number", "boolean", "null"]}`
	list   = `{"type": ["array", "string", "null"], "items": {"type": ["string", "number"]}}`
)

type field struct {
	name     string
	schema   string
	required bool
}

func objectSchema(fields ...field) string {
	props := make([]string, 0, len(fields))
	var required []string
	for _, f := range fields {
		props = append(props, fmt.Sprintf("%q: %s", f.name, f.schema))
		if f.required {
			required = append(required, fmt.Sprintf("%q", f.name))
		}
	}
	return fmt.Sprintf(`{"type": "object", "properties": {%s}, "required": [%s]}`,
		strings.Join(props, ", "), strings.Join(required, ", "))
}

var identitySchema = objectSchema(
	field{"device_brand", scalar, true},
	field{"device_model", scalar, true},
	field{"system_version", scalar, false},
	field{"storage_info", scalar, false},
	field{"serial_number", scalar, false},
	field{"imei", scalar, false},
	field{"other_info", scalar, false},
)

var schemaSources = map[domain.AnalysisKind]string{
	domain.KindDeviceInfo:  identitySchema,
	domain.KindMachineType: identitySchema,
	domain.KindProductDate: objectSchema(
		field{"product_date", scalar, true},
		field{"first_use_date", scalar, false},
		field{"other_info", scalar, false},
	),
	domain.KindBattery: objectSchema(
		field{"maximum_capacity", scalar, true},
		field{"battery_health", scalar, false},
		field{"peak_performance", scalar, false},
		field{"charge_cycles", scalar, false},
		field{"recommendations", scalar, false},
	),
	domain.KindAppearance: objectSchema(
		field{"overall_condition", scalar, true},
		field{"issues", list, true},
		field{"detailed_analysis", objectSchema(
			field{"front", scalar, false},
			field{"back", scalar, false},
			field{"edges", scalar, false},
		), false},
		field{"suggestions", list, false},
	),
	domain.KindScreen: objectSchema(
		field{"screen_condition", scalar, true},
		field{"issues", list, true},
		field{"display_quality", scalar, false},
		field{"functionality", scalar, false},
	),
	domain.KindCameraLens: objectSchema(
		field{"lens_condition", scalar, true},
		field{"issues", list, true},
		field{"cleanliness", scalar, false},
		field{"physical_damage", scalar, false},
	),
	domain.KindFlashlight: objectSchema(
		field{"flashlight_condition", scalar, true},
		field{"functionality", scalar, false},
		field{"brightness", scalar, false},
		field{"issues", list, false},
	),
}

var narrativeSchemaSource = objectSchema(
	field{"price", scalar, true},
	field{"other_info", scalar, false},
)

var (
	schemas         = map[domain.AnalysisKind]*gojsonschema.Schema{}
	narrativeSchema *gojsonschema.Schema
)

func init() {
	for kind, src := range schemaSources {
		schemas[kind] = mustSchema(src)
	}
	narrativeSchema = mustSchema(narrativeSchemaSource)
}

func mustSchema(src string) *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
	if err != nil {
		panic(fmt.Sprintf("invalid response schema: %v", err))
	}
	return s
}

// validate checks doc against schema and joins every violation.
func validate(schema *gojsonschema.Schema, doc string) error {
	result, err := schema.Validate(gojsonschema.NewStringLoader(doc))
	if err != nil {
		return fmt.Errorf("failed to validate: %w", err)
	}
	if !result.Valid() {
		var errs []string
		for _, desc := range result.Errors() {
			errs = append(errs, desc.String())
		}
		return fmt.Errorf("validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
