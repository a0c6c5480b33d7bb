package relay

import (
	_ "embed"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/c360/udprelay/errors"
)

// RouteTableSchema is the JSON Schema of the persisted route table format.
//
//go:embed routetable.schema.json
var RouteTableSchema []byte

var compiledSchema = sync.OnceValues(func() (*gojsonschema.Schema, error) {
	return gojsonschema.NewSchema(gojsonschema.NewBytesLoader(RouteTableSchema))
})

// ValidateDocument checks a raw route table document against RouteTableSchema.
// It catches shape errors (unknown fields, wrong types, ports outside
// [1,65535]) with field paths; port conflicts are left to Validate.
func ValidateDocument(data []byte) error {
	schema, err := compiledSchema()
	if err != nil {
		return errors.WrapFatal(err, "RouteTable", "ValidateDocument", "compile schema")
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return errors.WrapInvalid(errors.Validationf("document is not valid JSON: %v", err),
			"RouteTable", "ValidateDocument", "parse document")
	}
	if result.Valid() {
		return nil
	}

	problems := make([]string, 0, len(result.Errors()))
	for _, re := range result.Errors() {
		problems = append(problems, re.Field()+": "+re.Description())
	}
	return errors.WrapInvalid(errors.Validationf("%s", strings.Join(problems, "; ")),
		"RouteTable", "ValidateDocument", "schema validation")
}
