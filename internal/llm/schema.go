package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/amo-tech-ai/rocket-path-ai-sub000/internal/extract"
)

var schemaPrinter = message.NewPrinter(language.English)

// compiled schemas keyed by their canonical JSON.
var schemaCache sync.Map

func compileSchema(doc map[string]any) (*jsonschema.Schema, string, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, "", eris.Wrap(err, "llm: marshal schema")
	}
	key := string(raw)
	if s, ok := schemaCache.Load(key); ok {
		return s.(*jsonschema.Schema), key, nil
	}

	// Round-trip so the compiler sees plain JSON values.
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, "", eris.Wrap(err, "llm: parse schema")
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", v); err != nil {
		return nil, "", eris.Wrap(err, "llm: add schema resource")
	}
	s, err := c.Compile("schema.json")
	if err != nil {
		return nil, "", eris.Wrap(err, "llm: compile schema")
	}
	schemaCache.Store(key, s)
	return s, key, nil
}

// schemaInstruction is appended to the system prompt when a schema is in
// effect.
func schemaInstruction(schemaJSON string) string {
	return "\n\nRespond with a single JSON value that conforms to this JSON Schema. Do not add prose.\n```json\n" +
		schemaJSON + "\n```"
}

// validateText checks text against schema. Text that does not parse as
// JSON returns no violations; the stage's extractor deals with it.
func validateText(schema *jsonschema.Schema, text string) []string {
	res := extract.Parse[any](text)
	if !res.OK() {
		return nil
	}
	// The validator wants float64/json.Number style values.
	raw, err := json.Marshal(res.Value)
	if err != nil {
		return nil
	}
	inst, err := jsonschema.UnmarshalJSON(strings.NewReader(string(raw)))
	if err != nil {
		return nil
	}

	err = schema.Validate(inst)
	if err == nil {
		return nil
	}
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return []string{fmt.Sprintf("schema: %v", err)}
	}
	var out []string
	collectViolations(ve, &out)
	return out
}

func collectViolations(ve *jsonschema.ValidationError, out *[]string) {
	if len(ve.Causes) == 0 {
		loc := "/" + strings.Join(ve.InstanceLocation, "/")
		*out = append(*out, fmt.Sprintf("%s: %s", loc, ve.ErrorKind.LocalizedString(schemaPrinter)))
		return
	}
	for _, c := range ve.Causes {
		collectViolations(c, out)
	}
}
