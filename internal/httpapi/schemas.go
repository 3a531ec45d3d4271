package httpapi

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const (
	schemaMoveStage   = "http://leadsync.local/schemas/move-stage.json"
	schemaSendMessage = "http://leadsync.local/schemas/send-message.json"
	schemaAppState    = "http://leadsync.local/schemas/app-state.json"
)

var bodySchemaSources = map[string]string{
	schemaMoveStage: `{
		"type": "object",
		"required": ["stageId"],
		"properties": {
			"stageId": {"type": "string", "minLength": 1}
		},
		"additionalProperties": false
	}`,
	schemaSendMessage: `{
		"type": "object",
		"required": ["content"],
		"properties": {
			"channel": {"enum": ["email", "sms", "whatsapp"]},
			"content": {"type": "string", "minLength": 1, "maxLength": 4000}
		},
		"additionalProperties": false
	}`,
	schemaAppState: `{
		"type": "object",
		"properties": {
			"selectedLeadId": {"type": ["string", "null"]},
			"sidebarOpen": {"type": "boolean"}
		},
		"additionalProperties": false
	}`,
}

type bodySchemas struct {
	compiled map[string]*jsonschema.Schema
}

func compileBodySchemas() (*bodySchemas, error) {
	c := jsonschema.NewCompiler()
	for name, src := range bodySchemaSources {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(src))
		if err != nil {
			return nil, fmt.Errorf("parse schema %s: %w", name, err)
		}
		if err := c.AddResource(name, doc); err != nil {
			return nil, fmt.Errorf("add schema %s: %w", name, err)
		}
	}
	out := &bodySchemas{compiled: make(map[string]*jsonschema.Schema, len(bodySchemaSources))}
	for name := range bodySchemaSources {
		sch, err := c.Compile(name)
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", name, err)
		}
		out.compiled[name] = sch
	}
	return out, nil
}

func mustCompileBodySchemas() *bodySchemas {
	schemas, err := compileBodySchemas()
	if err != nil {
		panic(err)
	}
	return schemas
}

func (b *bodySchemas) validate(name string, body []byte) error {
	sch, ok := b.compiled[name]
	if !ok {
		return fmt.Errorf("unknown schema %s", name)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return errors.New("request body is required")
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return errors.New("invalid json body")
	}
	if err := sch.Validate(inst); err != nil {
		var verr *jsonschema.ValidationError
		if errors.As(err, &verr) {
			return fmt.Errorf("body does not match schema at %s", innermostLocation(verr))
		}
		return err
	}
	return nil
}

// innermostLocation follows the first cause down to the offending field.
func innermostLocation(verr *jsonschema.ValidationError) string {
	for len(verr.Causes) > 0 {
		verr = verr.Causes[0]
	}
	return "/" + strings.Join(verr.InstanceLocation, "/")
}
