package handlers

import "github.com/xeipuuv/gojsonschema"

const CreateSessionRequestSchemaDefinition = `{
	"type": "object",
	"properties": {
		"trackId": { "type": "string", "minLength": 1 },
		"sourceType": { "type": "string", "enum": ["local"] },
		"desiredQuality": { "type": "string" }
	},
	"required": ["trackId"]
}`

const HeartbeatRequestSchemaDefinition = `{
	"type": "object",
	"properties": {
		"positionSec": { "type": "number", "minimum": 0 },
		"isPlaying": { "type": "boolean" }
	}
}`

var inputSchemas map[string]string = map[string]string{
	"CreateSession": CreateSessionRequestSchemaDefinition,
	"Heartbeat":     HeartbeatRequestSchemaDefinition,
}

func compileJsonSchemas() map[string]*gojsonschema.Schema {
	compiled := make(map[string]*gojsonschema.Schema, 0)
	for name, text := range inputSchemas {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(text))
		if err != nil {
			// raise panic on program start
			panic(err) // fix schema text
		}
		compiled[name] = schema
	}
	return compiled
}

// Run compile step on program start:
var inputSchemasCompiled map[string]*gojsonschema.Schema = compileJsonSchemas()
