package validation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const agentSchemaURL = "https://roster.schemas.local/agent.schema.json"

// AgentSchema describes the JSON shape of an agent record on the wire. The
// id is optional so that creation requests may omit it.
const AgentSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["name", "email", "status"],
  "properties": {
    "id":     {"type": "string"},
    "name":   {"type": "string", "minLength": 1},
    "email":  {"type": "string", "minLength": 3},
    "status": {"enum": ["Active", "Inactive"]}
  },
  "additionalProperties": false
}`

var (
	agentSchemaOnce sync.Once
	agentSchema     *jsonschema.Schema
	agentSchemaErr  error
)

func compiledAgentSchema() (*jsonschema.Schema, error) {
	agentSchemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		if err := c.AddResource(agentSchemaURL, strings.NewReader(AgentSchema)); err != nil {
			agentSchemaErr = fmt.Errorf("agent schema load failed: %w", err)
			return
		}
		agentSchema, agentSchemaErr = c.Compile(agentSchemaURL)
		if agentSchemaErr != nil {
			agentSchemaErr = fmt.Errorf("agent schema compile failed: %w", agentSchemaErr)
		}
	})
	return agentSchema, agentSchemaErr
}

// ValidateAgentJSON checks a raw request body against AgentSchema
func ValidateAgentJSON(data []byte) error {
	schema, err := compiledAgentSchema()
	if err != nil {
		return err
	}

	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()

	var doc interface{}
	if err := decoder.Decode(&doc); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}

	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("agent does not match schema: %w", err)
	}
	return nil
}
