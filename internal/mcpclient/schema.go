package mcpclient

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/anatolykoptev/mcpbridge/internal/toolreg"
)

// toolInfo converts listed tool metadata, rejecting tools that the backend
// could not be told about: an empty name, or an input schema that is not
// a JSON object or does not compile.
func toolInfo(t *mcp.Tool) (toolreg.ToolInfo, error) {
	if t == nil || t.Name == "" {
		return toolreg.ToolInfo{}, errors.New("tool with empty name")
	}
	params, err := inputSchema(t.Name, t.InputSchema)
	if err != nil {
		return toolreg.ToolInfo{}, err
	}
	return toolreg.ToolInfo{
		Name:        t.Name,
		Description: t.Description,
		Parameters:  params,
	}, nil
}

func inputSchema(tool string, schema any) (map[string]any, error) {
	if schema == nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}, nil
	}

	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("tool %s: encode input schema: %w", tool, err)
	}

	var params map[string]any
	if err := json.Unmarshal(raw, &params); err != nil || params == nil {
		return nil, fmt.Errorf("tool %s: input schema is not a JSON object", tool)
	}

	if err := compileSchema(tool, raw); err != nil {
		return nil, fmt.Errorf("tool %s: invalid input schema: %w", tool, err)
	}
	return params, nil
}

func compileSchema(tool string, raw []byte) error {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return err
	}
	loc := "mem:///tools/" + url.PathEscape(tool) + ".json"

	c := jsonschema.NewCompiler()
	if err := c.AddResource(loc, doc); err != nil {
		return err
	}
	_, err = c.Compile(loc)
	return err
}
