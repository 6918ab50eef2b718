package protocol

import (
	"bytes"
	"embed"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/clbarrell/cube-builder/internal/game"
)

//go:embed schemas/*.json
var schemaFS embed.FS

const schemaBase = "https://cube-builder.local/schemas/"

// inboundSchemas maps each client event to its payload schema file.
var inboundSchemas = map[string]string{
	game.EventPlayerJoin: "player_join.json",
	game.EventPlayerMove: "player_move.json",
	game.EventCubeAdd:    "cube_add.json",
	game.EventCubeRemove: "cube_remove.json",
	game.EventCommand:    "server_command.json",
}

var schemas = mustCompileSchemas()

func mustCompileSchemas() map[string]*jsonschema.Schema {
	s, err := compileSchemas()
	if err != nil {
		panic(err)
	}
	return s
}

func compileSchemas() (map[string]*jsonschema.Schema, error) {
	entries, err := schemaFS.ReadDir("schemas")
	if err != nil {
		return nil, err
	}

	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	for _, e := range entries {
		data, err := schemaFS.ReadFile("schemas/" + e.Name())
		if err != nil {
			return nil, err
		}
		if err := c.AddResource(schemaBase+e.Name(), bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("add schema %s: %w", e.Name(), err)
		}
	}

	out := make(map[string]*jsonschema.Schema, len(inboundSchemas))
	for event, file := range inboundSchemas {
		s, err := c.Compile(schemaBase + file)
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", file, err)
		}
		out[event] = s
	}
	return out, nil
}
