package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed schema.json
var schemaJSON []byte

const schemaURL = "contentmirror://config.schema.json"

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func configSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaJSON))
		if err != nil {
			schemaErr = err
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource(schemaURL, doc); err != nil {
			schemaErr = err
			return
		}
		compiledSchema, schemaErr = c.Compile(schemaURL)
	})
	return compiledSchema, schemaErr
}

// ValidateDocument checks a decoded YAML document against the config schema.
// The document is round-tripped through JSON so numbers and maps have the
// shapes the validator expects.
func ValidateDocument(doc any) error {
	if doc == nil {
		return &ConfigError{Reason: "config is empty"}
	}
	sch, err := configSchema()
	if err != nil {
		return err
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return &ConfigError{Reason: "config must use string keys: " + err.Error()}
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return &ConfigError{Reason: err.Error()}
	}
	if err := sch.Validate(inst); err != nil {
		var verr *jsonschema.ValidationError
		if errors.As(err, &verr) {
			return &ConfigError{Field: schemaLocation(verr), Reason: strings.TrimSpace(leafMessage(verr))}
		}
		return &ConfigError{Reason: err.Error()}
	}
	return nil
}

func schemaLocation(verr *jsonschema.ValidationError) string {
	for len(verr.Causes) > 0 {
		verr = verr.Causes[0]
	}
	return strings.Join(verr.InstanceLocation, ".")
}

func leafMessage(verr *jsonschema.ValidationError) string {
	for len(verr.Causes) > 0 {
		verr = verr.Causes[0]
	}
	return verr.Error()
}
