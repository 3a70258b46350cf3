package bundle

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema.json
var schemaJSON []byte

const schemaURL = "inmemory://airgap/bundle-spec.json"

var specSchema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	if err := compiler.AddResource(schemaURL, bytes.NewReader(schemaJSON)); err != nil {
		panic(fmt.Errorf("bundle: add schema resource: %w", err))
	}
	schema, err := compiler.Compile(schemaURL)
	if err != nil {
		panic(fmt.Errorf("bundle: compile schema: %w", err))
	}
	return schema
}

// ParseSpec decodes and validates a raw bundle specification.
// It returns a *ValidationError that lists every problem found.
func ParseSpec(raw []byte) (*Spec, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, &ValidationError{Issues: []string{fmt.Sprintf("invalid JSON: %v", err)}}
	}

	if err := specSchema.Validate(doc); err != nil {
		var schemaErr *jsonschema.ValidationError
		if errors.As(err, &schemaErr) {
			return nil, &ValidationError{Issues: schemaIssues(schemaErr)}
		}
		return nil, fmt.Errorf("parse spec: %w", err)
	}

	var v specJSON
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, &ValidationError{Issues: []string{fmt.Sprintf("invalid JSON: %v", err)}}
	}

	var issues []string
	switch v.Target {
	case TargetDocker:
		if len(v.Images) == 0 {
			issues = append(issues, "images: at least one image is required for target docker")
		}
		issues = appendNotAllowed(issues, v.Target, "npm", len(v.NPM) > 0)
		issues = appendNotAllowed(issues, v.Target, "pip", len(v.Pip) > 0)
		issues = appendNotAllowed(issues, v.Target, "apt", len(v.Apt) > 0)
		issues = appendNotAllowed(issues, v.Target, "distroImage", v.DistroImage != "")
	case TargetHost:
		if len(v.NPM)+len(v.Pip)+len(v.Apt) == 0 {
			issues = append(issues, "npm, pip, apt: at least one package is required for target host")
		}
		issues = appendNotAllowed(issues, v.Target, "images", len(v.Images) > 0)
		issues = appendNotAllowed(issues, v.Target, "platform", v.Platform != "")
		issues = appendNotAllowed(issues, v.Target, "distroImage", v.DistroImage != "" && len(v.Apt) == 0)
	default:
		issues = append(issues, fmt.Sprintf("target: unknown target %q", v.Target))
	}
	if len(issues) > 0 {
		return nil, &ValidationError{Issues: issues}
	}

	spec := &Spec{Target: v.Target}
	switch v.Target {
	case TargetDocker:
		spec.Docker = &DockerSpec{Images: v.Images, Platform: v.Platform}
	case TargetHost:
		spec.Host = &HostSpec{NPM: v.NPM, Pip: v.Pip, Apt: v.Apt, DistroImage: v.DistroImage}
	}
	return spec, nil
}

func appendNotAllowed(issues []string, target Target, field string, present bool) []string {
	if !present {
		return issues
	}
	return append(issues, fmt.Sprintf("%s: not allowed for target %s", field, target))
}

// schemaIssues flattens the leaves of a schema validation error tree.
func schemaIssues(err *jsonschema.ValidationError) []string {
	if len(err.Causes) == 0 {
		location := err.InstanceLocation
		if location == "" {
			location = "spec"
		}
		return []string{fmt.Sprintf("%s: %s", location, err.Message)}
	}
	var issues []string
	for _, cause := range err.Causes {
		issues = append(issues, schemaIssues(cause)...)
	}
	return issues
}

// ResolvePlatform returns the platform the spec asks for, or fallback when it doesn't.
func ResolvePlatform(spec *Spec, fallback Platform) Platform {
	if spec.Docker != nil && spec.Docker.Platform != "" {
		return spec.Docker.Platform
	}
	if fallback == "" {
		return DefaultPlatform
	}
	return fallback
}
