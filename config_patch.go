package agentrouter

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/ferro-labs/agent-router/internal/routeerr"
)

//go:embed config.schema.json
var configSchemaJSON string

const configSchemaURL = "config.schema.json"

var (
	schemaOnce  sync.Once
	patchSchema *jsonschema.Schema
	schemaErr   error
)

func configSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft7
		if err := c.AddResource(configSchemaURL, strings.NewReader(configSchemaJSON)); err != nil {
			schemaErr = fmt.Errorf("load config schema: %w", err)
			return
		}
		patchSchema, schemaErr = c.Compile(configSchemaURL)
	})
	return patchSchema, schemaErr
}

// Patch is a partial RouterConfig. A nil field means the key was absent
// from the update document.
type Patch struct {
	Models     *ModelsConfig
	Providers  map[string]ProviderConfig
	Routing    *RoutingConfig
	Monitoring *MonitoringConfig
}

// ParsePatch validates an update document and decodes it. Every violation
// found is reported together in a *routeerr.ValidationError; malformed JSON
// yields a *routeerr.ParseError.
func ParsePatch(data []byte) (Patch, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var instance any
	if err := dec.Decode(&instance); err != nil {
		return Patch{}, &routeerr.ParseError{Field: "config", Err: err}
	}

	schema, err := configSchema()
	if err != nil {
		return Patch{}, err
	}

	var violations []string
	if err := schema.Validate(instance); err != nil {
		var verr *jsonschema.ValidationError
		if !errors.As(err, &verr) {
			return Patch{}, fmt.Errorf("validate config: %w", err)
		}
		violations = collectViolations(verr, violations)
	}

	var doc struct {
		Models     *ModelsConfig             `json:"models"`
		Providers  map[string]ProviderConfig `json:"providers"`
		Routing    json.RawMessage           `json:"routing"`
		Monitoring json.RawMessage           `json:"monitoring"`
	}
	if len(violations) == 0 {
		if err := json.Unmarshal(data, &doc); err != nil {
			violations = append(violations, "config: "+err.Error())
		}
	}

	patch := Patch{Models: doc.Models, Providers: doc.Providers}
	if len(doc.Routing) > 0 {
		routing := DefaultRoutingConfig()
		if err := json.Unmarshal(doc.Routing, &routing); err != nil {
			violations = append(violations, "routing: "+err.Error())
		} else if _, err := regexp.Compile(routing.FastModelPattern); err != nil {
			violations = append(violations, "routing.fastModelPattern: invalid regular expression: "+err.Error())
		}
		patch.Routing = &routing
	}
	if len(doc.Monitoring) > 0 {
		monitoring := DefaultConfig().Monitoring
		if err := json.Unmarshal(doc.Monitoring, &monitoring); err != nil {
			violations = append(violations, "monitoring: "+err.Error())
		}
		patch.Monitoring = &monitoring
	}

	if len(violations) > 0 {
		sort.Strings(violations)
		return Patch{}, &routeerr.ValidationError{Violations: dedupe(violations)}
	}
	return patch, nil
}

// Apply shallow-merges the patch over base: each present top-level key
// replaces the corresponding value entirely.
func (p Patch) Apply(base RouterConfig) RouterConfig {
	out := base.Clone()
	if p.Models != nil {
		out.Models = *p.Models
	}
	if p.Providers != nil {
		out.Providers = RouterConfig{Providers: p.Providers}.Clone().Providers
	}
	if p.Routing != nil {
		out.Routing = *p.Routing
	}
	if p.Monitoring != nil {
		out.Monitoring = *p.Monitoring
	}
	return out
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.Models == nil && p.Providers == nil && p.Routing == nil && p.Monitoring == nil
}

// ValidateConfig checks a complete configuration against the same rules as
// an update that sets every key.
func ValidateConfig(cfg RouterConfig) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	_, err = ParsePatch(data)
	return err
}

// collectViolations flattens the cause tree into "location: message" lines,
// one per leaf, so a single pass reports every problem.
func collectViolations(verr *jsonschema.ValidationError, out []string) []string {
	if len(verr.Causes) == 0 {
		loc := formatLocation(verr.InstanceLocation)
		if keys, ok := missingKeys(verr); ok {
			for _, key := range keys {
				if loc == "config" {
					out = append(out, key+": missing")
				} else {
					out = append(out, loc+"."+key+": missing")
				}
			}
			return out
		}
		return append(out, loc+": "+verr.Message)
	}
	for _, cause := range verr.Causes {
		out = collectViolations(cause, out)
	}
	return out
}

// missingKeys splits a "required" failure, which names every absent key in
// one message, so each key becomes its own violation.
func missingKeys(verr *jsonschema.ValidationError) ([]string, bool) {
	list, ok := strings.CutPrefix(verr.Message, "missing properties: ")
	if !ok {
		return nil, false
	}
	var keys []string
	for _, k := range strings.Split(list, ", ") {
		if k = strings.Trim(k, "'"); k != "" {
			keys = append(keys, k)
		}
	}
	return keys, len(keys) > 0
}

func formatLocation(ptr string) string {
	ptr = strings.Trim(ptr, "/")
	if ptr == "" {
		return "config"
	}
	parts := strings.Split(ptr, "/")
	for i, part := range parts {
		part = strings.ReplaceAll(part, "~1", "/")
		parts[i] = strings.ReplaceAll(part, "~0", "~")
	}
	return strings.Join(parts, ".")
}

func dedupe(sorted []string) []string {
	out := sorted[:0]
	for i, v := range sorted {
		if i > 0 && v == sorted[i-1] {
			continue
		}
		out = append(out, v)
	}
	return out
}
