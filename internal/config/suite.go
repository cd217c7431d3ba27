package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

// Operation kinds understood by the CLI.
const (
	OperationSleep = "sleep"
	OperationHTTP  = "http"
)

// Suite is a declarative list of evaluations.
type Suite struct {
	Evaluations []EvaluationSpec `yaml:"evaluations"`
}

// EvaluationSpec declares one evaluation: what to run and what it must meet.
// A nil Requirements means the run passes automatically.
type EvaluationSpec struct {
	Name         string        `yaml:"name"`
	Group        string        `yaml:"group"`
	Config       Evaluation    `yaml:"config"`
	Requirements *Requirements `yaml:"requirements"`
	Operation    OperationSpec `yaml:"operation"`
}

// UnmarshalYAML fills in DefaultEvaluation when config is omitted.
func (s *EvaluationSpec) UnmarshalYAML(value *yaml.Node) error {
	type plain EvaluationSpec
	out := plain{Config: DefaultEvaluation()}
	if err := value.Decode(&out); err != nil {
		return err
	}
	*s = EvaluationSpec(out)
	return nil
}

// OperationSpec describes the operation under evaluation.
type OperationSpec struct {
	Kind         string        `yaml:"kind"`
	Sleep        time.Duration `yaml:"sleep"`
	URL          string        `yaml:"url"`
	Method       string        `yaml:"method"`
	Timeout      time.Duration `yaml:"timeout"`
	ExpectStatus int           `yaml:"expect_status"`
}

// LoadSuite reads and validates a suite file.
func LoadSuite(path string) (*Suite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read suite: %w", err)
	}
	return ParseSuite(data)
}

// ParseSuite validates data against the suite schema and decodes it.
func ParseSuite(data []byte) (*Suite, error) {
	var doc interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(suiteSchema),
		gojsonschema.NewGoLoader(normalize(doc)),
	)
	if err != nil {
		return nil, fmt.Errorf("config: schema validation: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return nil, fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
	}

	var suite Suite
	if err := yaml.Unmarshal(data, &suite); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	seen := make(map[string]bool, len(suite.Evaluations))
	for _, spec := range suite.Evaluations {
		key := spec.Group + "/" + spec.Name
		if seen[key] {
			return nil, fmt.Errorf("%w: duplicate evaluation %q", ErrInvalidConfig, key)
		}
		seen[key] = true

		if err := spec.Config.Validate(); err != nil {
			return nil, fmt.Errorf("evaluation %q: %w", spec.Name, err)
		}
		if spec.Requirements != nil {
			if err := spec.Requirements.Validate(); err != nil {
				return nil, fmt.Errorf("evaluation %q: %w", spec.Name, err)
			}
		}
	}
	return &suite, nil
}

// normalize turns non-string mapping keys into strings so the document can be
// marshalled to JSON for schema validation.
func normalize(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		for k, val := range t {
			t[k] = normalize(val)
		}
		return t
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = normalize(val)
		}
		return out
	case []interface{}:
		for i, val := range t {
			t[i] = normalize(val)
		}
		return t
	default:
		return v
	}
}

const suiteSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["evaluations"],
  "additionalProperties": false,
  "properties": {
    "evaluations": {
      "type": "array",
      "minItems": 1,
      "items": {"$ref": "#/definitions/evaluation"}
    }
  },
  "definitions": {
    "duration": {
      "type": "string",
      "pattern": "^([0-9]+(\\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$"
    },
    "evaluation": {
      "type": "object",
      "required": ["name", "operation"],
      "additionalProperties": false,
      "properties": {
        "name": {"type": "string", "minLength": 1},
        "group": {"type": "string"},
        "config": {"$ref": "#/definitions/config"},
        "requirements": {"$ref": "#/definitions/requirements"},
        "operation": {"$ref": "#/definitions/operation"}
      }
    },
    "config": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "threads": {"type": "integer"},
        "duration": {"$ref": "#/definitions/duration"},
        "warm_up": {"$ref": "#/definitions/duration"},
        "rate_limit": {"type": "integer"},
        "ramp_up": {"$ref": "#/definitions/duration"},
        "total_executions": {"type": "integer"},
        "async": {"type": "boolean"},
        "stop_grace": {"$ref": "#/definitions/duration"}
      }
    },
    "requirements": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "executions_per_sec": {"type": "number"},
        "allowed_error_percentage": {"type": "number"},
        "min_latency_ms": {"type": "number"},
        "max_latency_ms": {"type": "number"},
        "mean_latency_ms": {"type": "number"},
        "percentiles": {"type": ["string", "object"]}
      }
    },
    "operation": {
      "type": "object",
      "required": ["kind"],
      "additionalProperties": false,
      "properties": {
        "kind": {"enum": ["sleep", "http"]},
        "sleep": {"$ref": "#/definitions/duration"},
        "url": {"type": "string"},
        "method": {"type": "string"},
        "timeout": {"$ref": "#/definitions/duration"},
        "expect_status": {"type": "integer"}
      }
    }
  }
}`
