package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/emilyzhang/scrapr/extract"
)

// Resource is a web resource polled on a fixed period. It is immutable once
// loaded.
type Resource struct {
	// Name identifies the resource in logs and emissions. It defaults to URL.
	Name         string
	URL          string
	Period       time.Duration
	Targets      extract.Targets
	Continuation *extract.Continuation
}

type rawResource struct {
	Name         string               `mapstructure:"name"`
	URL          string               `mapstructure:"url" validate:"required,url"`
	Period       time.Duration        `mapstructure:"period" validate:"gt=0"`
	Targets      map[string]rawTarget `mapstructure:"targets" validate:"omitempty,dive"`
	Continuation *rawContinuation     `mapstructure:"continuation"`
}

type rawTarget struct {
	Path    string               `mapstructure:"path" validate:"required"`
	Extract any                  `mapstructure:"extract"`
	Then    map[string]rawTarget `mapstructure:"then" validate:"omitempty,dive"`
}

type rawContinuation struct {
	Ref string `mapstructure:"ref" validate:"required"`
}

var decoders = map[string]func([]byte, any) error{
	"yaml": yaml.Unmarshal,
	"yml":  yaml.Unmarshal,
	"json": json.Unmarshal,
	"toml": toml.Unmarshal,
}

// LoadResources reads the resources section of the config file at path.
// It is decoded apart from the other settings so target names keep their
// case.
func LoadResources(path string) ([]Resource, error) {
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	decode, ok := decoders[strings.ToLower(ext)]
	if !ok {
		return nil, fmt.Errorf("unsupported config format %q", ext)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	var doc map[string]any
	if err := decode(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return DecodeResources(doc["resources"])
}

// DecodeResources maps the generic form of a resource list (as produced by a
// YAML, JSON or TOML decoder) onto validated resources.
func DecodeResources(input any) ([]Resource, error) {
	var raws []rawResource
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       periodHook,
		ErrorUnused:      true,
		WeaklyTypedInput: false,
		Result:           &raws,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(input); err != nil {
		return nil, fmt.Errorf("failed to decode resources: %w", err)
	}
	if len(raws) == 0 {
		return nil, ErrNoResources
	}

	resources := make([]Resource, 0, len(raws))
	names := make(map[string]int, len(raws))
	for i, raw := range raws {
		res, err := raw.build()
		if err != nil {
			return nil, fmt.Errorf("resource %d: %w", i, err)
		}
		if prev, dup := names[res.Name]; dup {
			return nil, fmt.Errorf("resource %d: name %q already used by resource %d", i, res.Name, prev)
		}
		names[res.Name] = i
		resources = append(resources, res)
	}
	return resources, nil
}

// checkScheme accepts web pages and local files.
func checkScheme(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL %q: %w", raw, err)
	}
	switch u.Scheme {
	case "http", "https", "file":
		return nil
	default:
		return fmt.Errorf("unsupported URL scheme %q in %s", u.Scheme, raw)
	}
}

func (r rawResource) build() (Resource, error) {
	if err := validate.Struct(r); err != nil {
		return Resource{}, err
	}
	if err := checkScheme(r.URL); err != nil {
		return Resource{}, err
	}
	res := Resource{
		Name:   r.Name,
		URL:    r.URL,
		Period: r.Period,
	}
	if res.Name == "" {
		res.Name = r.URL
	}

	if r.Targets != nil {
		targets, err := buildTargets(r.Targets, "targets")
		if err != nil {
			return Resource{}, err
		}
		res.Targets = targets
	}
	if r.Continuation != nil {
		ref, err := extract.CompilePath(r.Continuation.Ref)
		if err != nil {
			return Resource{}, fmt.Errorf("continuation: %w", err)
		}
		res.Continuation = &extract.Continuation{Ref: ref}
	}
	return res, nil
}

func buildTargets(raws map[string]rawTarget, at string) (extract.Targets, error) {
	targets := make(extract.Targets, len(raws))
	for name, raw := range raws {
		where := at + "." + name
		path, err := extract.CompilePath(raw.Path)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", where, err)
		}
		rule, err := extract.ParseRule(raw.Extract)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", where, err)
		}
		node := &extract.TargetNode{Name: name, Path: path, Extract: rule}
		if raw.Then != nil {
			if node.Then, err = buildTargets(raw.Then, where+".then"); err != nil {
				return nil, err
			}
		}
		targets[name] = node
	}
	return targets, nil
}

var durationType = reflect.TypeOf(time.Duration(0))

// periodHook decodes a duration from a Go duration string ("1m30s"), a
// number of seconds, or a {secs, nanos} table.
func periodHook(_ reflect.Type, to reflect.Type, data any) (any, error) {
	if to != durationType {
		return data, nil
	}
	switch v := data.(type) {
	case string:
		return time.ParseDuration(v)
	case map[string]any:
		var secs, nanos float64
		for key, val := range v {
			n, ok := toFloat(val)
			if !ok {
				return nil, fmt.Errorf("period %s must be a number, got %T", key, val)
			}
			switch key {
			case "secs":
				secs = n
			case "nanos":
				nanos = n
			default:
				return nil, fmt.Errorf("unknown period field %q", key)
			}
		}
		return time.Duration(secs*float64(time.Second)) + time.Duration(nanos), nil
	}
	if n, ok := toFloat(data); ok {
		return time.Duration(n * float64(time.Second)), nil
	}
	return data, nil
}

func toFloat(v any) (float64, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}
	return 0, false
}
