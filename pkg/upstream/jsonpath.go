package upstream

import (
	"context"
	"fmt"

	"github.com/PaesslerAG/jsonpath"
	"gopkg.in/yaml.v3"

	"github.com/homelab-ops/mirrorsync/pkg/semver"
	"github.com/homelab-ops/mirrorsync/pkg/vhttpget"
)

// httpJSONPathSource fetches an arbitrary JSON document and extracts version
// strings with a JSONPath expression. It covers upstreams that publish their
// releases neither on GitHub nor on Docker Hub, e.g. vendor version feeds.
type httpJSONPathSource struct {
	spec     HTTPJSONPath
	resolver *Resolver
}

var _ Source = &httpJSONPathSource{}

func (s *httpJSONPathSource) Latest(ctx context.Context) (string, bool, error) {
	body, err := s.resolver.httpGetter.DoRequest(s.spec.URL, vhttpget.WithContext(ctx))
	if err != nil {
		return "", false, fmt.Errorf("fetching %s: %w", s.spec.URL, err)
	}

	// YAML being a superset of JSON, yaml.Unmarshal handles both and yields
	// the map[string]interface{} shapes jsonpath operates on.
	tmp := interface{}(nil)
	if err := yaml.Unmarshal([]byte(body), &tmp); err != nil {
		return "", false, fmt.Errorf("decoding %s: %w", s.spec.URL, err)
	}

	vs, err := extractVersionStrings(tmp, s.spec.Versions)
	if err != nil {
		return "", false, fmt.Errorf("extracting versions from %s: %w", s.spec.URL, err)
	}

	latest, ok := semver.Latest(vs)
	if !ok {
		return "", false, nil
	}

	return latest, true, nil
}

func extractVersionStrings(doc interface{}, path string) ([]string, error) {
	v, err := recursivelyCastKeysToStrings(doc)
	if err != nil {
		return nil, err
	}

	got, err := jsonpath.Get(path, v)
	if err != nil {
		return nil, err
	}

	raw := []interface{}{}
	switch typed := got.(type) {
	case []interface{}:
		raw = typed
	case map[string]interface{}:
		raw = append(raw, typed)
	case string:
		raw = append(raw, typed)
	default:
		return nil, fmt.Errorf("unexpected type of result from jsonpath %q: %T", path, typed)
	}

	vs := []string{}
	for _, r := range raw {
		switch typed := r.(type) {
		case map[string]interface{}:
			for k := range typed {
				vs = append(vs, k)
			}
		case string:
			vs = append(vs, typed)
		default:
			return nil, fmt.Errorf("jsonpath %q: unexpected element type %T", path, typed)
		}
	}

	return vs, nil
}

// recursivelyCastKeysToStrings converts map[interface{}]interface{} trees
// produced by the YAML decoder into map[string]interface{} trees, which is
// what the jsonpath library expects.
func recursivelyCastKeysToStrings(v interface{}) (interface{}, error) {
	switch typed := v.(type) {
	case map[interface{}]interface{}:
		out := map[string]interface{}{}
		for k, val := range typed {
			ks, ok := k.(string)
			if !ok {
				return nil, fmt.Errorf("unexpected non-string key %v of type %T", k, k)
			}
			cast, err := recursivelyCastKeysToStrings(val)
			if err != nil {
				return nil, err
			}
			out[ks] = cast
		}
		return out, nil
	case map[string]interface{}:
		out := map[string]interface{}{}
		for k, val := range typed {
			cast, err := recursivelyCastKeysToStrings(val)
			if err != nil {
				return nil, err
			}
			out[k] = cast
		}
		return out, nil
	case []interface{}:
		out := make([]interface{}, len(typed))
		for i, val := range typed {
			cast, err := recursivelyCastKeysToStrings(val)
			if err != nil {
				return nil, err
			}
			out[i] = cast
		}
		return out, nil
	default:
		return v, nil
	}
}
