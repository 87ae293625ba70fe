package testutils

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/mcuadros/go-defaults"
	"github.com/yudai/gojsondiff"
	"github.com/yudai/gojsondiff/formatter"
)

// PresencePlaceholder in expected JSON accepts any actual value for the key.
const PresencePlaceholder = "<<PRESENCE>>"

func MustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(data)
}

type JSONAssertOptions struct {
	IgnoreExtraKeys          bool     `default:"true"`
	AllowPresencePlaceholder bool     `default:"true"`
	IgnoredFields            []string `default:""`
	IgnoreArrayOrder         bool     `default:"false"`
}

// Option is a functional option for configuring JSONAsserter
type Option func(*JSONAssertOptions)

// JSONAsserter compares JSON documents structurally and reports a gojsondiff
// rendering of the difference.
type JSONAsserter struct {
	t       TestingT
	options JSONAssertOptions
}

// NewJSONAsserter creates a new JSONAsserter with default options
func NewJSONAsserter(t TestingT) *JSONAsserter {
	opts := JSONAssertOptions{}
	defaults.SetDefaults(&opts)
	return &JSONAsserter{t: t, options: opts}
}

// WithOptions applies functional options to the JSONAsserter
func (ja *JSONAsserter) WithOptions(opts ...Option) *JSONAsserter {
	for _, opt := range opts {
		opt(&ja.options)
	}
	return ja
}

func (ja *JSONAsserter) GetOptions() JSONAssertOptions {
	return ja.options
}

// Assert compares actualJSON against expectedJSON
func (ja *JSONAsserter) Assert(actualJSON, expectedJSON string) {
	if diff := ja.Diff(actualJSON, expectedJSON); diff != "" {
		ja.t.Errorf("JSON assertion failed:\n%s", diff)
	}
}

// AssertValue marshals v and compares it against expectedJSON
func (ja *JSONAsserter) AssertValue(v any, expectedJSON string) {
	ja.Assert(MustJSON(v), expectedJSON)
}

// Diff returns "" when the documents are equal under the configured options.
func (ja *JSONAsserter) Diff(actualJSON, expectedJSON string) string {
	var expected, actual interface{}
	if err := json.Unmarshal([]byte(expectedJSON), &expected); err != nil {
		return fmt.Sprintf("invalid expected JSON: %v", err)
	}
	if err := json.Unmarshal([]byte(actualJSON), &actual); err != nil {
		return fmt.Sprintf("invalid actual JSON: %v", err)
	}

	// gojsondiff only compares objects at the root
	if isArray(expected) || isArray(actual) {
		expected = map[string]interface{}{"array": expected}
		actual = map[string]interface{}{"array": actual}
	}

	if ja.options.AllowPresencePlaceholder {
		fillPresence(expected, actual)
	}
	if len(ja.options.IgnoredFields) > 0 {
		dropFields(expected, ja.options.IgnoredFields)
		dropFields(actual, ja.options.IgnoredFields)
	}
	if ja.options.IgnoreArrayOrder {
		sortArrays(expected)
		sortArrays(actual)
	}
	if ja.options.IgnoreExtraKeys {
		pruneExtraKeys(actual, expected)
	}

	expectedBytes, _ := json.Marshal(expected)
	actualBytes, _ := json.Marshal(actual)

	diff, err := gojsondiff.New().Compare(expectedBytes, actualBytes)
	if err != nil {
		return fmt.Sprintf("JSON comparison failed: %v", err)
	}
	if !diff.Modified() {
		return ""
	}

	f := formatter.NewAsciiFormatter(expected, formatter.AsciiFormatterConfig{ShowArrayIndex: true})
	out, _ := f.Format(diff)
	return out
}

func fillPresence(expected, actual interface{}) {
	switch exp := expected.(type) {
	case map[string]interface{}:
		act, ok := actual.(map[string]interface{})
		if !ok {
			return
		}
		for k, v := range exp {
			if s, ok := v.(string); ok && s == PresencePlaceholder {
				if av, present := act[k]; present {
					exp[k] = av
				}
				continue
			}
			fillPresence(v, act[k])
		}
	case []interface{}:
		act, ok := actual.([]interface{})
		if !ok {
			return
		}
		for i := range exp {
			if i < len(act) {
				fillPresence(exp[i], act[i])
			}
		}
	}
}

func pruneExtraKeys(actual, expected interface{}) {
	switch exp := expected.(type) {
	case map[string]interface{}:
		act, ok := actual.(map[string]interface{})
		if !ok {
			return
		}
		for k := range act {
			if _, exists := exp[k]; !exists {
				delete(act, k)
			}
		}
		for k := range exp {
			pruneExtraKeys(act[k], exp[k])
		}
	case []interface{}:
		act, ok := actual.([]interface{})
		if !ok {
			return
		}
		for i := range exp {
			if i < len(act) {
				pruneExtraKeys(act[i], exp[i])
			}
		}
	}
}

func dropFields(data interface{}, fields []string) {
	switch v := data.(type) {
	case map[string]interface{}:
		for _, f := range fields {
			delete(v, f)
		}
		for _, child := range v {
			dropFields(child, fields)
		}
	case []interface{}:
		for _, child := range v {
			dropFields(child, fields)
		}
	}
}

func sortArrays(data interface{}) {
	switch v := data.(type) {
	case map[string]interface{}:
		for _, child := range v {
			sortArrays(child)
		}
	case []interface{}:
		for _, child := range v {
			sortArrays(child)
		}
		sort.SliceStable(v, func(i, j int) bool {
			return MustJSON(v[i]) < MustJSON(v[j])
		})
	}
}

func isArray(v interface{}) bool {
	_, ok := v.([]interface{})
	return ok
}

// WithIgnoreExtraKeys sets whether keys present only in actual are ignored
func WithIgnoreExtraKeys(ignore bool) Option {
	return func(opts *JSONAssertOptions) {
		opts.IgnoreExtraKeys = ignore
	}
}

// WithAllowPresencePlaceholder sets whether to honor PresencePlaceholder values
func WithAllowPresencePlaceholder(allow bool) Option {
	return func(opts *JSONAssertOptions) {
		opts.AllowPresencePlaceholder = allow
	}
}

// WithIgnoredFields removes the named keys at every depth before comparing
func WithIgnoredFields(fields ...string) Option {
	return func(opts *JSONAssertOptions) {
		opts.IgnoredFields = fields
	}
}

// WithIgnoreArrayOrder sets whether to ignore array element order during comparison
func WithIgnoreArrayOrder(ignore bool) Option {
	return func(opts *JSONAssertOptions) {
		opts.IgnoreArrayOrder = ignore
	}
}
