// Package features turns windows of validated samples into the flat numeric
// vectors both predictive models consume.
package features

import "sort"

// FeatureVector maps feature name to value. Keys that a window could not
// produce (too few points, zero variance) are simply absent; consumers read
// through Get, which defaults missing keys to zero, so the effective schema
// is fixed even when the computed set is partial.
type FeatureVector map[string]float64

// Get returns the named feature, defaulting to zero when absent.
func (v FeatureVector) Get(name string) float64 {
	return v[name]
}

// Has reports whether the window produced the named feature.
func (v FeatureVector) Has(name string) bool {
	_, ok := v[name]
	return ok
}

// Set stores a feature value.
func (v FeatureVector) Set(name string, value float64) {
	v[name] = value
}

// Merge copies all of other into v.
func (v FeatureVector) Merge(other FeatureVector) {
	for name, value := range other {
		v[name] = value
	}
}

// Names returns the present feature names in canonical (sorted) order.
func (v FeatureVector) Names() []string {
	names := make([]string, 0, len(v))
	for name := range v {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
