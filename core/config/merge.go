package config

import (
	"reflect"
)

// mergeLayer copies the set fields of one configuration layer onto
// base. A zero field in the layer means the file did not mention that
// key, so the value from the lower-priority layer survives. Config is
// nested structs of scalars, so the walk recurses into structs and
// treats everything else as a leaf.
//
// One consequence of zero-means-unset: a layer cannot explicitly turn a
// defaulted-true flag off; flags meant to be disabled per layer need an
// env override.
func mergeLayer(base, layer *Config) {
	mergeStructFields(reflect.ValueOf(base).Elem(), reflect.ValueOf(layer).Elem())
}

func mergeStructFields(base, layer reflect.Value) {
	for i := 0; i < base.NumField(); i++ {
		baseField := base.Field(i)
		layerField := layer.Field(i)
		if !baseField.CanSet() {
			continue
		}
		if baseField.Kind() == reflect.Struct {
			mergeStructFields(baseField, layerField)
			continue
		}
		if !layerField.IsZero() {
			baseField.Set(layerField)
		}
	}
}
