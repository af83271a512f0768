package job

import "maps"

// Data is the string-keyed payload handed to a job on each fire.
type Data map[string]any

// Clone returns a shallow copy; nil stays nil.
func (d Data) Clone() Data {
	if d == nil {
		return nil
	}
	return maps.Clone(d)
}

// Merge layers maps left to right: later keys win. The result is never nil.
func Merge(layers ...Data) Data {
	n := 0
	for _, l := range layers {
		n += len(l)
	}
	out := make(Data, n)
	for _, l := range layers {
		for k, v := range l {
			out[k] = v
		}
	}
	return out
}

// String returns the value for key when it is a string.
func (d Data) String(key string) (string, bool) {
	v, ok := d[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}
