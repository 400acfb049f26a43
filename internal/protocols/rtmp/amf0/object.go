package amf0

// ObjectEntry is an entry of Object.
type ObjectEntry struct {
	Key   string
	Value interface{}
}

// Object is an AMF0 object. Entries keep their insertion order.
type Object []ObjectEntry

// ECMAArray is an AMF0 ECMA Array.
type ECMAArray Object

// StrictArray is an AMF0 Strict Array.
type StrictArray []interface{}

// Undefined is an AMF0 undefined value.
type Undefined struct{}

// Date is an AMF0 date.
type Date struct {
	// milliseconds since the Unix epoch.
	Value float64

	// time zone offset in minutes. Encoders are supposed to leave it at zero.
	TimezoneOffset int16
}

// Get returns the value corresponding to key.
func (o Object) Get(key string) (interface{}, bool) {
	for _, item := range o {
		if item.Key == key {
			return item.Value, true
		}
	}
	return nil, false
}

// GetString returns the value corresponding to key, only if that is a string.
func (o Object) GetString(key string) (string, bool) {
	v, ok := o.Get(key)
	if !ok {
		return "", false
	}

	v2, ok2 := v.(string)
	if !ok2 {
		return "", false
	}

	return v2, ok2
}

// GetFloat64 returns the value corresponding to key, only if that is a float64.
func (o Object) GetFloat64(key string) (float64, bool) {
	v, ok := o.Get(key)
	if !ok {
		return 0, false
	}

	v2, ok2 := v.(float64)
	if !ok2 {
		return 0, false
	}

	return v2, ok2
}

// GetBoolean returns the value corresponding to key, only if that is a boolean.
func (o Object) GetBoolean(key string) (bool, bool) {
	v, ok := o.Get(key)
	if !ok {
		return false, false
	}

	v2, ok2 := v.(bool)
	if !ok2 {
		return false, false
	}

	return v2, ok2
}

// Set sets the value corresponding to key.
// An existing entry with the same key is removed first.
func (o Object) Set(key string, value interface{}) Object {
	for i := range o {
		if o[i].Key == key {
			o = append(o[:i], o[i+1:]...)
			break
		}
	}
	return append(o, ObjectEntry{Key: key, Value: value})
}
