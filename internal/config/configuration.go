package config

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
)

// Configuration is a flat set of string properties. A Configuration is built
// per test, patched before the adapter or table is opened and then thrown
// away. It is not safe for concurrent mutation.
type Configuration struct {
	props map[string]string
}

// New returns an empty Configuration.
func New() *Configuration {
	return &Configuration{props: make(map[string]string)}
}

// FromMap returns a Configuration holding a copy of m.
func FromMap(m map[string]string) *Configuration {
	c := New()
	maps.Copy(c.props, m)
	return c
}

// Lookup returns the raw value for key and whether it was set.
func (c *Configuration) Lookup(key string) (string, bool) {
	v, ok := c.props[key]
	return v, ok
}

// Get returns the raw value for key, or "" when unset.
func (c *Configuration) Get(key string) string {
	return c.props[key]
}

// GetTrimmed returns the value for key with surrounding whitespace removed.
func (c *Configuration) GetTrimmed(key string) string {
	return strings.TrimSpace(c.props[key])
}

// GetBool parses key as a boolean, returning def when unset or blank.
func (c *Configuration) GetBool(key string, def bool) (bool, error) {
	raw := c.GetTrimmed(key)
	if raw == "" {
		return def, nil
	}

	v, err := strconv.ParseBool(raw)
	if err != nil {
		return def, &ValidationError{Key: key, Value: raw, Reason: "not a boolean"}
	}
	return v, nil
}

// GetInt parses key as an integer, returning def when unset or blank.
func (c *Configuration) GetInt(key string, def int) (int, error) {
	raw := c.GetTrimmed(key)
	if raw == "" {
		return def, nil
	}

	v, err := strconv.Atoi(raw)
	if err != nil {
		return def, &ValidationError{Key: key, Value: raw, Reason: "not an integer"}
	}
	return v, nil
}

// Set stores value under key.
func (c *Configuration) Set(key, value string) {
	c.props[key] = value
}

// SetInt stores the decimal form of value under key.
func (c *Configuration) SetInt(key string, value int) {
	c.props[key] = strconv.Itoa(value)
}

// SetBool stores the canonical form of value under key.
func (c *Configuration) SetBool(key string, value bool) {
	c.props[key] = strconv.FormatBool(value)
}

// Unset removes key. Removing an absent key is a no-op.
func (c *Configuration) Unset(key string) {
	delete(c.props, key)
}

// PropsWithPrefix returns every property whose key starts with prefix, keyed
// by the remainder of the key.
func (c *Configuration) PropsWithPrefix(prefix string) map[string]string {
	out := make(map[string]string)
	for k, v := range c.props {
		if rest, ok := strings.CutPrefix(k, prefix); ok {
			out[rest] = v
		}
	}
	return out
}

// Keys returns all property names in sorted order.
func (c *Configuration) Keys() []string {
	return slices.Sorted(maps.Keys(c.props))
}

// Len reports the number of properties set.
func (c *Configuration) Len() int {
	return len(c.props)
}

// Clone returns an independent copy.
func (c *Configuration) Clone() *Configuration {
	return FromMap(c.props)
}

// Equal reports whether both configurations hold exactly the same
// properties.
func (c *Configuration) Equal(other *Configuration) bool {
	return maps.Equal(c.props, other.props)
}

// Map returns a copy of the underlying properties.
func (c *Configuration) Map() map[string]string {
	return maps.Clone(c.props)
}

// BucketKey returns the per-bucket override form of an adapter option:
// fs.s3a.server-side-encryption.key for bucket "data" becomes
// fs.s3a.bucket.data.server-side-encryption.key.
func BucketKey(bucket, key string) string {
	return bucketPrefix + bucket + "." + strings.TrimPrefix(key, basePrefix)
}

// RemoveBaseAndBucketOverrides unsets every given option both in its base
// form and in its per-bucket override form for bucket. An empty bucket only
// clears the base options.
func (c *Configuration) RemoveBaseAndBucketOverrides(bucket string, keys ...string) {
	for _, key := range keys {
		c.Unset(key)
		if bucket != "" {
			c.Unset(BucketKey(bucket, key))
		}
	}
}

// ForBucket returns a copy in which every fs.s3a.bucket.<bucket>.* option is
// promoted over its base option, the view an adapter for that bucket sees.
func (c *Configuration) ForBucket(bucket string) *Configuration {
	out := c.Clone()
	if bucket == "" {
		return out
	}

	for option, value := range c.PropsWithPrefix(bucketPrefix + bucket + ".") {
		out.Set(basePrefix+option, value)
	}
	return out
}

// String renders the configuration as sorted key=value lines.
func (c *Configuration) String() string {
	var b strings.Builder
	for _, k := range c.Keys() {
		fmt.Fprintf(&b, "%s=%s\n", k, c.props[k])
	}
	return b.String()
}
