package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// FeatureSet is a set of feature keys stored as a JSON array column.
type FeatureSet []string

// Value implements driver.Valuer for GORM.
func (fs FeatureSet) Value() (driver.Value, error) {
	if fs == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(fs))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner for GORM.
func (fs *FeatureSet) Scan(value interface{}) error {
	if value == nil {
		*fs = FeatureSet{}
		return nil
	}

	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type for FeatureSet: %T", value)
	}

	if len(data) == 0 {
		*fs = FeatureSet{}
		return nil
	}

	var keys []string
	if err := json.Unmarshal(data, &keys); err != nil {
		return fmt.Errorf("failed to unmarshal feature set: %w", err)
	}
	*fs = FeatureSet(keys)
	return nil
}

// Contains reports whether the set holds the given key.
func (fs FeatureSet) Contains(key string) bool {
	for _, k := range fs {
		if k == key {
			return true
		}
	}
	return false
}

// ContainsAll reports whether every key of other is present in the set.
func (fs FeatureSet) ContainsAll(other FeatureSet) bool {
	for _, k := range other {
		if !fs.Contains(k) {
			return false
		}
	}
	return true
}
