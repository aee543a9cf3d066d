package config

import (
	"strconv"
	"strings"
	"sync"
)

// Section provides typed access to one configuration section.
type Section struct {
	name    string
	options map[string]string

	mu       sync.Mutex
	accessed map[string]struct{}
}

func newSection(name string, options map[string]string) *Section {
	opts := make(map[string]string, len(options))
	for k, v := range options {
		opts[strings.ToLower(k)] = v
	}
	return &Section{
		name:     name,
		options:  opts,
		accessed: make(map[string]struct{}),
	}
}

// Name returns the section name, e.g. "fan" or "temperature_fan hotend".
func (s *Section) Name() string { return s.name }

func (s *Section) markAccessed(option string) {
	s.mu.Lock()
	s.accessed[strings.ToLower(option)] = struct{}{}
	s.mu.Unlock()
}

// UnusedOptions returns options present in the file that were never read.
func (s *Section) UnusedOptions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []string
	for opt := range s.options {
		if _, ok := s.accessed[opt]; !ok {
			result = append(result, opt)
		}
	}
	return result
}

// HasOption reports whether the option is present.
func (s *Section) HasOption(option string) bool {
	_, ok := s.options[strings.ToLower(option)]
	return ok
}

// Get returns a string option. A fallback makes the option optional.
func (s *Section) Get(option string, fallback ...string) (string, error) {
	if v, ok := s.options[strings.ToLower(option)]; ok {
		s.markAccessed(option)
		return v, nil
	}
	if len(fallback) > 0 {
		s.markAccessed(option)
		return fallback[0], nil
	}
	return "", errMissingOption(s.name, option)
}

// GetInt returns an integer option.
func (s *Section) GetInt(option string, fallback ...int) (int, error) {
	if v, ok := s.options[strings.ToLower(option)]; ok {
		s.markAccessed(option)
		i, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, errBadValue(s.name, option, v, "integer")
		}
		return i, nil
	}
	if len(fallback) > 0 {
		s.markAccessed(option)
		return fallback[0], nil
	}
	return 0, errMissingOption(s.name, option)
}

// GetIntAtLeast returns an integer option that must be >= min.
func (s *Section) GetIntAtLeast(option string, min int, fallback ...int) (int, error) {
	v, err := s.GetInt(option, fallback...)
	if err != nil {
		return 0, err
	}
	if v < min {
		return 0, errOutOfRange(s.name, option, float64(v), "must have minimum of "+strconv.Itoa(min))
	}
	return v, nil
}

// GetFloat returns a float option.
func (s *Section) GetFloat(option string, fallback ...float64) (float64, error) {
	if v, ok := s.options[strings.ToLower(option)]; ok {
		s.markAccessed(option)
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, errBadValue(s.name, option, v, "float")
		}
		return f, nil
	}
	if len(fallback) > 0 {
		s.markAccessed(option)
		return fallback[0], nil
	}
	return 0, errMissingOption(s.name, option)
}

// Bounds constrains a float option. Nil fields are unconstrained.
// MinVal/MaxVal are inclusive; Above/Below are exclusive.
type Bounds struct {
	MinVal *float64
	MaxVal *float64
	Above  *float64
	Below  *float64
}

// Float returns a pointer to v, for building Bounds literals.
func Float(v float64) *float64 { return &v }

// GetFloatBounded returns a float option checked against the given bounds.
func (s *Section) GetFloatBounded(option string, b Bounds, fallback ...float64) (float64, error) {
	v, err := s.GetFloat(option, fallback...)
	if err != nil {
		return 0, err
	}
	format := func(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }
	if b.MinVal != nil && v < *b.MinVal {
		return 0, errOutOfRange(s.name, option, v, "must have minimum of "+format(*b.MinVal))
	}
	if b.MaxVal != nil && v > *b.MaxVal {
		return 0, errOutOfRange(s.name, option, v, "must have maximum of "+format(*b.MaxVal))
	}
	if b.Above != nil && v <= *b.Above {
		return 0, errOutOfRange(s.name, option, v, "must be above "+format(*b.Above))
	}
	if b.Below != nil && v >= *b.Below {
		return 0, errOutOfRange(s.name, option, v, "must be below "+format(*b.Below))
	}
	return v, nil
}

// GetBool returns a boolean option.
// Accepts 1/true/yes/on and 0/false/no/off.
func (s *Section) GetBool(option string, fallback ...bool) (bool, error) {
	if v, ok := s.options[strings.ToLower(option)]; ok {
		s.markAccessed(option)
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "on":
			return true, nil
		case "0", "false", "no", "off":
			return false, nil
		}
		return false, errBadValue(s.name, option, v, "boolean (true/false/yes/no/on/off/1/0)")
	}
	if len(fallback) > 0 {
		s.markAccessed(option)
		return fallback[0], nil
	}
	return false, errMissingOption(s.name, option)
}

// GetChoice returns a string option that must match one of the choices.
func (s *Section) GetChoice(option string, choices []string, fallback ...string) (string, error) {
	v, err := s.Get(option, fallback...)
	if err != nil {
		return "", err
	}
	for _, c := range choices {
		if strings.EqualFold(v, c) {
			return c, nil
		}
	}
	return "", NewError(s.name, option, "'%s' is not a valid choice (valid: %v)", v, choices)
}

// GetList returns a string option split on the separator, entries trimmed.
func (s *Section) GetList(option string, sep string, fallback ...[]string) ([]string, error) {
	if v, ok := s.options[strings.ToLower(option)]; ok {
		s.markAccessed(option)
		v = strings.TrimSpace(v)
		if v == "" {
			return []string{}, nil
		}
		parts := strings.Split(v, sep)
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				result = append(result, p)
			}
		}
		return result, nil
	}
	if len(fallback) > 0 {
		s.markAccessed(option)
		return fallback[0], nil
	}
	return nil, errMissingOption(s.name, option)
}
