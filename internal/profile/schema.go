package profile

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Kind is the value type a profile field accepts.
type Kind int

const (
	KindString Kind = iota
	KindNumber
	KindInteger
	KindList
	KindChoice
)

// Field describes a known profile key.
type Field struct {
	Key     string
	Label   string
	Kind    Kind
	Min     float64
	Max     float64
	Choices []string
}

// Keys written by the student form, plus the stage output the ranking
// stage stores back into the profile.
const (
	KeyName                 = "name"
	KeyEmail                = "email"
	KeyBTechCollege         = "btech_college"
	KeyBTechCGPA            = "btech_cgpa"
	KeyBTechCourse          = "btech_course"
	KeyPreferredCourse      = "preferred_course"
	KeyTenthPercentage      = "tenth_percentage"
	KeyTwelfthPercentage    = "twelfth_percentage"
	KeyGREScore             = "gre_score"
	KeyIELTSScore           = "ielts_score"
	KeyProjects             = "projects"
	KeyAwards               = "awards"
	KeyWorkExperience       = "work_experience"
	KeyIntakePeriod         = "intake_period"
	KeyIntakeYear           = "intake_year"
	KeyPreferredCountries   = "preferred_countries"
	KeyBudget               = "budget"
	KeyCareerGoals          = "career_goals"
	KeySelectedUniversities = "selected_universities"
)

var schema = []Field{
	{Key: KeyName, Label: "Name", Kind: KindString},
	{Key: KeyEmail, Label: "Email", Kind: KindString},
	{Key: KeyBTechCollege, Label: "B.Tech College Name", Kind: KindString},
	{Key: KeyBTechCGPA, Label: "B.Tech CGPA", Kind: KindNumber, Min: 0, Max: 10},
	{Key: KeyBTechCourse, Label: "Course Taken in B.Tech", Kind: KindString},
	{Key: KeyPreferredCourse, Label: "Course of Interest", Kind: KindString},
	{Key: KeyTenthPercentage, Label: "10th Percentage", Kind: KindNumber, Min: 0, Max: 100},
	{Key: KeyTwelfthPercentage, Label: "12th Percentage", Kind: KindNumber, Min: 0, Max: 100},
	{Key: KeyGREScore, Label: "GRE Score", Kind: KindNumber, Min: 0, Max: 340},
	{Key: KeyIELTSScore, Label: "IELTS Score", Kind: KindNumber, Min: 0, Max: 9},
	{Key: KeyProjects, Label: "Relevant Projects/Research Experience", Kind: KindString},
	{Key: KeyAwards, Label: "Awards and Recognition", Kind: KindString},
	{Key: KeyWorkExperience, Label: "Work Experience", Kind: KindString},
	{Key: KeyIntakePeriod, Label: "Preferred Intake Period", Kind: KindChoice, Choices: []string{"February", "September"}},
	{Key: KeyIntakeYear, Label: "Desired Year of Intake", Kind: KindInteger, Min: 2000, Max: 2100},
	{Key: KeyPreferredCountries, Label: "Target Countries", Kind: KindList},
	{Key: KeyBudget, Label: "Budget Constraints", Kind: KindString},
	{Key: KeyCareerGoals, Label: "Career Goals", Kind: KindString},
	{Key: KeySelectedUniversities, Label: "Selected Universities", Kind: KindString},
}

var schemaIndex = func() map[string]Field {
	m := make(map[string]Field, len(schema))
	for _, f := range schema {
		m[f.Key] = f
	}
	return m
}()

// Schema returns the known fields in display order.
func Schema() []Field {
	out := make([]Field, len(schema))
	copy(out, schema)
	return out
}

// Lookup returns the field for key.
func Lookup(key string) (Field, bool) {
	f, ok := schemaIndex[key]
	return f, ok
}

// Keys returns the known keys, sorted.
func Keys() []string {
	keys := make([]string, 0, len(schema))
	for _, f := range schema {
		keys = append(keys, f.Key)
	}
	sort.Strings(keys)
	return keys
}

// Normalize validates value for key and converts it to its stored form:
// string, float64 or []string. Unknown keys are kept as strings or lists.
func Normalize(key string, value any) (any, error) {
	if key == "" {
		return nil, &ValidationError{Field: key, Value: value, Reason: "key cannot be empty"}
	}
	f, ok := Lookup(key)
	if !ok {
		if list, isList := asList(value); isList {
			return list, nil
		}
		s, err := asString(value)
		if err != nil {
			return nil, &ValidationError{Field: key, Value: value, Reason: err.Error()}
		}
		return s, nil
	}

	switch f.Kind {
	case KindNumber, KindInteger:
		n, err := asNumber(value)
		if err != nil {
			return nil, &ValidationError{Field: key, Value: value, Reason: err.Error()}
		}
		if n < f.Min || n > f.Max {
			return nil, &ValidationError{Field: key, Value: value,
				Reason: fmt.Sprintf("must be between %s and %s", FormatNumber(f.Min), FormatNumber(f.Max))}
		}
		if f.Kind == KindInteger && n != math.Trunc(n) {
			return nil, &ValidationError{Field: key, Value: value, Reason: "must be a whole number"}
		}
		return n, nil

	case KindList:
		if list, ok := asList(value); ok {
			return list, nil
		}
		if s, ok := value.(string); ok {
			return splitList(s), nil
		}
		return nil, &ValidationError{Field: key, Value: value, Reason: "must be a list of strings"}

	case KindChoice:
		s, err := asString(value)
		if err != nil {
			return nil, &ValidationError{Field: key, Value: value, Reason: err.Error()}
		}
		for _, c := range f.Choices {
			if strings.EqualFold(s, c) {
				return c, nil
			}
		}
		return nil, &ValidationError{Field: key, Value: value,
			Reason: "must be one of " + strings.Join(f.Choices, ", ")}

	default:
		s, err := asString(value)
		if err != nil {
			return nil, &ValidationError{Field: key, Value: value, Reason: err.Error()}
		}
		return s, nil
	}
}

func asNumber(value any) (float64, error) {
	var n float64
	switch v := value.(type) {
	case float64:
		n = v
	case float32:
		n = float64(v)
	case int:
		n = float64(v)
	case int64:
		n = float64(v)
	case int32:
		n = float64(v)
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, fmt.Errorf("not a number")
		}
		n = f
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, fmt.Errorf("not a number")
		}
		n = f
	default:
		return 0, fmt.Errorf("not a number")
	}
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, fmt.Errorf("not a finite number")
	}
	return n, nil
}

func asString(value any) (string, error) {
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v), nil
	case float64:
		return FormatNumber(v), nil
	case int:
		return strconv.Itoa(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case bool:
		return strconv.FormatBool(v), nil
	case json.Number:
		return v.String(), nil
	default:
		return "", fmt.Errorf("unsupported value type %T", value)
	}
}

func asList(value any) ([]string, bool) {
	switch v := value.(type) {
	case []string:
		out := make([]string, 0, len(v))
		for _, s := range v {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		return out, true
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		return out, true
	}
	return nil, false
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// FormatNumber renders a float without trailing zeros.
func FormatNumber(n float64) string {
	return strconv.FormatFloat(n, 'f', -1, 64)
}
