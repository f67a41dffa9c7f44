package sql

import (
	libinjection "github.com/corazawaf/libinjection-go"
)

// InjectionCheckResult describes a parameter value that matched a SQL
// injection pattern.
type InjectionCheckResult struct {
	Fingerprint string
	ParamName   string
}

// CheckParameterForInjection scans a parameter value with libinjection.
// Only string values are scanned; numbers, booleans, and other bound types
// cannot carry injection payloads. Returns nil when the value is clean.
//
// Parameter values are always bound, never spliced into query text, so this
// is defense in depth against payloads that would survive into downstream
// systems, not the primary isolation mechanism.
func CheckParameterForInjection(paramName string, value any) *InjectionCheckResult {
	strValue, ok := value.(string)
	if !ok {
		return nil
	}

	isSQLi, fingerprint := libinjection.IsSQLi(strValue)
	if isSQLi {
		return &InjectionCheckResult{
			Fingerprint: string(fingerprint),
			ParamName:   paramName,
		}
	}
	return nil
}

// CheckAllParameters scans every supplied parameter value and returns one
// result per dirty value. Empty result means all values are clean.
func CheckAllParameters(values map[string]any) []*InjectionCheckResult {
	var results []*InjectionCheckResult
	for name, value := range values {
		if r := CheckParameterForInjection(name, value); r != nil {
			results = append(results, r)
		}
	}
	return results
}
