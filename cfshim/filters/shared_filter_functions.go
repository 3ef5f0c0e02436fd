package filters

import "strings"

type Filter interface {
	// Filter takes an object, casts it uses preset filters and returns yes/no
	Filter(interface{}) bool
}

// queryParameterMatches passes when the parameter was not given or lists input
func queryParameterMatches(values []string, input string) bool {
	if values == nil {
		return true
	}
	return index(values, input) != -1
}

// index returns the index of a given string in the provided list vs, or -1 if not present
func index(vs []string, input string) int {
	for i, v := range vs {
		if v == input {
			return i
		}
	}
	return -1
}

// SplitQueryParameters breaks comma separated values into separate entries, so
// ?guids=a,b and ?guids=a&guids=b filter the same way
func SplitQueryParameters(queryParameters map[string][]string) map[string][]string {
	split := make(map[string][]string, len(queryParameters))
	for key, values := range queryParameters {
		var all []string
		for _, value := range values {
			all = append(all, strings.Split(value, ",")...)
		}
		split[key] = all
	}
	return split
}
