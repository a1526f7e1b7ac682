package util

// GetString reads a string-typed field out of a loosely-typed JSON body
// (the request bodies buildRequestContext peeks at to extract a model name
// have no fixed schema across services, so they're decoded into a
// map[string]any rather than a struct).
func GetString(m map[string]interface{}, key string) string {
	if val, ok := m[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}
