package config

// FlattenSettings normalizes integration settings into the flat map shape
// adapters expect. Source configurations store credentials either as a flat
// object or as a key/value array under "credentials"; both forms produce the
// same result. Top-level keys win over credential-array entries with the
// same name.
func FlattenSettings(settings map[string]interface{}) map[string]interface{} {
	flat := make(map[string]interface{}, len(settings))

	if creds, ok := settings["credentials"].([]interface{}); ok {
		for _, item := range creds {
			entry, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			key, _ := entry["key"].(string)
			if key == "" {
				continue
			}
			flat[key] = entry["value"]
		}
	}

	for k, v := range settings {
		if k == "credentials" {
			if nested, ok := v.(map[string]interface{}); ok {
				for ck, cv := range nested {
					flat[ck] = cv
				}
			}
			continue
		}
		flat[k] = v
	}

	return flat
}
