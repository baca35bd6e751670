package metrics

// label keeps blank values out of the label set so they group under "unknown".
func label(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
