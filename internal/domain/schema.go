package domain

// MeasureInfo describes one measure of a table.
type MeasureInfo struct {
	Name       string   `json:"name"`
	Type       string   `json:"type"`
	Dimensions []string `json:"dimensions"`
}

// SelectableValue is an option offered by a schema picker.
type SelectableValue struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// MetricFindValue is one value returned for a template variable query.
type MetricFindValue struct {
	Text string `json:"text"`
}
