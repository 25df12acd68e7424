package events

// ArtifactGeneratedData is emitted when a factor or map file is written.
type ArtifactGeneratedData struct {
	Kind   string `json:"kind"` // "factor" or "map"
	Ticker string `json:"ticker"`
	Rows   int    `json:"rows"`
	Reason string `json:"reason"` // "full", "refresh", "minimal"
}

// EventType returns the event type for ArtifactGeneratedData
func (d *ArtifactGeneratedData) EventType() EventType {
	if d.Kind == "map" {
		return MapFileGenerated
	}
	return FactorFileGenerated
}

// CoarseGeneratedData is emitted after a coarse universe file is written.
type CoarseGeneratedData struct {
	Date       string  `json:"date"`
	Rows       int     `json:"rows"`
	Skipped    int     `json:"skipped"`
	MeanDollar float64 `json:"mean_dollar_volume"`
}

// EventType returns the event type for CoarseGeneratedData
func (d *CoarseGeneratedData) EventType() EventType {
	return CoarseGenerated
}

// FilingsRefreshedData is emitted when a ticker's filing cache is reloaded
// from upstream.
type FilingsRefreshedData struct {
	Ticker  string `json:"ticker"`
	Filings int    `json:"filings"`
	Source  string `json:"source"` // "disk" or "upstream"
}

// EventType returns the event type for FilingsRefreshedData
func (d *FilingsRefreshedData) EventType() EventType {
	return FilingsRefreshed
}
