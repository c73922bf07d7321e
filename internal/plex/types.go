package plex

// Metadata is the subset of a Plex metadata entry this service consumes:
// duration chain, artwork paths and playable media parts.
type Metadata struct {
	RatingKey string  `json:"ratingKey"`
	Title     string  `json:"title"`
	Thumb     string  `json:"thumb"`
	Art       string  `json:"art"`
	Duration  float64 `json:"duration"` // milliseconds
	Media     []Media `json:"Media"`
}

type Media struct {
	Duration float64 `json:"duration"` // milliseconds
	Part     []Part  `json:"Part"`
}

type Part struct {
	Key      string  `json:"key"`
	File     string  `json:"file"`
	Duration float64 `json:"duration"` // milliseconds
}

type mediaContainer struct {
	MediaContainer struct {
		Metadata []Metadata `json:"Metadata"`
	} `json:"MediaContainer"`
}

// durationMs walks the metadata duration chain the same way the library
// reports it: entry, then first media, then first part.
func (m *Metadata) durationMs() float64 {
	if m.Duration > 0 {
		return m.Duration
	}
	if len(m.Media) > 0 {
		if m.Media[0].Duration > 0 {
			return m.Media[0].Duration
		}
		if len(m.Media[0].Part) > 0 && m.Media[0].Part[0].Duration > 0 {
			return m.Media[0].Part[0].Duration
		}
	}
	return 0
}
