package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ProgressFromLegacy translates a stored progress value into Progress.
//
// Older job records stored progress either as an object, as a flat percentage
// number, or not at all. The shim runs once when such a record is loaded; new
// records are always written in the object form.
func ProgressFromLegacy(raw json.RawMessage, files []FileJob) (Progress, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ProgressFromFiles(files), nil
	}

	switch trimmed[0] {
	case '{':
		var legacy struct {
			Total      *int `json:"total"`
			Completed  *int `json:"completed"`
			Failed     *int `json:"failed"`
			Errored    *int `json:"errored"`
			Percentage *int `json:"percentage"`
		}
		if err := json.Unmarshal(trimmed, &legacy); err != nil {
			return Progress{}, fmt.Errorf("%w: malformed progress object: %v", ErrValidation, err)
		}

		p := ProgressFromFiles(files)
		if legacy.Total != nil {
			p.Total = *legacy.Total
		}
		if legacy.Completed != nil {
			p.Completed = *legacy.Completed
		}
		switch {
		case legacy.Failed != nil:
			p.Failed = *legacy.Failed
		case legacy.Errored != nil:
			p.Failed = *legacy.Errored
		}
		p.Percentage = percentage(p.Completed+p.Failed, p.Total)
		if legacy.Percentage != nil && legacy.Total == nil {
			p.Percentage = clampPercent(*legacy.Percentage)
		}
		return p, nil
	default:
		var flat float64
		if err := json.Unmarshal(trimmed, &flat); err != nil {
			return Progress{}, fmt.Errorf("%w: malformed progress value: %v", ErrValidation, err)
		}
		p := ProgressFromFiles(files)
		p.Percentage = clampPercent(int(flat + 0.5))
		return p, nil
	}
}

func clampPercent(v int) int {
	return min(max(v, 0), 100)
}
