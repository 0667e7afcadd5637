package images

import (
	"fmt"
	"math"
	"sort"
)

// ResolutionType names a camera resolution standard.
type ResolutionType string

// Resolutions commonly produced by surveillance cameras.
const (
	ResolutionTypeNHD      ResolutionType = "nHD"
	ResolutionTypeHD720p   ResolutionType = "HD 720p"
	ResolutionType1MP54    ResolutionType = "1MP (5:4)"
	ResolutionTypeFHD1080p ResolutionType = "Full HD 1080p"
	ResolutionType2MP43    ResolutionType = "2MP (4:3)"
	ResolutionTypeQHD1440p ResolutionType = "QHD 1440p"
	ResolutionType4MP169   ResolutionType = "4MP (16:9)"
	ResolutionType4KUHD    ResolutionType = "4K UHD"
	ResolutionType12MP     ResolutionType = "12MP (4:3)"
)

// Resolution is a named frame size.
type Resolution struct {
	Name   ResolutionType `json:"name"`
	Width  int            `json:"width"`
	Height int            `json:"height"`
}

// MegaPixels returns the pixel count in millions, rounded to two decimals.
func (r Resolution) MegaPixels() float64 {
	if r.Width <= 0 || r.Height <= 0 {
		return 0
	}
	return math.Round(float64(r.Width*r.Height)/10_000) / 100
}

// String returns a human-readable summary of the resolution.
func (r Resolution) String() string {
	return fmt.Sprintf("%s (%dx%d, %.2fMP)", r.Name, r.Width, r.Height, r.MegaPixels())
}

var resolutions = map[ResolutionType]Resolution{
	ResolutionTypeNHD:      {Name: ResolutionTypeNHD, Width: 640, Height: 360},
	ResolutionTypeHD720p:   {Name: ResolutionTypeHD720p, Width: 1280, Height: 720},
	ResolutionType1MP54:    {Name: ResolutionType1MP54, Width: 1280, Height: 1024},
	ResolutionTypeFHD1080p: {Name: ResolutionTypeFHD1080p, Width: 1920, Height: 1080},
	ResolutionType2MP43:    {Name: ResolutionType2MP43, Width: 1600, Height: 1200},
	ResolutionTypeQHD1440p: {Name: ResolutionTypeQHD1440p, Width: 2560, Height: 1440},
	ResolutionType4MP169:   {Name: ResolutionType4MP169, Width: 2688, Height: 1520},
	ResolutionType4KUHD:    {Name: ResolutionType4KUHD, Width: 3840, Height: 2160},
	ResolutionType12MP:     {Name: ResolutionType12MP, Width: 4000, Height: 3000},
}

// CameraResolutions returns every known resolution ordered by pixel count.
func CameraResolutions() []Resolution {
	all := make([]Resolution, 0, len(resolutions))
	for _, r := range resolutions {
		all = append(all, r)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].Width*all[i].Height < all[j].Width*all[j].Height
	})
	return all
}

// GetResolutionByType looks up a resolution by name.
func GetResolutionByType(t ResolutionType) (Resolution, bool) {
	r, ok := resolutions[t]
	return r, ok
}
