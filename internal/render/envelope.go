package render

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log"
	"math"
	"strconv"

	"github.com/satindergrewal/wavecue/internal/clips"
	"github.com/satindergrewal/wavecue/internal/tempo"
)

// Overlaps reports whether clip c touches the section [start, end). The test
// is inclusive at both ends: a clip that ends exactly where the section starts
// still counts, it just contributes no samples.
func Overlaps(c clips.Clip, start, end float64) bool {
	return c.Start <= start && c.End >= end || // section inside clip
		c.Start >= start && c.End <= end || // clip inside section
		c.Start <= start && c.End >= start && c.End <= end || // clip ends inside section
		c.Start >= start && c.Start <= end && c.End >= end // clip starts inside section
}

// Overlapping filters all to the clips touching [start, end), keeping order.
func Overlapping(all []clips.Clip, start, end float64) []clips.Clip {
	var out []clips.Clip
	for _, c := range all {
		if Overlaps(c, start, end) {
			out = append(out, c)
		}
	}
	return out
}

// Fingerprint captures every input that determines a section's envelope.
func Fingerprint(start, end float64, overlapping []clips.Clip) string {
	h := sha256.New()
	buf := make([]byte, 0, 64)
	num := func(v float64) {
		buf = strconv.AppendFloat(buf[:0], v, 'g', -1, 64)
		buf = append(buf, ',')
		h.Write(buf)
	}

	num(start)
	num(end)
	for _, c := range overlapping {
		h.Write([]byte(strconv.Quote(c.Source)))
		num(c.Start)
		num(c.End)
		num(c.StartMarker)
		h.Write([]byte{'['})
		for _, m := range c.WarpMarkers {
			num(m.BeatTime)
			num(m.SampleTime)
		}
		h.Write([]byte{']'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

type warpedClip struct {
	clips.Clip
	warp tempo.Map
}

// Envelope computes a section's payload: resolution segment maxima followed by
// resolution segment minima, each scaled by resolution/2. Segments with no
// samples from any clip are (0, 0). Clips with unusable warp markers are left
// out of this section and logged.
func Envelope(ctx context.Context, start, end float64, overlapping []clips.Clip, resolution int) ([]int32, error) {
	usable := make([]warpedClip, 0, len(overlapping))
	for _, c := range overlapping {
		m, err := tempo.New(c.WarpMarkers)
		if err != nil {
			log.Printf("Skipping clip %q in section [%v, %v): %v", c.Name, start, end, err)
			continue
		}
		if c.Audio == nil {
			continue
		}
		usable = append(usable, warpedClip{Clip: c, warp: m})
	}

	payload := make([]int32, 2*resolution)
	width := end - start
	for seg := 0; seg < resolution; seg++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		segStart := start + width*float64(seg)/float64(resolution)
		segEnd := start + width*float64(seg+1)/float64(resolution)

		lo, hi := float32(math.Inf(1)), float32(math.Inf(-1))
		count := 0
		for _, c := range usable {
			if segStart >= c.End || segEnd <= c.Start {
				continue
			}
			relStart := math.Max(segStart-c.Start+c.StartMarker, c.StartMarker)
			relEnd := math.Min(segEnd-c.Start+c.StartMarker, c.End-c.Start+c.StartMarker)
			samples := c.Audio.Window(c.warp.SampleTime(relStart), c.warp.SampleTime(relEnd))
			for _, s := range samples {
				if s > hi {
					hi = s
				}
				if s < lo {
					lo = s
				}
			}
			count += len(samples)
		}
		if count == 0 {
			continue
		}

		payload[seg] = scale(hi, resolution)
		payload[seg+resolution] = scale(lo, resolution)
	}
	return payload, nil
}

// scale maps a sample to display units, rounding halves toward +Inf.
func scale(v float32, resolution int) int32 {
	return int32(math.Floor(float64(v)*float64(resolution)/2 + 0.5))
}
