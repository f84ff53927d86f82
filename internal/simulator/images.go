package simulator

import (
	"image"
	"image/color"
	"math"
	"math/rand"
)

// FlowMap renders a vortex around the image centre. Red and green carry the
// x and y components mapped from [-1,1] to [0,255]; phase rotates the field.
// The centre pixel of an odd-sized image is the zero vector.
func FlowMap(width, height int, phase float64) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	cx := float64(width) / 2.0
	cy := float64(height) / 2.0
	radius := math.Max(cx, cy)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			dx := (float64(x) + 0.5 - cx) / radius
			dy := (float64(y) + 0.5 - cy) / radius
			r2 := dx*dx + dy*dy
			strength := 2 * math.Sqrt(r2) * math.Exp(-r2*2)
			angle := math.Atan2(dy, dx) + math.Pi/2 + phase
			vx := math.Cos(angle) * strength
			vy := math.Sin(angle) * strength
			img.SetNRGBA(x, y, color.NRGBA{
				R: unit(vx),
				G: unit(vy),
				B: 0,
				A: 255,
			})
		}
	}
	return img
}

// Frame renders a noisy gradient standing in for a camera capture.
func Frame(width, height int, seed int64) *image.RGBA {
	rng := rand.New(rand.NewSource(seed))
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			base := float64(x+y) / float64(width+height) * 200
			noise := rng.NormFloat64() * 12
			v := clamp(base + noise)
			img.SetRGBA(x, y, color.RGBA{R: v, G: v, B: clamp(base*0.6 + 40), A: 255})
		}
	}
	return img
}

func unit(v float64) uint8 {
	return clamp((v + 1) * 127.5)
}

func clamp(v float64) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}
