// Package compositor lays ordered layer images atop each other and
// assembles legend strips. Everything here is pure pixel work: identical
// inputs produce byte-identical outputs.
package compositor

import (
	"image"
	"image/color"
	"image/draw"
)

// Composite alpha-blends the images in order onto the first one's canvas.
// Index 0 is the bottom of the stack (priority 1). Nil entries are
// skipped; an all-nil or empty input returns nil.
func Composite(images []*image.RGBA) *image.RGBA {
	var base *image.RGBA
	for _, img := range images {
		if img == nil {
			continue
		}
		if base == nil {
			b := img.Bounds()
			base = image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
			draw.Draw(base, base.Bounds(), img, b.Min, draw.Src)
			continue
		}
		draw.Draw(base, base.Bounds(), img, img.Bounds().Min, draw.Over)
	}
	return base
}

// StackLegends filters nil legends and stacks the rest vertically. With
// more than one legend each gets a one-pixel black border. When the total
// height exceeds 99% of the view height the strip is scaled down
// proportionally to fit.
func StackLegends(legends []*image.RGBA, viewHeight int) *image.RGBA {
	kept := make([]*image.RGBA, 0, len(legends))
	for _, l := range legends {
		if l != nil {
			kept = append(kept, l)
		}
	}
	if len(kept) == 0 {
		return nil
	}
	if len(kept) > 1 {
		for i, l := range kept {
			kept[i] = withBorder(l)
		}
	}

	width, height := 0, 0
	for _, l := range kept {
		if w := l.Bounds().Dx(); w > width {
			width = w
		}
		height += l.Bounds().Dy()
	}
	strip := image.NewRGBA(image.Rect(0, 0, width, height))
	y := 0
	for _, l := range kept {
		b := l.Bounds()
		dst := image.Rect(0, y, b.Dx(), y+b.Dy())
		draw.Draw(strip, dst, l, b.Min, draw.Src)
		y += b.Dy()
	}

	if viewHeight > 0 {
		if maxH := viewHeight * 99 / 100; height > maxH {
			strip = scale(strip, width*maxH/height, maxH)
		}
	}
	return strip
}

func withBorder(img *image.RGBA) *image.RGBA {
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx()+2, b.Dy()+2))
	black := color.RGBA{A: 255}
	for x := 0; x < out.Bounds().Dx(); x++ {
		out.SetRGBA(x, 0, black)
		out.SetRGBA(x, out.Bounds().Dy()-1, black)
	}
	for y := 0; y < out.Bounds().Dy(); y++ {
		out.SetRGBA(0, y, black)
		out.SetRGBA(out.Bounds().Dx()-1, y, black)
	}
	draw.Draw(out, image.Rect(1, 1, 1+b.Dx(), 1+b.Dy()), img, b.Min, draw.Src)
	return out
}

// scale is nearest-neighbor, deterministic across runs.
func scale(img *image.RGBA, w, h int) *image.RGBA {
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	src := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		sy := src.Min.Y + y*src.Dy()/h
		for x := 0; x < w; x++ {
			sx := src.Min.X + x*src.Dx()/w
			out.SetRGBA(x, y, img.RGBAAt(sx, sy))
		}
	}
	return out
}
