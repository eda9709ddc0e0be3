package compositor

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"
)

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func encode(t *testing.T, img *image.RGBA) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestComposite_OpaqueTopWins(t *testing.T) {
	bottom := solid(4, 4, color.RGBA{R: 255, A: 255})
	top := solid(4, 4, color.RGBA{B: 255, A: 255})
	got := Composite([]*image.RGBA{bottom, top})
	if got.RGBAAt(2, 2) != (color.RGBA{B: 255, A: 255}) {
		t.Fatalf("pixel = %+v", got.RGBAAt(2, 2))
	}
}

func TestComposite_TransparentTopShowsBottom(t *testing.T) {
	bottom := solid(4, 4, color.RGBA{R: 255, A: 255})
	top := solid(4, 4, color.RGBA{}) // fully transparent
	got := Composite([]*image.RGBA{bottom, top})
	if got.RGBAAt(1, 1) != (color.RGBA{R: 255, A: 255}) {
		t.Fatalf("pixel = %+v", got.RGBAAt(1, 1))
	}
}

func TestComposite_SemiTransparentBlends(t *testing.T) {
	bottom := solid(2, 2, color.RGBA{R: 255, A: 255})
	top := solid(2, 2, color.RGBA{B: 128, A: 128})
	got := Composite([]*image.RGBA{bottom, top})
	px := got.RGBAAt(0, 0)
	if px.A != 255 {
		t.Fatalf("alpha = %d", px.A)
	}
	if px.R == 0 || px.R == 255 || px.B == 0 {
		t.Fatalf("no blend happened: %+v", px)
	}
}

func TestComposite_NilsSkippedAndBaseUntouched(t *testing.T) {
	bottom := solid(2, 2, color.RGBA{R: 255, A: 255})
	got := Composite([]*image.RGBA{nil, bottom, nil})
	if got == nil || got.RGBAAt(0, 0) != (color.RGBA{R: 255, A: 255}) {
		t.Fatalf("got %+v", got)
	}
	// The input image is copied, not aliased.
	got.SetRGBA(0, 0, color.RGBA{})
	if bottom.RGBAAt(0, 0) != (color.RGBA{R: 255, A: 255}) {
		t.Fatal("composite mutated its input")
	}
}

func TestComposite_EmptyInput(t *testing.T) {
	if Composite(nil) != nil {
		t.Fatal("want nil for empty input")
	}
	if Composite([]*image.RGBA{nil, nil}) != nil {
		t.Fatal("want nil for all-nil input")
	}
}

func TestComposite_Deterministic(t *testing.T) {
	imgs := []*image.RGBA{
		solid(8, 8, color.RGBA{R: 200, A: 255}),
		solid(8, 8, color.RGBA{G: 100, A: 120}),
		solid(8, 8, color.RGBA{B: 50, A: 60}),
	}
	a := encode(t, Composite(imgs))
	b := encode(t, Composite(imgs))
	if !bytes.Equal(a, b) {
		t.Fatal("identical stacks produced different bytes")
	}
}

func TestStackLegends_SingleNoBorder(t *testing.T) {
	legend := solid(8, 24, color.RGBA{G: 255, A: 255})
	got := StackLegends([]*image.RGBA{legend, nil}, 600)
	if got == nil {
		t.Fatal("legend dropped")
	}
	if got.Bounds().Dx() != 8 || got.Bounds().Dy() != 24 {
		t.Fatalf("bounds = %v, single legend must stay unbordered", got.Bounds())
	}
}

func TestStackLegends_MultipleBorderedAndStacked(t *testing.T) {
	a := solid(8, 24, color.RGBA{G: 255, A: 255})
	b := solid(6, 10, color.RGBA{B: 255, A: 255})
	got := StackLegends([]*image.RGBA{a, b}, 600)
	// Borders add 2px each way: widths 10 and 8, heights 26 and 12.
	if got.Bounds().Dx() != 10 || got.Bounds().Dy() != 38 {
		t.Fatalf("bounds = %v", got.Bounds())
	}
	if got.RGBAAt(0, 0) != (color.RGBA{A: 255}) {
		t.Fatalf("corner = %+v, want black border", got.RGBAAt(0, 0))
	}
	if got.RGBAAt(1, 1) != (color.RGBA{G: 255, A: 255}) {
		t.Fatalf("interior = %+v", got.RGBAAt(1, 1))
	}
}

func TestStackLegends_AllNil(t *testing.T) {
	if StackLegends([]*image.RGBA{nil, nil}, 600) != nil {
		t.Fatal("want nil")
	}
}

func TestStackLegends_TallStripScaledToView(t *testing.T) {
	legend := solid(10, 500, color.RGBA{R: 255, A: 255})
	got := StackLegends([]*image.RGBA{legend}, 100)
	if got.Bounds().Dy() > 99 {
		t.Fatalf("height = %d, want scaled under 99%% of view", got.Bounds().Dy())
	}
	if got.RGBAAt(0, 0) != (color.RGBA{R: 255, A: 255}) {
		t.Fatalf("scaled pixel = %+v", got.RGBAAt(0, 0))
	}
}
