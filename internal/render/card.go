// Package render draws the profile card attached to recovery notifications.
package render

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/jpeg"
	"image/png"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	_ "golang.org/x/image/webp"

	xdraw "golang.org/x/image/draw"
)

const (
	cardWidth  = 1264
	cardHeight = 415

	avatarSize = 290
	avatarX    = 40
	avatarY    = 62
	textX      = 370
)

var (
	colBackground  = color.RGBA{0, 0, 0, 255}
	colText        = color.RGBA{255, 255, 255, 255}
	colLabel       = color.RGBA{168, 168, 168, 255}
	colPlaceholder = color.RGBA{38, 38, 38, 255}
	colRing        = color.RGBA{85, 85, 85, 255}
	colButton      = color.RGBA{0, 149, 246, 255}
)

// Card is the data shown on a profile card.
type Card struct {
	Username  string
	Verified  bool
	Followers int64
	Following int64
	Posts     int64
	// Avatar is the encoded profile picture (jpeg, png or webp); nil draws a placeholder.
	Avatar []byte
}

// Render returns the card as PNG. An undecodable avatar falls back to the placeholder.
func Render(c Card) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, cardWidth, cardHeight))
	draw.Draw(img, img.Bounds(), image.NewUniform(colBackground), image.Point{}, draw.Src)

	drawAvatar(img, c.Avatar)

	// header: username, badge, follow button, menu dots
	x := textX
	x += drawText(img, x, 75, c.Username, 4, colText) + 20
	if c.Verified {
		fillCircle(img, x+28, 75+26, 26, colButton)
		drawText(img, x+15, 75+8, "v", 3, colText)
		x += 56 + 20
	}
	btn := image.Rect(x, 77, x+180, 77+56)
	draw.Draw(img, btn, image.NewUniform(colButton), image.Point{}, draw.Src)
	drawText(img, x+(180-6*7*3/2)/2+2, 77+9, "Follow", 3, colText)
	x += 180 + 25
	for i := 0; i < 3; i++ {
		fillCircle(img, x+i*13, 75+28, 4, colText)
	}

	stats := []struct {
		value string
		label string
	}{
		{fmt.Sprint(c.Posts), "posts"},
		{FormatCount(c.Followers), "followers"},
		{fmt.Sprint(c.Following), "following"},
	}
	for i, s := range stats {
		sx := textX + i*290
		drawText(img, sx, 160, s.value, 3, colText)
		drawText(img, sx, 212, s.label, 2, colLabel)
	}
	drawText(img, textX, 275, c.Username, 2, colText)

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode card: %w", err)
	}
	return buf.Bytes(), nil
}

// FormatCount abbreviates large counts: 1234 -> 1.2K, 97000000 -> 97.0M.
func FormatCount(n int64) string {
	switch {
	case n >= 1_000_000:
		return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
	case n >= 1_000:
		return fmt.Sprintf("%.1fK", float64(n)/1_000)
	default:
		return fmt.Sprint(n)
	}
}

func drawAvatar(dst draw.Image, data []byte) {
	r := avatarSize / 2
	cx, cy := avatarX+r, avatarY+r
	if len(data) > 0 {
		if src, _, err := image.Decode(bytes.NewReader(data)); err == nil {
			scaled := image.NewRGBA(image.Rect(0, 0, avatarSize, avatarSize))
			xdraw.CatmullRom.Scale(scaled, scaled.Bounds(), src, src.Bounds(), xdraw.Src, nil)
			area := image.Rect(avatarX, avatarY, avatarX+avatarSize, avatarY+avatarSize)
			draw.DrawMask(dst, area, scaled, image.Point{}, circle{r: r}, image.Point{}, draw.Over)
			return
		}
	}
	fillCircle(dst, cx, cy, r, colRing)
	fillCircle(dst, cx, cy, r-3, colPlaceholder)
}

// drawText renders s with the 7x13 bitmap face scaled by scale and returns the drawn width.
func drawText(dst draw.Image, x, y int, s string, scale int, col color.Color) int {
	if s == "" {
		return 0
	}
	face := basicfont.Face7x13
	d := &font.Drawer{Face: face}
	w := d.MeasureString(s).Ceil()
	h := face.Height
	small := image.NewRGBA(image.Rect(0, 0, w, h))
	d.Dst = small
	d.Src = image.NewUniform(col)
	d.Dot = fixed.P(0, face.Ascent)
	d.DrawString(s)

	target := image.Rect(x, y, x+w*scale, y+h*scale)
	xdraw.ApproxBiLinear.Scale(dst, target, small, small.Bounds(), xdraw.Over, nil)
	return w * scale
}

func fillCircle(dst draw.Image, cx, cy, r int, col color.Color) {
	area := image.Rect(cx-r, cy-r, cx+r, cy+r)
	draw.DrawMask(dst, area, image.NewUniform(col), image.Point{}, circle{r: r}, image.Point{}, draw.Over)
}

// circle is an alpha mask of a filled disc inside a 2r x 2r square.
type circle struct{ r int }

func (c circle) ColorModel() color.Model { return color.AlphaModel }

func (c circle) Bounds() image.Rectangle { return image.Rect(0, 0, 2*c.r, 2*c.r) }

func (c circle) At(x, y int) color.Color {
	dx := float64(x-c.r) + 0.5
	dy := float64(y-c.r) + 0.5
	if dx*dx+dy*dy <= float64(c.r*c.r) {
		return color.Alpha{A: 255}
	}
	return color.Alpha{}
}
