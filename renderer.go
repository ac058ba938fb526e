package main

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/lucasb-eyer/go-colorful"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/gobolditalic"
	"golang.org/x/image/font/gofont/goitalic"
	"golang.org/x/image/font/gofont/gomedium"
	"golang.org/x/image/font/gofont/gomono"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

// Layout places the recipient name on the template. Y is the top of the text;
// X is ignored when Center is set.
type Layout struct {
	X            int     `yaml:"x"`
	Y            int     `yaml:"y" validate:"gte=0"`
	Center       bool    `yaml:"center"`
	Font         string  `yaml:"font" validate:"required"`
	FontSize     float64 `yaml:"font_size" validate:"gt=0"`
	Color        string  `yaml:"color" validate:"required"`
	ShadowOffset int     `yaml:"shadow_offset" validate:"gte=0"`
	ShadowColor  string  `yaml:"shadow_color"`
	ShadowAlpha  uint8   `yaml:"shadow_alpha"`
}

func DefaultLayout() Layout {
	return Layout{
		Y:            580,
		Center:       true,
		Font:         "gobold",
		FontSize:     80,
		Color:        "#0a0a0a",
		ShadowOffset: 2,
		ShadowColor:  "#000000",
		ShadowAlpha:  150,
	}
}

var embeddedFonts = map[string][]byte{
	"goregular":    goregular.TTF,
	"gobold":       gobold.TTF,
	"goitalic":     goitalic.TTF,
	"gobolditalic": gobolditalic.TTF,
	"gomedium":     gomedium.TTF,
	"gomono":       gomono.TTF,
}

// loadFace resolves name as an embedded Go font or a TTF/OTF file path.
func loadFace(name string, size float64) (font.Face, error) {
	data, ok := embeddedFonts[strings.ToLower(name)]
	if !ok {
		b, err := os.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("%w %q: %w", ErrUnknownFont, name, err)
		}
		data = b
	}

	f, err := opentype.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse font %q: %w", name, err)
	}
	return opentype.NewFace(f, &opentype.FaceOptions{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingFull,
	})
}

func parseColor(s string, alpha uint8) (color.NRGBA, error) {
	c, err := colorful.Hex(s)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("parse color %q: %w", s, err)
	}
	r, g, b := c.RGB255()
	return color.NRGBA{R: r, G: g, B: b, A: alpha}, nil
}

// Renderer draws recipient names onto the template. The template is decoded
// for every certificate so no render ever sees another one's pixels.
type Renderer struct {
	templatePath string
	outputDir    string
	layout       Layout
	face         font.Face
	text         color.NRGBA
	shadow       color.NRGBA
	namer        *FileNamer
}

func NewRenderer(templatePath, outputDir string, layout Layout) (*Renderer, error) {
	face, err := loadFace(layout.Font, layout.FontSize)
	if err != nil {
		return nil, err
	}
	text, err := parseColor(layout.Color, 0xff)
	if err != nil {
		face.Close()
		return nil, err
	}
	shadow := color.NRGBA{}
	if layout.ShadowOffset > 0 {
		shadowHex := layout.ShadowColor
		if shadowHex == "" {
			shadowHex = "#000000"
		}
		if shadow, err = parseColor(shadowHex, layout.ShadowAlpha); err != nil {
			face.Close()
			return nil, err
		}
	}

	return &Renderer{
		templatePath: templatePath,
		outputDir:    outputDir,
		layout:       layout,
		face:         face,
		text:         text,
		shadow:       shadow,
		namer:        NewFileNamer(),
	}, nil
}

func (r *Renderer) Close() error {
	return r.face.Close()
}

// LoadTemplate decodes the template image.
func (r *Renderer) LoadTemplate() (image.Image, error) {
	f, err := os.Open(r.templatePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode template %s: %w", r.templatePath, err)
	}
	return img, nil
}

// Render writes the certificate for recipient and returns its path.
func (r *Renderer) Render(recipient Recipient) (string, error) {
	img, err := r.Draw(recipient.Name)
	if err != nil {
		return "", &RenderError{Name: recipient.Name, Err: err}
	}

	if err := os.MkdirAll(r.outputDir, 0o755); err != nil {
		return "", &RenderError{Name: recipient.Name, Err: fmt.Errorf("create output dir: %w", err)}
	}

	path := filepath.Join(r.outputDir, r.namer.Name(recipient)+".png")
	if err := writePNG(path, img); err != nil {
		return "", &RenderError{Name: recipient.Name, Err: err}
	}
	return path, nil
}

// Draw composites name onto a fresh copy of the template, flattened onto white.
func (r *Renderer) Draw(name string) (*image.RGBA, error) {
	tmpl, err := r.LoadTemplate()
	if err != nil {
		return nil, err
	}

	b := tmpl.Bounds()
	canvas := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(canvas, canvas.Bounds(), image.White, image.Point{}, draw.Src)
	draw.Draw(canvas, canvas.Bounds(), tmpl, b.Min, draw.Over)

	text := strings.TrimSpace(name)
	d := &font.Drawer{Dst: canvas, Face: r.face}

	x := fixed.I(r.layout.X)
	if r.layout.Center {
		x = (fixed.I(b.Dx()) - d.MeasureString(text)) / 2
	}
	y := fixed.I(r.layout.Y) + r.face.Metrics().Ascent

	if off := r.layout.ShadowOffset; off > 0 {
		d.Src = image.NewUniform(r.shadow)
		d.Dot = fixed.Point26_6{X: x + fixed.I(off), Y: y + fixed.I(off)}
		d.DrawString(text)
	}

	d.Src = image.NewUniform(r.text)
	d.Dot = fixed.Point26_6{X: x, Y: y}
	d.DrawString(text)

	return canvas, nil
}

// writePNG encodes into a temporary file next to path and renames it, so a
// failed write never leaves a truncated certificate behind.
func writePNG(path string, img image.Image) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".certificate-*.png")
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	if err := png.Encode(tmp, img); err != nil {
		tmp.Close()
		return fmt.Errorf("encode png: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write output file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("write output file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return errors.Join(fmt.Errorf("write output file %s", path), err)
	}
	return nil
}
